package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oldvoice/oldvoice/internal/adapter/sms"
	"github.com/oldvoice/oldvoice/internal/adapter/telegram"
	"github.com/oldvoice/oldvoice/internal/adapter/voice"
	"github.com/oldvoice/oldvoice/internal/cache"
	"github.com/oldvoice/oldvoice/internal/config"
	"github.com/oldvoice/oldvoice/internal/dialogue"
	"github.com/oldvoice/oldvoice/internal/service"
	"github.com/oldvoice/oldvoice/internal/session"
	"github.com/oldvoice/oldvoice/internal/store"
	handler "github.com/oldvoice/oldvoice/internal/transport/http"
	"github.com/oldvoice/oldvoice/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting OldVoice...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Redis: %s", cfg.RedisAddr)

	// Initialize durable store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize Redis-backed tiers
	redisClient := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	sessions := session.NewStore(cache.NewSessionCache(redisClient, cfg.SessionTTL), db, cfg.SessionTTL)
	limiter := cache.NewRateLimiter(redisClient, int64(cfg.RateLimitMax), cfg.RateLimitWindow)
	locker := cache.NewLocker(redisClient)

	// Initialize outbound clients
	voiceClient := voice.NewClient(cfg.VapiBaseURL, cfg.VapiAPIKey, cfg.VapiPhoneNumberID)
	messenger := &service.ProviderMessenger{
		SMS:      sms.NewClient("", cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber),
		Telegram: telegram.NewClient("", cfg.TelegramBotToken),
	}

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize service
	svc := service.New(db, sessions, limiter, locker, dialogue.Default(),
		voiceClient, messenger, policyEngine, cfg)

	// Background sweeps: scheduled call dispatch and session cleanup
	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	go svc.RunSweeps(sweepCtx)

	// Create HTTP server
	server := handler.NewServer(svc)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("OldVoice started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down OldVoice...")

	stopSweeps()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("OldVoice stopped")
}
