// Package service implements the engine core: one inbound text in, one reply
// out, with all session, rate-limit and dispatch bookkeeping in between. The
// service itself is stateless; everything it touches is injected.
package service

import (
	"context"

	"github.com/oldvoice/oldvoice/internal/adapter/sms"
	"github.com/oldvoice/oldvoice/internal/adapter/telegram"
	"github.com/oldvoice/oldvoice/internal/adapter/voice"
	"github.com/oldvoice/oldvoice/internal/cache"
	"github.com/oldvoice/oldvoice/internal/config"
	"github.com/oldvoice/oldvoice/internal/dialogue"
	"github.com/oldvoice/oldvoice/internal/domain"
	"github.com/oldvoice/oldvoice/internal/session"
	"github.com/oldvoice/oldvoice/internal/store"
	"github.com/oldvoice/oldvoice/policy"
)

// VoiceDialer places outbound calls. Satisfied by voice.Client.
type VoiceDialer interface {
	CreateCallForRequest(ctx context.Context, req *domain.CallRequest) (*voice.DispatchResult, error)
	GetCall(ctx context.Context, callID string) (*voice.CallDetails, error)
}

// Messenger pushes an unsolicited outbound message to an identity. The
// synchronous webhook reply does not go through this; call notifications and
// recording links do.
type Messenger interface {
	Send(ctx context.Context, identity, body string) error
}

type Service struct {
	store        store.Store
	sessions     *session.Store
	limiter      *cache.RateLimiter
	locker       *cache.Locker
	dialogue     dialogue.Definition
	voiceClient  VoiceDialer
	messenger    Messenger
	policyEngine *policy.Engine
	config       *config.Config
}

func New(store store.Store, sessions *session.Store, limiter *cache.RateLimiter, locker *cache.Locker, def dialogue.Definition, voiceClient VoiceDialer, messenger Messenger, policyEngine *policy.Engine, cfg *config.Config) *Service {
	return &Service{
		store:        store,
		sessions:     sessions,
		limiter:      limiter,
		locker:       locker,
		dialogue:     def,
		voiceClient:  voiceClient,
		messenger:    messenger,
		policyEngine: policyEngine,
		config:       cfg,
	}
}

// ProviderMessenger routes outbound messages by identity shape: Telegram
// identities go to the Bot API, everything else is a phone number and goes
// out as SMS.
type ProviderMessenger struct {
	SMS      *sms.Client
	Telegram *telegram.Client
}

func (m *ProviderMessenger) Send(ctx context.Context, identity, body string) error {
	if chatID, ok := telegram.ChatID(identity); ok {
		return m.Telegram.SendMessage(ctx, chatID, body)
	}
	return m.SMS.Send(ctx, identity, body)
}
