// Package http provides the HTTP server for the OldVoice engine.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/oldvoice/oldvoice/internal/service"
	"github.com/oldvoice/oldvoice/internal/transport/http/webhooks"
)

// NewServer creates and configures the HTTP server. All inbound traffic is
// provider webhooks plus the admin and health endpoints.
func NewServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Handlers
	webhookHandler := webhooks.NewHandler(svc)

	// Register Routes
	webhookHandler.RegisterRoutes(e)

	return e
}
