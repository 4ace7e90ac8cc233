// Package webhooks provides the HTTP handlers for inbound provider traffic:
// Twilio SMS, Telegram updates and voice-call lifecycle events.
package webhooks

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/oldvoice/oldvoice/internal/adapter/sms"
	"github.com/oldvoice/oldvoice/internal/adapter/telegram"
	"github.com/oldvoice/oldvoice/internal/service"
)

// Handler handles webhook requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers webhook routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/twilio/sms", h.TwilioSMS)
	e.POST("/api/telegram/webhook", h.TelegramWebhook)
	e.POST("/api/vapi/webhook", h.VapiWebhook)

	e.POST("/api/admin/process-pending", h.ProcessPending)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "oldvoice",
	})
}

// TwilioSMS handles an inbound SMS. The reply rides back on the webhook
// response as TwiML.
// POST /api/twilio/sms
func (h *Handler) TwilioSMS(c echo.Context) error {
	from := c.FormValue("From")
	body := c.FormValue("Body")
	if from == "" {
		return c.String(http.StatusBadRequest, "missing From")
	}

	reply := h.service.HandleIncoming(c.Request().Context(), from, body)
	return c.Blob(http.StatusOK, "text/xml", []byte(sms.FormatTwiML(reply)))
}

// telegramUpdate is the slice of the Bot API update we care about.
type telegramUpdate struct {
	Message struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// TelegramWebhook handles a Bot API update. The reply rides back on the
// webhook response as a sendMessage call. Telegram redelivers on non-200, so
// updates we cannot use are acknowledged and dropped.
// POST /api/telegram/webhook
func (h *Handler) TelegramWebhook(c echo.Context) error {
	var update telegramUpdate
	if err := c.Bind(&update); err != nil {
		log.Printf("undecodable telegram update: %v", err)
		return c.NoContent(http.StatusOK)
	}
	if update.Message.Chat.ID == 0 || update.Message.Text == "" {
		return c.NoContent(http.StatusOK)
	}

	identity := telegram.Identity(update.Message.Chat.ID)
	reply := h.service.HandleIncoming(c.Request().Context(), identity, update.Message.Text)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"method":  "sendMessage",
		"chat_id": update.Message.Chat.ID,
		"text":    reply,
	})
}

// vapiEvent is the slice of the provider's webhook payload we care about.
type vapiEvent struct {
	Message struct {
		Type string `json:"type"`
		Call struct {
			ID string `json:"id"`
		} `json:"call"`
		Status       string `json:"status"`
		EndedReason  string `json:"endedReason"`
		Transcript   string `json:"transcript"`
		RecordingURL string `json:"recordingUrl"`
		DurationSec  int    `json:"durationSeconds"`
		Artifact     struct {
			RecordingURL string `json:"recordingUrl"`
			Transcript   string `json:"transcript"`
		} `json:"artifact"`
	} `json:"message"`
}

// VapiWebhook handles call lifecycle events from the voice provider.
// POST /api/vapi/webhook
func (h *Handler) VapiWebhook(c echo.Context) error {
	var event vapiEvent
	if err := c.Bind(&event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	msg := event.Message
	if msg.Call.ID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing call id"})
	}
	ctx := c.Request().Context()

	switch msg.Type {
	case "end-of-call-report":
		recording := msg.RecordingURL
		if recording == "" {
			recording = msg.Artifact.RecordingURL
		}
		transcript := msg.Transcript
		if transcript == "" {
			transcript = msg.Artifact.Transcript
		}
		if err := h.service.CompleteCallFromReport(ctx, msg.Call.ID, recording, transcript, msg.DurationSec); err != nil {
			log.Printf("failed to complete call %s: %v", msg.Call.ID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}

	case "status-update":
		switch msg.Status {
		case "failed", "no-answer", "busy":
			reason := msg.EndedReason
			if reason == "" {
				reason = msg.Status
			}
			if err := h.service.MarkCallFailed(ctx, msg.Call.ID, reason); err != nil {
				log.Printf("failed to mark call %s failed: %v", msg.Call.ID, err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
			}
		}

	case "transcript":
		if msg.Transcript != "" {
			if err := h.service.RecordTranscript(ctx, msg.Call.ID, msg.Transcript); err != nil {
				log.Printf("failed to record transcript for call %s: %v", msg.Call.ID, err)
			}
		}
	}

	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// ProcessPending dispatches every due call request immediately instead of
// waiting for the next sweep.
// POST /api/admin/process-pending
func (h *Handler) ProcessPending(c echo.Context) error {
	n, err := h.service.ProcessDueCallRequests(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":        true,
		"processed": n,
	})
}
