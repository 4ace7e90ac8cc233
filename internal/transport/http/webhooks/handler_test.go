package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/oldvoice/oldvoice/internal/adapter/voice"
	"github.com/oldvoice/oldvoice/internal/cache"
	"github.com/oldvoice/oldvoice/internal/config"
	"github.com/oldvoice/oldvoice/internal/dialogue"
	"github.com/oldvoice/oldvoice/internal/domain"
	"github.com/oldvoice/oldvoice/internal/service"
	"github.com/oldvoice/oldvoice/internal/session"
	"github.com/oldvoice/oldvoice/internal/store"
	"github.com/oldvoice/oldvoice/policy"
)

type fakeDialer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeDialer) CreateCallForRequest(ctx context.Context, req *domain.CallRequest) (*voice.DispatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &voice.DispatchResult{
		AssistantID: fmt.Sprintf("asst_%d", f.calls),
		CallID:      fmt.Sprintf("call_%d", f.calls),
	}, nil
}

func (f *fakeDialer) GetCall(ctx context.Context, callID string) (*voice.CallDetails, error) {
	return &voice.CallDetails{Status: "ended"}, nil
}

type fakeMessenger struct{}

func (fakeMessenger) Send(ctx context.Context, identity, body string) error { return nil }

func newTestServer(t *testing.T) (*echo.Echo, store.Store, *fakeDialer) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to build policy engine: %v", err)
	}

	dialer := &fakeDialer{}
	sessions := session.NewStore(cache.NewSessionCache(client, time.Hour), db, time.Hour)
	svc := service.New(db, sessions, cache.NewRateLimiter(client, 50, time.Hour),
		cache.NewLocker(client), dialogue.Default(), dialer, fakeMessenger{}, engine,
		&config.Config{SessionTTL: time.Hour})

	e := echo.New()
	NewHandler(svc).RegisterRoutes(e)
	return e, db, dialer
}

func postForm(e *echo.Echo, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func postJSON(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestTwilioSMSRepliesTwiML(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := postForm(e, "/api/twilio/sms", url.Values{
		"From": {"+15551230000"},
		"Body": {"hello"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.Contains(ct, "text/xml") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Response><Message>") {
		t.Fatalf("not twiml: %s", body)
	}
	if !strings.Contains(body, "name of the person") {
		t.Fatalf("reply did not open the dialogue: %s", body)
	}
}

func TestTwilioSMSMissingFrom(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := postForm(e, "/api/twilio/sms", url.Values{"Body": {"hello"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTelegramWebhookRepliesInline(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := postJSON(e, "/api/telegram/webhook",
		`{"message":{"chat":{"id":42},"text":"hello"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var reply map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("undecodable reply: %v", err)
	}
	if reply["method"] != "sendMessage" || reply["chat_id"] != float64(42) {
		t.Fatalf("unexpected reply envelope: %+v", reply)
	}
	text, _ := reply["text"].(string)
	if !strings.Contains(text, "name of the person") {
		t.Fatalf("reply did not open the dialogue: %q", text)
	}
}

func TestTelegramWebhookAcknowledgesUnusableUpdates(t *testing.T) {
	e, _, _ := newTestServer(t)

	for _, body := range []string{`{}`, `{"message":{"chat":{"id":42}}}`, `not json`} {
		rec := postJSON(e, "/api/telegram/webhook", body)
		assert.Equal(t, http.StatusOK, rec.Code, "update %q", body)
	}
}

func TestTelegramAndSMSIdentitiesAreSeparate(t *testing.T) {
	e, db, _ := newTestServer(t)
	ctx := context.Background()

	postForm(e, "/api/twilio/sms", url.Values{"From": {"+15551230000"}, "Body": {"start"}})
	postJSON(e, "/api/telegram/webhook", `{"message":{"chat":{"id":42},"text":"start"}}`)

	smsUser, err := db.GetOrCreateUser(ctx, "+15551230000")
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}
	tgUser, err := db.GetOrCreateUser(ctx, "telegram_42")
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}
	if smsUser.ID == tgUser.ID {
		t.Fatal("channels share a user record")
	}
}

func seedDispatchedRequest(t *testing.T, db store.Store, e *echo.Echo) *domain.CallRequest {
	t.Helper()
	ctx := context.Background()

	user, err := db.GetOrCreateUser(ctx, "+15551230000")
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}
	req := &domain.CallRequest{
		ID:               "cr_test",
		UserID:           user.ID,
		StorytellerName:  "Grandma Rose",
		StorytellerPhone: "+14025705917",
		Data:             domain.NewDialogueData(),
		Status:           domain.CallRequestStatusPending,
		ScheduledFor:     time.Now().Add(-time.Minute),
	}
	if err := db.CreateCallRequest(ctx, req); err != nil {
		t.Fatalf("CreateCallRequest failed: %v", err)
	}

	rec := postJSON(e, "/api/admin/process-pending", `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("process-pending status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return req
}

func TestProcessPendingDispatchesDueRequests(t *testing.T) {
	e, db, dialer := newTestServer(t)

	seedDispatchedRequest(t, db, e)

	if dialer.calls != 1 {
		t.Fatalf("dialer calls = %d, want 1", dialer.calls)
	}
	stored, err := db.GetCallRequest(context.Background(), "cr_test")
	if err != nil {
		t.Fatalf("GetCallRequest failed: %v", err)
	}
	if stored.Status != domain.CallRequestStatusProcessing {
		t.Fatalf("status = %q, want processing", stored.Status)
	}
}

func TestVapiEndOfCallReportCompletesRequest(t *testing.T) {
	e, db, _ := newTestServer(t)
	ctx := context.Background()

	req := seedDispatchedRequest(t, db, e)

	rec := postJSON(e, "/api/vapi/webhook", `{
		"message": {
			"type": "end-of-call-report",
			"call": {"id": "call_1"},
			"durationSeconds": 540,
			"artifact": {
				"recordingUrl": "https://cdn.example.com/rec.mp3",
				"transcript": "We talked about the farm."
			}
		}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	stored, err := db.GetCallRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetCallRequest failed: %v", err)
	}
	if stored.Status != domain.CallRequestStatusCompleted {
		t.Fatalf("status = %q, want completed", stored.Status)
	}
	if stored.RecordingURL != "https://cdn.example.com/rec.mp3" {
		t.Fatalf("recording = %q", stored.RecordingURL)
	}

	user, err := db.GetOrCreateUser(ctx, "+15551230000")
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}
	if user.TotalRecordings != 1 {
		t.Fatalf("total recordings = %d, want 1", user.TotalRecordings)
	}
}

func TestVapiStatusUpdateMarksFailure(t *testing.T) {
	e, db, _ := newTestServer(t)

	req := seedDispatchedRequest(t, db, e)

	rec := postJSON(e, "/api/vapi/webhook", `{
		"message": {
			"type": "status-update",
			"call": {"id": "call_1"},
			"status": "no-answer"
		}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	stored, err := db.GetCallRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetCallRequest failed: %v", err)
	}
	if stored.Status != domain.CallRequestStatusFailed {
		t.Fatalf("status = %q, want failed", stored.Status)
	}
}

func TestVapiWebhookRejectsMissingCallID(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := postJSON(e, "/api/vapi/webhook", `{"message":{"type":"status-update"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
