package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oldvoice/oldvoice/internal/domain"
)

func testCallRequest() *domain.CallRequest {
	data := domain.NewDialogueData()
	data.Storyteller.Name = "Grandma Rose"
	data.Storyteller.Phone = "+14025705917"
	data.Storyteller.Relationship = "grandmother"
	data.Storyteller.Personality = "a warm person who loves to laugh"
	data.Storyteller.Background = "born in 1930, grew up on a farm"
	data.Questions = []string{"What was your childhood like?"}
	data.AvoidTopics = []string{"the war"}
	data.AIStyle = "warm"

	return &domain.CallRequest{
		ID:               "cr_test",
		UserID:           1,
		StorytellerName:  "Grandma Rose",
		StorytellerPhone: "+14025705917",
		Data:             data,
		Status:           domain.CallRequestStatusPending,
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(testCallRequest())

	for _, want := range []string{
		"Grandma Rose",
		"grandmother",
		"born in 1930",
		"1. What was your childhood like?",
		"- the war",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if !strings.Contains(prompt, "warm") {
		t.Fatalf("warm style not reflected:\n%s", prompt)
	}
}

func TestBuildSystemPromptDefaultsStyle(t *testing.T) {
	req := testCallRequest()
	req.Data.AIStyle = "unrecognized"

	if !strings.Contains(BuildSystemPrompt(req), stylePrompts["warm"]) {
		t.Fatal("unknown style did not fall back to warm")
	}
}

func TestCreateCallForRequest(t *testing.T) {
	var gotAssistant, gotCall map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		switch r.URL.Path {
		case "/assistant":
			if err := json.NewDecoder(r.Body).Decode(&gotAssistant); err != nil {
				t.Errorf("bad assistant body: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "asst_1"})
		case "/call":
			if err := json.NewDecoder(r.Body).Decode(&gotCall); err != nil {
				t.Errorf("bad call body: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "call_1"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "pn_1")
	result, err := client.CreateCallForRequest(context.Background(), testCallRequest())
	if err != nil {
		t.Fatalf("CreateCallForRequest failed: %v", err)
	}
	if result.AssistantID != "asst_1" || result.CallID != "call_1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	if gotCall["assistantId"] != "asst_1" {
		t.Fatalf("call not bound to created assistant: %+v", gotCall)
	}
	if gotCall["phoneNumberId"] != "pn_1" {
		t.Fatalf("call missing outbound number: %+v", gotCall)
	}
	customer, _ := gotCall["customer"].(map[string]interface{})
	if customer["number"] != "+14025705917" {
		t.Fatalf("call not directed at storyteller: %+v", gotCall)
	}
}

func TestCreateCallProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid phone"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "pn_1")
	if _, err := client.CreateCallForRequest(context.Background(), testCallRequest()); err == nil {
		t.Fatal("expected error from provider failure")
	}
}

func TestGetCall(t *testing.T) {
	started := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	ended := started.Add(9 * time.Minute)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/call/call_1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ended",
			"artifact": map[string]string{
				"recordingUrl": "https://cdn.example.com/rec.mp3",
				"transcript":   "It was a wonderful childhood.",
			},
			"startedAt": started.Format(time.RFC3339),
			"endedAt":   ended.Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "pn_1")
	details, err := client.GetCall(context.Background(), "call_1")
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if details.Status != "ended" {
		t.Fatalf("status = %q", details.Status)
	}
	if details.RecordingURL != "https://cdn.example.com/rec.mp3" {
		t.Fatalf("recording = %q", details.RecordingURL)
	}
	if details.DurationSeconds != 540 {
		t.Fatalf("duration = %d, want 540", details.DurationSeconds)
	}
}
