// Package voice provides the HTTP client for the outbound voice-call provider.
// Each dispatched call pairs a purpose-built interview assistant with a phone
// call to the storyteller.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oldvoice/oldvoice/internal/domain"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.vapi.ai"

// Client is an HTTP client for the voice-call provider.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	phoneNumberID string
}

// NewClient creates a voice client. An empty baseURL selects the production
// endpoint; tests point it at a local server.
func NewClient(baseURL, apiKey, phoneNumberID string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		apiKey:        apiKey,
		phoneNumberID: phoneNumberID,
	}
}

// DispatchResult identifies the provider-side resources created for a call.
type DispatchResult struct {
	AssistantID string
	CallID      string
}

// CallDetails is the provider's view of a finished or in-flight call.
type CallDetails struct {
	Status          string
	RecordingURL    string
	Transcript      string
	DurationSeconds int
}

type assistantResponse struct {
	ID string `json:"id"`
}

type callResponse struct {
	ID string `json:"id"`
}

type callDetailsResponse struct {
	Status   string `json:"status"`
	Artifact struct {
		RecordingURL string `json:"recordingUrl"`
		Transcript   string `json:"transcript"`
	} `json:"artifact"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt"`
}

// stylePrompts maps the collected interview style to the assistant's manner.
var stylePrompts = map[string]string{
	"warm":         "Be warm, gentle, and encouraging. Give the storyteller plenty of time and react with genuine interest.",
	"professional": "Be courteous and well organized. Keep the interview moving while staying respectful of the storyteller's pace.",
	"curious":      "Be playful and curious. Ask natural follow-up questions when an answer hints at a bigger story.",
}

// BuildSystemPrompt composes the interviewer instructions from everything the
// dialogue collected.
func BuildSystemPrompt(req *domain.CallRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a friendly interviewer recording life stories. You are calling %s", req.StorytellerName)
	if rel := req.Data.Storyteller.Relationship; rel != "" {
		fmt.Fprintf(&b, ", the %s of the person who arranged this call", rel)
	}
	b.WriteString(".\n\n")

	style := stylePrompts[req.Data.AIStyle]
	if style == "" {
		style = stylePrompts["warm"]
	}
	b.WriteString(style)
	b.WriteString("\n")

	if p := req.Data.Storyteller.Personality; p != "" {
		fmt.Fprintf(&b, "\nAbout them: %s\n", p)
	}
	if bg := req.Data.Storyteller.Background; bg != "" {
		fmt.Fprintf(&b, "\nBackground: %s\n", bg)
	}

	if len(req.Data.Questions) > 0 {
		b.WriteString("\nTopics to cover:\n")
		for i, q := range req.Data.Questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}

	if len(req.Data.AvoidTopics) > 0 {
		b.WriteString("\nDo not bring up these topics:\n")
		for _, topic := range req.Data.AvoidTopics {
			fmt.Fprintf(&b, "- %s\n", topic)
		}
	}

	b.WriteString("\nIntroduce yourself, explain that a loved one arranged the call, and ask if now is a good time before starting.")
	return b.String()
}

// CreateAssistant provisions an interview assistant for the request.
func (c *Client) CreateAssistant(ctx context.Context, req *domain.CallRequest) (string, error) {
	body := map[string]interface{}{
		"name": fmt.Sprintf("Interview: %s", req.StorytellerName),
		"model": map[string]interface{}{
			"provider": "openai",
			"model":    "gpt-4o",
			"messages": []map[string]string{
				{"role": "system", "content": BuildSystemPrompt(req)},
			},
		},
		"firstMessage": fmt.Sprintf("Hello, is this %s?", req.StorytellerName),
		"recordingEnabled": true,
	}

	var resp assistantResponse
	if err := c.post(ctx, "/assistant", body, &resp); err != nil {
		return "", fmt.Errorf("failed to create assistant: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("provider returned assistant without id")
	}
	return resp.ID, nil
}

// CreateCall starts an outbound call from the configured number.
func (c *Client) CreateCall(ctx context.Context, assistantID, phone string) (string, error) {
	body := map[string]interface{}{
		"assistantId":   assistantID,
		"phoneNumberId": c.phoneNumberID,
		"customer": map[string]string{
			"number": phone,
		},
	}

	var resp callResponse
	if err := c.post(ctx, "/call", body, &resp); err != nil {
		return "", fmt.Errorf("failed to create call: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("provider returned call without id")
	}
	return resp.ID, nil
}

// CreateCallForRequest provisions an assistant and dials the storyteller.
func (c *Client) CreateCallForRequest(ctx context.Context, req *domain.CallRequest) (*DispatchResult, error) {
	assistantID, err := c.CreateAssistant(ctx, req)
	if err != nil {
		return nil, err
	}
	callID, err := c.CreateCall(ctx, assistantID, req.StorytellerPhone)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{AssistantID: assistantID, CallID: callID}, nil
}

// GetCall fetches call status and artifacts.
func (c *Client) GetCall(ctx context.Context, callID string) (*CallDetails, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/call/"+callID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var raw callDetailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode call: %w", err)
	}

	details := &CallDetails{
		Status:       raw.Status,
		RecordingURL: raw.Artifact.RecordingURL,
		Transcript:   raw.Artifact.Transcript,
	}
	if raw.StartedAt != "" && raw.EndedAt != "" {
		started, errS := time.Parse(time.RFC3339, raw.StartedAt)
		ended, errE := time.Parse(time.RFC3339, raw.EndedAt)
		if errS == nil && errE == nil && ended.After(started) {
			details.DurationSeconds = int(ended.Sub(started).Seconds())
		}
	}
	return details, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
