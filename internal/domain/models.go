package domain

import "time"

// User is one durable record per identity. Created lazily on first contact,
// never deleted.
type User struct {
	ID              int64     `json:"id"`
	Identity        string    `json:"identity"`
	TotalRecordings int       `json:"total_recordings"`
	CreatedAt       time.Time `json:"created_at"`
}

// Session is a dialogue in progress for one identity. At most one active
// (non-terminal, non-expired) session exists per identity.
type Session struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"user_id"`
	Identity  string        `json:"identity"`
	State     SessionState  `json:"state"`
	Data      *DialogueData `json:"data"`
	ExpiresAt time.Time     `json:"expires_at"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Active reports whether the session can still accept input at the given
// instant. Expiry is decided by timestamp comparison, not by physical
// deletion of the record.
func (s *Session) Active(now time.Time) bool {
	return s != nil && !s.State.Terminal() && now.Before(s.ExpiresAt)
}

// CallRequest is the work item produced exactly once when a dialogue
// completes. It outlives the session that created it.
type CallRequest struct {
	ID               string            `json:"id"`
	UserID           int64             `json:"user_id"`
	StorytellerName  string            `json:"storyteller_name"`
	StorytellerPhone string            `json:"storyteller_phone"`
	Data             *DialogueData     `json:"form_data"`
	Status           CallRequestStatus `json:"status"`
	ScheduledFor     time.Time         `json:"scheduled_for"`
	CalledAt         *time.Time        `json:"called_at,omitempty"`
	AssistantID      string            `json:"assistant_id,omitempty"`
	CallID           string            `json:"call_id,omitempty"`
	RecordingURL     string            `json:"recording_url,omitempty"`
	Transcript       string            `json:"transcript,omitempty"`
	DurationSeconds  int               `json:"duration_seconds,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// MessageLogEntry is an append-only audit record of one inbound or outbound
// text. Write-only from the engine's perspective.
type MessageLogEntry struct {
	ID        int64            `json:"id"`
	Identity  string           `json:"identity"`
	Direction MessageDirection `json:"direction"`
	Body      string           `json:"body"`
	CreatedAt time.Time        `json:"created_at"`
}
