// Package store defines the durable storage interface and its SQLite
// implementation. The durable tier is authoritative: it alone survives cache
// eviction and restarts.
package store

import (
	"context"
	"time"

	"github.com/oldvoice/oldvoice/internal/domain"
)

// Store defines the durable persistence operations the engine requires.
type Store interface {
	// User operations
	GetOrCreateUser(ctx context.Context, identity string) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	IncrementUserRecordings(ctx context.Context, userID int64) error

	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetActiveSession(ctx context.Context, userID int64, now time.Time) (*domain.Session, error)
	UpdateSession(ctx context.Context, sessionID int64, state domain.SessionState, data *domain.DialogueData, expiresAt time.Time) error
	MarkSessionState(ctx context.Context, sessionID int64, state domain.SessionState) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Call request operations
	CreateCallRequest(ctx context.Context, req *domain.CallRequest) error
	GetCallRequest(ctx context.Context, id string) (*domain.CallRequest, error)
	GetCallRequestByCallID(ctx context.Context, callID string) (*domain.CallRequest, error)
	UpdateCallRequestStatus(ctx context.Context, id string, status domain.CallRequestStatus) error
	MarkCallRequestCalling(ctx context.Context, id string, calledAt time.Time) error
	UpdateCallRequestDispatched(ctx context.Context, id string, assistantID, callID string) error
	UpdateCallRequestDuration(ctx context.Context, id string, durationSeconds int) error
	UpdateCallRequestTranscript(ctx context.Context, id string, transcript string) error
	CompleteCallRequest(ctx context.Context, id string, recordingURL, transcript string, durationSeconds int, completedAt time.Time) error
	ListDueCallRequests(ctx context.Context, now time.Time) ([]domain.CallRequest, error)

	// Message log (append-only, never read back by the engine)
	LogMessage(ctx context.Context, entry *domain.MessageLogEntry) error

	// Lifecycle
	Close() error
}
