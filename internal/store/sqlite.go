package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oldvoice/oldvoice/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity TEXT NOT NULL UNIQUE,
			total_recordings INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			identity TEXT NOT NULL,
			state TEXT NOT NULL,
			current_data TEXT,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, expires_at)`,
		`CREATE TABLE IF NOT EXISTS call_requests (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			storyteller_name TEXT NOT NULL,
			storyteller_phone TEXT NOT NULL,
			form_data TEXT,
			status TEXT NOT NULL,
			scheduled_for DATETIME NOT NULL,
			called_at DATETIME,
			assistant_id TEXT,
			call_id TEXT,
			recording_url TEXT,
			transcript TEXT,
			duration_seconds INTEGER,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_requests_due ON call_requests(status, scheduled_for)`,
		`CREATE INDEX IF NOT EXISTS idx_call_requests_call ON call_requests(call_id)`,
		`CREATE TABLE IF NOT EXISTS message_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity TEXT NOT NULL,
			direction TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_log_identity ON message_log(identity, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrCreateUser returns the user owning the identity, creating the record
// lazily on first contact.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, identity string) (*domain.User, error) {
	user, err := s.getUserByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (identity, created_at) VALUES (?, ?)`,
		identity, now)
	if err != nil {
		// Another writer may have raced us on the unique identity.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return s.getUserByIdentity(ctx, identity)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.User{ID: id, Identity: identity, CreatedAt: now}, nil
}

func (s *SQLiteStore) getUserByIdentity(ctx context.Context, identity string) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, identity, total_recordings, created_at FROM users WHERE identity = ?`,
		identity).Scan(&user.ID, &user.Identity, &user.TotalRecordings, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID retrieves a user by primary key.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, identity, total_recordings, created_at FROM users WHERE id = ?`,
		id).Scan(&user.ID, &user.Identity, &user.TotalRecordings, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// IncrementUserRecordings bumps the completed-dialogue counter.
func (s *SQLiteStore) IncrementUserRecordings(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET total_recordings = total_recordings + 1 WHERE id = ?`,
		userID)
	return err
}

// CreateSession inserts a new session and backfills its assigned id.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, identity, state, current_data, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.UserID, session.Identity, session.State, string(data), session.ExpiresAt, now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	session.ID = id
	session.CreatedAt = now
	session.UpdatedAt = now
	return nil
}

// GetActiveSession returns the newest non-terminal, non-expired session owned
// by the user, or nil. Expiry is decided by timestamp comparison; stale rows
// may still be physically present.
func (s *SQLiteStore) GetActiveSession(ctx context.Context, userID int64, now time.Time) (*domain.Session, error) {
	var session domain.Session
	var data sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, identity, state, current_data, expires_at, created_at, updated_at
		 FROM sessions
		 WHERE user_id = ? AND expires_at > ? AND state NOT IN (?, ?)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, now, domain.StateCompleted, domain.StateCancelled).
		Scan(&session.ID, &session.UserID, &session.Identity, &session.State, &data,
			&session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if data.Valid {
		var blob domain.DialogueData
		if err := json.Unmarshal([]byte(data.String), &blob); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
		}
		session.Data = &blob
	}
	return &session, nil
}

// UpdateSession persists a new (state, data) pair and refreshes the expiry.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID int64, state domain.SessionState, data *domain.DialogueData, expiresAt time.Time) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, current_data = ?, expires_at = ?, updated_at = ? WHERE id = ?`,
		state, string(blob), expiresAt, time.Now(), sessionID)
	return err
}

// MarkSessionState moves a session into a (typically terminal) state without
// touching its data or expiry.
func (s *SQLiteStore) MarkSessionState(ctx context.Context, sessionID int64, state domain.SessionState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`,
		state, time.Now(), sessionID)
	return err
}

// DeleteExpiredSessions removes sessions past their expiry and reports how
// many were deleted.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateCallRequest inserts a new call request.
func (s *SQLiteStore) CreateCallRequest(ctx context.Context, req *domain.CallRequest) error {
	data, err := json.Marshal(req.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal form data: %w", err)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO call_requests (id, user_id, storyteller_name, storyteller_phone, form_data, status, scheduled_for, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, req.StorytellerName, req.StorytellerPhone, string(data),
		req.Status, req.ScheduledFor, req.CreatedAt)
	return err
}

// GetCallRequest retrieves a call request by id.
func (s *SQLiteStore) GetCallRequest(ctx context.Context, id string) (*domain.CallRequest, error) {
	return s.getCallRequest(ctx, `WHERE id = ?`, id)
}

// GetCallRequestByCallID retrieves a call request by the external call id.
func (s *SQLiteStore) GetCallRequestByCallID(ctx context.Context, callID string) (*domain.CallRequest, error) {
	return s.getCallRequest(ctx, `WHERE call_id = ?`, callID)
}

func (s *SQLiteStore) getCallRequest(ctx context.Context, where string, arg interface{}) (*domain.CallRequest, error) {
	var req domain.CallRequest
	var data, assistantID, callID, recordingURL, transcript sql.NullString
	var calledAt, completedAt sql.NullTime
	var duration sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, storyteller_name, storyteller_phone, form_data, status, scheduled_for,
		        called_at, assistant_id, call_id, recording_url, transcript, duration_seconds, created_at, completed_at
		 FROM call_requests `+where,
		arg).Scan(&req.ID, &req.UserID, &req.StorytellerName, &req.StorytellerPhone, &data,
		&req.Status, &req.ScheduledFor, &calledAt, &assistantID, &callID,
		&recordingURL, &transcript, &duration, &req.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if data.Valid {
		var blob domain.DialogueData
		if err := json.Unmarshal([]byte(data.String), &blob); err != nil {
			return nil, fmt.Errorf("failed to unmarshal form data: %w", err)
		}
		req.Data = &blob
	}
	if calledAt.Valid {
		req.CalledAt = &calledAt.Time
	}
	if assistantID.Valid {
		req.AssistantID = assistantID.String
	}
	if callID.Valid {
		req.CallID = callID.String
	}
	if recordingURL.Valid {
		req.RecordingURL = recordingURL.String
	}
	if transcript.Valid {
		req.Transcript = transcript.String
	}
	if duration.Valid {
		req.DurationSeconds = int(duration.Int64)
	}
	if completedAt.Valid {
		req.CompletedAt = &completedAt.Time
	}
	return &req, nil
}

// UpdateCallRequestStatus updates only the status of a call request.
func (s *SQLiteStore) UpdateCallRequestStatus(ctx context.Context, id string, status domain.CallRequestStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE call_requests SET status = ? WHERE id = ?`,
		status, id)
	return err
}

// MarkCallRequestCalling records the moment downstream dialing begins.
func (s *SQLiteStore) MarkCallRequestCalling(ctx context.Context, id string, calledAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE call_requests SET status = ?, called_at = ? WHERE id = ?`,
		domain.CallRequestStatusCalling, calledAt, id)
	return err
}

// UpdateCallRequestDispatched stores the external ids once the call is placed.
func (s *SQLiteStore) UpdateCallRequestDispatched(ctx context.Context, id string, assistantID, callID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE call_requests SET status = ?, assistant_id = ?, call_id = ? WHERE id = ?`,
		domain.CallRequestStatusProcessing, assistantID, callID, id)
	return err
}

// UpdateCallRequestDuration records the call length reported at hangup.
func (s *SQLiteStore) UpdateCallRequestDuration(ctx context.Context, id string, durationSeconds int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE call_requests SET status = ?, duration_seconds = ? WHERE id = ?`,
		domain.CallRequestStatusProcessing, durationSeconds, id)
	return err
}

// UpdateCallRequestTranscript stores the transcript as soon as it is ready.
func (s *SQLiteStore) UpdateCallRequestTranscript(ctx context.Context, id string, transcript string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE call_requests SET transcript = ? WHERE id = ?`,
		transcript, id)
	return err
}

// CompleteCallRequest finalizes a call request with its recording artifacts.
func (s *SQLiteStore) CompleteCallRequest(ctx context.Context, id string, recordingURL, transcript string, durationSeconds int, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE call_requests SET status = ?, recording_url = ?, transcript = ?, duration_seconds = ?, completed_at = ? WHERE id = ?`,
		domain.CallRequestStatusCompleted, recordingURL, transcript, durationSeconds, completedAt, id)
	return err
}

// ListDueCallRequests returns pending requests whose scheduled time has
// arrived, oldest first.
func (s *SQLiteStore) ListDueCallRequests(ctx context.Context, now time.Time) ([]domain.CallRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM call_requests WHERE status = ? AND scheduled_for <= ? ORDER BY scheduled_for ASC`,
		domain.CallRequestStatusPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []domain.CallRequest
	for _, id := range ids {
		req, err := s.GetCallRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		if req != nil {
			out = append(out, *req)
		}
	}
	return out, nil
}

// LogMessage appends one audit record. Failures are the caller's problem to
// swallow; the log must never gate a reply.
func (s *SQLiteStore) LogMessage(ctx context.Context, entry *domain.MessageLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_log (identity, direction, body, created_at) VALUES (?, ?, ?, ?)`,
		entry.Identity, entry.Direction, entry.Body, time.Now())
	return err
}
