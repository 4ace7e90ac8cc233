package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oldvoice/oldvoice/internal/domain"
)

// dispatchDelay gives the synchronous webhook reply a head start before the
// first outbound notification for an immediate call.
const dispatchDelay = time.Second

func (s *Service) logMessage(ctx context.Context, identity string, direction domain.MessageDirection, body string) {
	err := s.store.LogMessage(ctx, &domain.MessageLogEntry{
		Identity:  identity,
		Direction: direction,
		Body:      body,
	})
	if err != nil {
		// The audit log is best effort; losing an entry must not block replies.
		log.Printf("failed to log %s message for %s: %v", direction, identity, err)
	}
}

// completeSession turns a confirmed dialogue into exactly one call request,
// marks the session completed and kicks off dispatch when the call is due
// immediately.
func (s *Service) completeSession(ctx context.Context, user *domain.User, sess *domain.Session, data *domain.DialogueData) string {
	now := time.Now()
	scheduledFor := resolveSchedule(data.ScheduledTime, now)

	req := &domain.CallRequest{
		ID:               "cr_" + uuid.NewString(),
		UserID:           user.ID,
		StorytellerName:  data.Storyteller.Name,
		StorytellerPhone: data.Storyteller.Phone,
		Data:             data,
		Status:           domain.CallRequestStatusPending,
		ScheduledFor:     scheduledFor,
	}
	if err := s.store.CreateCallRequest(ctx, req); err != nil {
		log.Printf("failed to create call request for session %d: %v", sess.ID, err)
		return apologyText
	}

	if err := s.sessions.Terminate(ctx, sess, domain.StateCompleted); err != nil {
		// The call request exists; the dialogue is done even if the session
		// record lags behind.
		log.Printf("failed to complete session %d: %v", sess.ID, err)
	}

	if !scheduledFor.After(now) {
		go func() {
			time.Sleep(dispatchDelay)
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := s.ProcessCallRequest(ctx, req.ID); err != nil {
				log.Printf("failed to dispatch call request %s: %v", req.ID, err)
			}
		}()
		return fmt.Sprintf("🎉 All set! I'm calling %s right now. You'll get a message when the recording is ready.", req.StorytellerName)
	}

	return fmt.Sprintf("🎉 All set! I'll call %s at %s. You'll get a message when the recording is ready.",
		req.StorytellerName, scheduledFor.Format("3:04 PM"))
}

// resolveSchedule maps the collected schedule to an absolute instant.
// Unparseable leftovers dial immediately rather than never.
func resolveSchedule(scheduled string, now time.Time) time.Time {
	if scheduled == "" || scheduled == domain.ScheduleNow {
		return now
	}
	if t, err := time.Parse(time.RFC3339, scheduled); err == nil {
		return t
	}

	cleaned := strings.ToUpper(strings.TrimSpace(scheduled))
	for _, layout := range []string{"3:04 PM", "3:04PM", "15:04"} {
		t, err := time.Parse(layout, cleaned)
		if err != nil {
			continue
		}
		resolved := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if !resolved.After(now) {
			resolved = resolved.Add(24 * time.Hour)
		}
		return resolved
	}
	return now
}

// ProcessCallRequest dispatches one pending call request: policy gate, then
// assistant and call creation. Non-pending requests are skipped, so repeated
// dispatch of the same id is harmless.
func (s *Service) ProcessCallRequest(ctx context.Context, id string) error {
	req, err := s.store.GetCallRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load call request: %w", err)
	}
	if req == nil {
		return fmt.Errorf("call request %s not found", id)
	}
	if req.Status != domain.CallRequestStatusPending {
		return nil
	}

	allowed, reason, err := s.policyEngine.AllowsCall(ctx, req.StorytellerPhone, req.UserID)
	if err != nil {
		return fmt.Errorf("dial policy evaluation failed: %w", err)
	}
	if !allowed {
		log.Printf("dial policy blocked call request %s (%s): %s", req.ID, req.StorytellerPhone, reason)
		if err := s.store.UpdateCallRequestStatus(ctx, req.ID, domain.CallRequestStatusFailed); err != nil {
			return fmt.Errorf("failed to mark blocked request: %w", err)
		}
		s.notifyUser(ctx, req.UserID,
			fmt.Sprintf("I wasn't able to call %s: that number can't be dialed. Text 'start' to set up a different call.", req.StorytellerName))
		return nil
	}

	if err := s.store.MarkCallRequestCalling(ctx, req.ID, time.Now()); err != nil {
		return fmt.Errorf("failed to mark request calling: %w", err)
	}

	result, err := s.voiceClient.CreateCallForRequest(ctx, req)
	if err != nil {
		log.Printf("call dispatch failed for request %s: %v", req.ID, err)
		if markErr := s.store.UpdateCallRequestStatus(ctx, req.ID, domain.CallRequestStatusFailed); markErr != nil {
			log.Printf("failed to mark request %s failed: %v", req.ID, markErr)
		}
		s.notifyUser(ctx, req.UserID,
			fmt.Sprintf("I couldn't reach %s just now. I'll keep the details; text 'start' to try again.", req.StorytellerName))
		return fmt.Errorf("failed to place call: %w", err)
	}

	if err := s.store.UpdateCallRequestDispatched(ctx, req.ID, result.AssistantID, result.CallID); err != nil {
		return fmt.Errorf("failed to record dispatch: %w", err)
	}

	s.notifyUser(ctx, req.UserID,
		fmt.Sprintf("📞 Calling %s now! I'll send you the recording when the conversation is done.", req.StorytellerName))
	return nil
}

// ProcessDueCallRequests dispatches every pending request whose scheduled
// time has arrived. Returns how many were attempted.
func (s *Service) ProcessDueCallRequests(ctx context.Context) (int, error) {
	due, err := s.store.ListDueCallRequests(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to list due call requests: %w", err)
	}
	for i := range due {
		if err := s.ProcessCallRequest(ctx, due[i].ID); err != nil {
			log.Printf("failed to process due call request %s: %v", due[i].ID, err)
		}
	}
	return len(due), nil
}

// CompleteCallFromReport finalizes a call once the provider reports it ended:
// artifacts are persisted, the user's recording count bumps and they get the
// link.
func (s *Service) CompleteCallFromReport(ctx context.Context, callID, recordingURL, transcript string, durationSeconds int) error {
	req, err := s.store.GetCallRequestByCallID(ctx, callID)
	if err != nil {
		return fmt.Errorf("failed to load call request: %w", err)
	}
	if req == nil {
		return fmt.Errorf("no call request for call %s", callID)
	}
	if req.Status == domain.CallRequestStatusCompleted {
		return nil
	}

	if recordingURL == "" {
		// Some report events omit artifacts; ask the provider directly.
		details, err := s.voiceClient.GetCall(ctx, callID)
		if err != nil {
			log.Printf("failed to fetch artifacts for call %s: %v", callID, err)
		} else {
			recordingURL = details.RecordingURL
			if transcript == "" {
				transcript = details.Transcript
			}
			if durationSeconds == 0 {
				durationSeconds = details.DurationSeconds
			}
		}
	}

	if err := s.store.CompleteCallRequest(ctx, req.ID, recordingURL, transcript, durationSeconds, time.Now()); err != nil {
		return fmt.Errorf("failed to complete call request: %w", err)
	}
	if err := s.store.IncrementUserRecordings(ctx, req.UserID); err != nil {
		log.Printf("failed to bump recording count for user %d: %v", req.UserID, err)
	}

	msg := fmt.Sprintf("🎁 Your conversation with %s is ready!", req.StorytellerName)
	if recordingURL != "" {
		msg += " Listen here: " + recordingURL
	}
	s.notifyUser(ctx, req.UserID, msg)
	return nil
}

// RecordTranscript stores a transcript update for an in-flight call.
func (s *Service) RecordTranscript(ctx context.Context, callID, transcript string) error {
	req, err := s.store.GetCallRequestByCallID(ctx, callID)
	if err != nil {
		return fmt.Errorf("failed to load call request: %w", err)
	}
	if req == nil {
		return fmt.Errorf("no call request for call %s", callID)
	}
	return s.store.UpdateCallRequestTranscript(ctx, req.ID, transcript)
}

// MarkCallFailed records a call that ended without a conversation.
func (s *Service) MarkCallFailed(ctx context.Context, callID, reason string) error {
	req, err := s.store.GetCallRequestByCallID(ctx, callID)
	if err != nil {
		return fmt.Errorf("failed to load call request: %w", err)
	}
	if req == nil {
		return fmt.Errorf("no call request for call %s", callID)
	}
	if req.Status == domain.CallRequestStatusCompleted || req.Status == domain.CallRequestStatusFailed {
		return nil
	}
	log.Printf("call %s for request %s failed: %s", callID, req.ID, reason)
	if err := s.store.UpdateCallRequestStatus(ctx, req.ID, domain.CallRequestStatusFailed); err != nil {
		return fmt.Errorf("failed to mark request failed: %w", err)
	}
	s.notifyUser(ctx, req.UserID,
		fmt.Sprintf("I couldn't complete the call with %s. Text 'start' to try again.", req.StorytellerName))
	return nil
}

// CleanupExpiredSessions removes long-dead session rows from the durable
// tier. Expiry itself is decided at read time; this only reclaims space.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	// Rows are kept for a grace period past expiry for debugging.
	cutoff := time.Now().Add(-24 * time.Hour)
	return s.store.DeleteExpiredSessions(ctx, cutoff)
}

func (s *Service) notifyUser(ctx context.Context, userID int64, body string) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		log.Printf("failed to resolve user %d for notification: %v", userID, err)
		return
	}
	s.logMessage(ctx, user.Identity, domain.DirectionOutbound, body)
	if err := s.messenger.Send(ctx, user.Identity, body); err != nil {
		log.Printf("failed to notify %s: %v", user.Identity, err)
	}
}
