package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/oldvoice/oldvoice/internal/domain"
)

// lockTTL bounds how long a crashed handler can block an identity.
const lockTTL = 30 * time.Second

const (
	apologyText = "Sorry, something went wrong. Please try again."

	welcomeText = "Welcome to OldVoice! I help you record meaningful conversations with your loved ones. " +
		"Text 'start' to set one up."

	helpText = "OldVoice commands:\n" +
		"• 'start' - set up a new recorded call\n" +
		"• 'status' - check your current setup\n" +
		"• 'reset' - start the setup over\n" +
		"• 'cancel' - cancel the current setup"

	cancelledText = "No problem! Your setup has been cancelled. Text 'start' anytime to begin again."

	nothingToCancelText = "There's no setup in progress. Text 'start' to begin one."

	resetText = "Your setup has been reset. Text 'start' to begin a new one."

	rateLimitedText = "You've sent too many messages. Please wait a while and try again."

	restartText = "Sorry, something went wrong with your setup. Text 'start' to begin again."
)

// HandleIncoming processes one inbound text and returns the reply to send
// back on the same channel. It never fails outward; internal errors are
// logged and surfaced to the user as an apology.
func (s *Service) HandleIncoming(ctx context.Context, identity, body string) string {
	s.logMessage(ctx, identity, domain.DirectionInbound, body)

	reply := s.respond(ctx, identity, body)

	s.logMessage(ctx, identity, domain.DirectionOutbound, reply)
	return reply
}

func (s *Service) respond(ctx context.Context, identity, body string) string {
	limit, err := s.limiter.Check(ctx, identity)
	if err != nil {
		// A broken limiter must not silence users; fail open.
		log.Printf("rate limit check failed for %s: %v", identity, err)
	} else if !limit.Allowed {
		return rateLimitedText
	}

	user, err := s.store.GetOrCreateUser(ctx, identity)
	if err != nil {
		log.Printf("failed to resolve user %s: %v", identity, err)
		return apologyText
	}

	// Two deliveries for the same identity must not interleave their
	// read-modify-write of the session.
	unlock, err := s.locker.Lock(ctx, identity, lockTTL)
	if err != nil {
		log.Printf("failed to lock identity %s: %v", identity, err)
		return apologyText
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			log.Printf("failed to unlock identity %s: %v", identity, err)
		}
	}()

	input := strings.TrimSpace(body)
	keyword := strings.ToLower(input)

	sess, err := s.sessions.Get(ctx, identity, user.ID)
	if err != nil {
		log.Printf("failed to load session for %s: %v", identity, err)
		return apologyText
	}

	// Control keywords outrank an in-progress dialogue: reset and the start
	// keywords always win, so the user can re-enter the front door at any
	// point.
	switch keyword {
	case "reset", "restart", "start over":
		if sess != nil {
			if err := s.sessions.Terminate(ctx, sess, domain.StateCancelled); err != nil {
				log.Printf("failed to cancel session %d on reset: %v", sess.ID, err)
				return apologyText
			}
		}
		return resetText
	case "start", "begin", "hello", "hi", "hey":
		if sess != nil {
			if err := s.sessions.Terminate(ctx, sess, domain.StateCancelled); err != nil {
				log.Printf("failed to supersede session %d: %v", sess.ID, err)
				return apologyText
			}
		}
		return s.startSession(ctx, user)
	case "cancel", "stop":
		if sess == nil {
			return nothingToCancelText
		}
		if err := s.sessions.Terminate(ctx, sess, domain.StateCancelled); err != nil {
			log.Printf("failed to cancel session %d: %v", sess.ID, err)
			return apologyText
		}
		return cancelledText
	}

	if sess == nil {
		switch keyword {
		case "help":
			return helpText
		case "status":
			return s.statusReply(user)
		}
		return welcomeText
	}

	return s.advance(ctx, user, sess, input)
}

func (s *Service) startSession(ctx context.Context, user *domain.User) string {
	sess, err := s.sessions.Create(ctx, user.ID, user.Identity)
	if err != nil {
		log.Printf("failed to create session for %s: %v", user.Identity, err)
		return apologyText
	}
	return s.dialogue.Prompt(sess.State, sess.Data)
}

func (s *Service) statusReply(user *domain.User) string {
	if user.TotalRecordings > 0 {
		return fmt.Sprintf("You have %d recorded conversations. Text 'start' to set up another.", user.TotalRecordings)
	}
	return "No setup in progress. Text 'start' to begin."
}

// advance runs one dialogue step: validate, fold the answer into the data,
// pick the successor state and reply with its prompt. Terminal successors
// finish the session instead.
func (s *Service) advance(ctx context.Context, user *domain.User, sess *domain.Session, input string) string {
	if !s.dialogue.ValidateInput(sess.State, input, sess.Data) {
		return s.dialogue.ErrorText(sess.State)
	}

	data := sess.Data
	s.dialogue.TransformInput(sess.State, input, data)

	next, ok := s.dialogue.NextState(sess.State, input)
	if !ok {
		// An unmapped transition is fatal to the session; stranding the user
		// in it would swallow every further message.
		log.Printf("session %d has no transition from state %q (input %q)", sess.ID, sess.State, input)
		if err := s.sessions.Terminate(ctx, sess, domain.StateCancelled); err != nil {
			log.Printf("failed to cancel stuck session %d: %v", sess.ID, err)
		}
		return restartText
	}

	switch next {
	case domain.StateCompleted:
		return s.completeSession(ctx, user, sess, data)
	case domain.StateCancelled:
		if err := s.sessions.Terminate(ctx, sess, domain.StateCancelled); err != nil {
			log.Printf("failed to cancel session %d: %v", sess.ID, err)
			return apologyText
		}
		return cancelledText
	}

	if err := s.sessions.Update(ctx, sess, next, data); err != nil {
		log.Printf("failed to advance session %d: %v", sess.ID, err)
		return apologyText
	}
	return s.dialogue.Prompt(next, data)
}
