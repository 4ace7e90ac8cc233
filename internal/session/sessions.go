// Package session combines the Redis cache tier and the durable store into
// one resumable session store. Reads consult the cache first and fall back to
// the durable tier; writes go to both. The durable tier wins whenever the two
// disagree.
package session

import (
	"context"
	"log"
	"time"

	"github.com/oldvoice/oldvoice/internal/cache"
	"github.com/oldvoice/oldvoice/internal/dialogue"
	"github.com/oldvoice/oldvoice/internal/domain"
	"github.com/oldvoice/oldvoice/internal/store"
)

// Store is the two-tier session store.
type Store struct {
	cache *cache.SessionCache
	db    store.Store
	ttl   time.Duration
}

// NewStore creates a session store with the given TTL. Every write to either
// tier refreshes expiry to now+TTL.
func NewStore(c *cache.SessionCache, db store.Store, ttl time.Duration) *Store {
	return &Store{cache: c, db: db, ttl: ttl}
}

// Get resolves the identity's active session, or nil. A cache hit is returned
// directly unless it has gone terminal or expired; on a miss the durable tier
// is consulted and, if it holds a live session, the cache is repopulated.
func (s *Store) Get(ctx context.Context, identity string, userID int64) (*domain.Session, error) {
	now := time.Now()

	cached, err := s.cache.Get(ctx, identity)
	if err != nil {
		// A broken cache tier must not take sessions down with it.
		log.Printf("session cache read failed for %s: %v", identity, err)
	} else if cached != nil {
		if cached.Active(now) {
			return cached, nil
		}
		// Stale entry; drop it rather than resurrect a dead session.
		if err := s.cache.Delete(ctx, identity); err != nil {
			log.Printf("failed to evict stale session for %s: %v", identity, err)
		}
		return nil, nil
	}

	durable, err := s.db.GetActiveSession(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if durable == nil {
		return nil, nil
	}
	if err := s.cache.Set(ctx, identity, durable); err != nil {
		log.Printf("failed to repopulate session cache for %s: %v", identity, err)
	}
	return durable, nil
}

// Create starts a fresh session in the dialogue's start state and writes it
// to both tiers.
func (s *Store) Create(ctx context.Context, userID int64, identity string) (*domain.Session, error) {
	session := &domain.Session{
		UserID:    userID,
		Identity:  identity,
		State:     dialogue.Start,
		Data:      domain.NewDialogueData(),
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.db.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, identity, session); err != nil {
		log.Printf("failed to cache new session for %s: %v", identity, err)
	}
	return session, nil
}

// Update persists a new (state, data) pair to both tiers, refreshing expiry.
// The durable write happens first; a failed cache write leaves the tiers
// transiently out of sync, which the next Get repairs from the durable side.
func (s *Store) Update(ctx context.Context, session *domain.Session, state domain.SessionState, data *domain.DialogueData) error {
	expiresAt := time.Now().Add(s.ttl)
	if err := s.db.UpdateSession(ctx, session.ID, state, data, expiresAt); err != nil {
		return err
	}
	session.State = state
	session.Data = data
	session.ExpiresAt = expiresAt
	if err := s.cache.Set(ctx, session.Identity, session); err != nil {
		log.Printf("failed to cache session update for %s: %v", session.Identity, err)
	}
	return nil
}

// Terminate moves the session into a terminal state and clears it from the
// cache. Terminal sessions are inert and only superseded, never resumed.
func (s *Store) Terminate(ctx context.Context, session *domain.Session, state domain.SessionState) error {
	if err := s.cache.Delete(ctx, session.Identity); err != nil {
		log.Printf("failed to evict terminated session for %s: %v", session.Identity, err)
	}
	if err := s.db.MarkSessionState(ctx, session.ID, state); err != nil {
		return err
	}
	session.State = state
	return nil
}
