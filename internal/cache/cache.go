// Package cache implements the fast tier: a Redis-backed session cache, the
// sliding-window rate limiter, and the per-identity lock that serializes
// concurrent deliveries for one counterpart.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/oldvoice/oldvoice/internal/domain"
)

// NewClient creates a Redis client for the cache tier.
func NewClient(addr, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// SessionCache stores session snapshots under conv:<identity> with a bounded
// TTL refreshed on every write. It is best-effort; the durable store is
// authoritative.
type SessionCache struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// NewSessionCache creates a session cache with the given TTL.
func NewSessionCache(client *backend.Client, ttl time.Duration) *SessionCache {
	return &SessionCache{
		client: client,
		prefix: "conv:",
		ttl:    ttl,
	}
}

func (c *SessionCache) key(identity string) string {
	return c.prefix + identity
}

// Get returns the cached session for the identity, or nil on a miss.
func (c *SessionCache) Get(ctx context.Context, identity string) (*domain.Session, error) {
	val, err := c.client.Get(ctx, c.key(identity)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Set writes the session snapshot, refreshing the TTL.
func (c *SessionCache) Set(ctx context.Context, identity string, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := c.client.Set(ctx, c.key(identity), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Delete removes the cached session.
func (c *SessionCache) Delete(ctx context.Context, identity string) error {
	return c.client.Del(ctx, c.key(identity)).Err()
}
