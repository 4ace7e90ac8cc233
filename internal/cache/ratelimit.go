package cache

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RateLimiter enforces a sliding window per identity: a counter whose TTL is
// the window length, started by the first message in the window. It never
// touches dialogue state.
type RateLimiter struct {
	client *backend.Client
	prefix string
	max    int64
	window time.Duration
}

// RateLimitResult reports the decision plus observability fields.
type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	ResetIn   time.Duration
}

// NewRateLimiter creates a limiter allowing max messages per window.
func NewRateLimiter(client *backend.Client, max int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		prefix: "rate:",
		max:    max,
		window: window,
	}
}

// Check counts the message against the identity's window.
func (r *RateLimiter) Check(ctx context.Context, identity string) (*RateLimitResult, error) {
	key := r.prefix + identity

	current, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	// The first message in a window starts the countdown.
	if current == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			return nil, fmt.Errorf("failed to set rate window: %w", err)
		}
	}

	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rate window: %w", err)
	}

	remaining := r.max - current
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   current <= r.max,
		Remaining: remaining,
		ResetIn:   ttl,
	}, nil
}
