package cache

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// UnlockFunc releases a held lock.
type UnlockFunc func(ctx context.Context) error

// Locker provides per-identity mutual exclusion via Redis SET NX PX. Two
// concurrently delivered messages for the same identity would otherwise race
// on the session read-modify-write.
type Locker struct {
	client *backend.Client
	prefix string
}

// NewLocker creates a Redis locker.
func NewLocker(client *backend.Client) *Locker {
	return &Locker{
		client: client,
		prefix: "lock:",
	}
}

// Lock acquires the lock for the identity, polling until it succeeds or the
// context is done. The TTL bounds how long a crashed holder can block others.
func (l *Locker) Lock(ctx context.Context, identity string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + identity
	// The value identifies this holder so a late unlock cannot release
	// someone else's acquisition.
	val := fmt.Sprintf("%d", time.Now().UnixNano())

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		success, err := l.client.SetNX(ctx, lockKey, val, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error acquiring lock: %w", err)
		}
		if success {
			return func(ctx context.Context) error {
				script := `
					if redis.call("get", KEYS[1]) == ARGV[1] then
						return redis.call("del", KEYS[1])
					else
						return 0
					end
				`
				return l.client.Eval(ctx, script, []string{lockKey}, val).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
