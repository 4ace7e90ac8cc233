package cache

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToCeiling(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	limiter := NewRateLimiter(client, 3, time.Hour)

	for i := 0; i < 3; i++ {
		res, err := limiter.Check(ctx, "+15551230000")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("message %d blocked under ceiling", i+1)
		}
		if want := int64(3 - i - 1); res.Remaining != want {
			t.Fatalf("message %d: remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}

	res, err := limiter.Check(ctx, "+15551230000")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("ceiling+1 message allowed")
	}
	if res.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", res.Remaining)
	}
	if res.ResetIn <= 0 || res.ResetIn > time.Hour {
		t.Fatalf("implausible reset: %s", res.ResetIn)
	}
}

func TestRateLimiterWindowLapses(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	limiter := NewRateLimiter(client, 1, time.Hour)

	if res, _ := limiter.Check(ctx, "+15551230000"); !res.Allowed {
		t.Fatal("first message blocked")
	}
	if res, _ := limiter.Check(ctx, "+15551230000"); res.Allowed {
		t.Fatal("second message allowed")
	}

	mr.FastForward(time.Hour + time.Minute)

	res, err := limiter.Check(ctx, "+15551230000")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("message blocked after window lapsed")
	}
}

func TestRateLimiterIsPerIdentity(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	limiter := NewRateLimiter(client, 1, time.Hour)

	if res, _ := limiter.Check(ctx, "+15551230000"); !res.Allowed {
		t.Fatal("first identity blocked")
	}
	if res, _ := limiter.Check(ctx, "telegram_42"); !res.Allowed {
		t.Fatal("second identity shares the first's window")
	}
}
