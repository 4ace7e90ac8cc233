package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	"github.com/oldvoice/oldvoice/internal/cache"
	"github.com/oldvoice/oldvoice/internal/domain"
	"github.com/oldvoice/oldvoice/internal/store"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, store.Store) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sessions := NewStore(cache.NewSessionCache(client, time.Hour), db, time.Hour)
	return sessions, mr, db
}

func newTestUser(t *testing.T, db store.Store, identity string) *domain.User {
	t.Helper()
	user, err := db.GetOrCreateUser(context.Background(), identity)
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}
	return user
}

func TestCreateThenGet(t *testing.T) {
	sessions, _, db := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, db, "+15551230000")

	created, err := sessions.Create(ctx, user.ID, user.Identity)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("created session has no id")
	}
	if created.State != domain.StateInitial {
		t.Fatalf("new session state = %q, want %q", created.State, domain.StateInitial)
	}

	got, err := sessions.Get(ctx, user.Identity, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	sessions, _, db := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, db, "+15551230000")

	session, err := sessions.Create(ctx, user.ID, user.Identity)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	data := domain.NewDialogueData()
	data.Storyteller.Name = "Grandma Rose"
	if err := sessions.Update(ctx, session, domain.StateCollectingPhone, data); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := sessions.Get(ctx, user.Identity, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.State != domain.StateCollectingPhone {
		t.Fatalf("unexpected session after update: %+v", got)
	}
	if got.Data.Storyteller.Name != "Grandma Rose" {
		t.Fatalf("data not persisted: %+v", got.Data)
	}
}

func TestGetRecoversFromCacheLoss(t *testing.T) {
	sessions, mr, db := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, db, "+15551230000")

	session, err := sessions.Create(ctx, user.ID, user.Identity)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	data := domain.NewDialogueData()
	data.Storyteller.Name = "Grandma Rose"
	if err := sessions.Update(ctx, session, domain.StateCollectingRelation, data); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// Cache tier loses everything; the durable tier must carry the session.
	mr.FlushAll()

	got, err := sessions.Get(ctx, user.Identity, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.State != domain.StateCollectingRelation {
		t.Fatalf("session not recovered from durable tier: %+v", got)
	}
	if got.Data.Storyteller.Name != "Grandma Rose" {
		t.Fatalf("recovered data incomplete: %+v", got.Data)
	}

	// The fallback read repopulates the cache.
	if !mr.Exists("conv:" + user.Identity) {
		t.Fatal("cache not repopulated after durable fallback")
	}
}

func TestTerminateEndsSession(t *testing.T) {
	sessions, mr, db := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, db, "+15551230000")

	session, err := sessions.Create(ctx, user.ID, user.Identity)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := sessions.Terminate(ctx, session, domain.StateCancelled); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	if mr.Exists("conv:" + user.Identity) {
		t.Fatal("cache entry survived termination")
	}
	got, err := sessions.Get(ctx, user.Identity, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("terminated session still resolvable: %+v", got)
	}
}

func TestGetIgnoresExpiredCacheEntry(t *testing.T) {
	sessions, mr, db := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, db, "+15551230000")

	session, err := sessions.Create(ctx, user.ID, user.Identity)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Force the persisted expiry into the past on both tiers' payloads by
	// rewriting the durable row, then planting a stale cache copy.
	past := time.Now().Add(-time.Minute)
	if err := db.UpdateSession(ctx, session.ID, session.State, session.Data, past); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	stale := *session
	stale.ExpiresAt = past
	if err := cacheSet(ctx, mr, &stale); err != nil {
		t.Fatalf("planting stale entry failed: %v", err)
	}

	got, err := sessions.Get(ctx, user.Identity, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expired session resurrected: %+v", got)
	}
	if mr.Exists("conv:" + user.Identity) {
		t.Fatal("stale cache entry not evicted")
	}
}

func cacheSet(ctx context.Context, mr *miniredis.Miniredis, session *domain.Session) error {
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer client.Close()
	return cache.NewSessionCache(client, time.Hour).Set(ctx, session.Identity, session)
}
