package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-1", 42, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	userID, err := store.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if userID != 42 {
		t.Errorf("expected user 42, got %d", userID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "short", 7, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := store.LookupRefreshSession(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired token, got %v", err)
	}
}

func TestSaveAlreadyExpiredSessionFails(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.SaveRefreshSession(context.Background(), "stale", 7, time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected error for an already expired session")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "token-1", 1, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("save token-1: %v", err)
	}
	if err := store.SaveRefreshSession(ctx, "token-2", 2, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("save token-2: %v", err)
	}

	if err := store.RevokeRefreshSession(ctx, "token-1"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "token-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for revoked token, got %v", err)
	}
	if userID, err := store.LookupRefreshSession(ctx, "token-2"); err != nil || userID != 2 {
		t.Errorf("token-2 should survive: user=%d err=%v", userID, err)
	}

	if err := store.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Errorf("revoking an unknown token should not error: %v", err)
	}
}
