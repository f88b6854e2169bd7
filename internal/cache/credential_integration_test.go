//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/testutil"
)

func TestIntegrationAuthContextCache_RoundTrip(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	expiresAt := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	authCtx := &model.AuthContext{
		CredentialID: "cred-123",
		KeyPrefix:    "ck_live_abc1",
		OwnerID:      "owner-456",
		ExpiresAt:    &expiresAt,
	}

	if err := c.SetAuthContext(ctx, "hash-roundtrip", authCtx, time.Minute); err != nil {
		t.Fatalf("SetAuthContext failed: %v", err)
	}

	got, err := c.GetAuthContext(ctx, "hash-roundtrip")
	if err != nil {
		t.Fatalf("GetAuthContext failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cache hit")
	}
	if got.CredentialID != authCtx.CredentialID {
		t.Errorf("CredentialID mismatch: got %q, want %q", got.CredentialID, authCtx.CredentialID)
	}
	if got.KeyPrefix != authCtx.KeyPrefix {
		t.Errorf("KeyPrefix mismatch: got %q, want %q", got.KeyPrefix, authCtx.KeyPrefix)
	}
	if got.OwnerID != authCtx.OwnerID {
		t.Errorf("OwnerID mismatch: got %q, want %q", got.OwnerID, authCtx.OwnerID)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expiresAt) {
		t.Errorf("ExpiresAt mismatch: got %v, want %v", got.ExpiresAt, expiresAt)
	}
}

func TestIntegrationAuthContextCache_MissIsNotAnError(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	got, err := c.GetAuthContext(ctx, "hash-unknown")
	if err != nil {
		t.Fatalf("GetAuthContext on miss failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected miss, got %+v", got)
	}
}

func TestIntegrationAuthContextCache_Delete(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	authCtx := &model.AuthContext{CredentialID: "cred-del", KeyPrefix: "ck_live_del0"}
	if err := c.SetAuthContext(ctx, "hash-delete", authCtx, time.Minute); err != nil {
		t.Fatalf("SetAuthContext failed: %v", err)
	}

	if err := c.DeleteAuthContext(ctx, "hash-delete"); err != nil {
		t.Fatalf("DeleteAuthContext failed: %v", err)
	}

	got, err := c.GetAuthContext(ctx, "hash-delete")
	if err != nil {
		t.Fatalf("GetAuthContext failed: %v", err)
	}
	if got != nil {
		t.Error("entry should be gone after delete")
	}
}

func TestIntegrationAuthContextCache_TTLExpiry(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	authCtx := &model.AuthContext{CredentialID: "cred-ttl", KeyPrefix: "ck_live_ttl0"}
	if err := c.SetAuthContext(ctx, "hash-ttl", authCtx, time.Second); err != nil {
		t.Fatalf("SetAuthContext failed: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	got, err := c.GetAuthContext(ctx, "hash-ttl")
	if err != nil {
		t.Fatalf("GetAuthContext failed: %v", err)
	}
	if got != nil {
		t.Error("entry should expire after its TTL")
	}
}

func newCacheTestEnv(t *testing.T) (context.Context, *Cache) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	c, err := New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
	})

	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	return ctx, c
}
