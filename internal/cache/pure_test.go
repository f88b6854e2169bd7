package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/model"
)

func TestCachedAuthContext_RoundTrip(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	ts := expires.Unix()

	testCases := []struct {
		name   string
		cached cachedAuthContext
	}{
		{
			name: "with expiry",
			cached: cachedAuthContext{
				CredentialID: "cred-1",
				KeyPrefix:    "7a9x3k",
				OwnerID:      "owner-1",
				ExpiresAt:    &ts,
			},
		},
		{
			name: "without expiry",
			cached: cachedAuthContext{
				CredentialID: "cred-2",
				KeyPrefix:    "aabbcc",
				OwnerID:      "owner-2",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.cached)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			var got cachedAuthContext
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}

			if got.CredentialID != tc.cached.CredentialID {
				t.Errorf("CredentialID = %q, want %q", got.CredentialID, tc.cached.CredentialID)
			}
			if got.OwnerID != tc.cached.OwnerID {
				t.Errorf("OwnerID = %q, want %q", got.OwnerID, tc.cached.OwnerID)
			}
			if (got.ExpiresAt == nil) != (tc.cached.ExpiresAt == nil) {
				t.Fatalf("ExpiresAt presence mismatch")
			}
			if got.ExpiresAt != nil && *got.ExpiresAt != *tc.cached.ExpiresAt {
				t.Errorf("ExpiresAt = %d, want %d", *got.ExpiresAt, *tc.cached.ExpiresAt)
			}
		})
	}
}

func TestAuthContextExpiryConversion(t *testing.T) {
	// The cached record stores Unix seconds; conversion back must yield a
	// time the middleware can compare against.
	expires := time.Now().Add(30 * time.Minute)
	ts := expires.Unix()

	cached := cachedAuthContext{CredentialID: "c", ExpiresAt: &ts}
	restored := time.Unix(*cached.ExpiresAt, 0)

	if restored.Unix() != expires.Unix() {
		t.Errorf("restored expiry %v does not match original %v", restored, expires)
	}

	authCtx := &model.AuthContext{ExpiresAt: &restored}
	if authCtx.Expired(time.Now()) {
		t.Error("future expiry reported as expired after round trip")
	}
	if !authCtx.Expired(expires.Add(time.Second)) {
		t.Error("past expiry not reported as expired after round trip")
	}
}
