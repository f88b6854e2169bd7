//go:build integration

package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/cache"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/testutil"
)

func TestIntegrationRateLimit_AllowsWithinBudget(t *testing.T) {
	c := newRateLimitTestEnv(t)

	handler := rateLimitedHandler(c, 60, 5)

	for i := 0; i < 5; i++ {
		resp := doRateLimitedRequest(handler, "cred-within")
		if resp.Code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i, resp.Code)
		}
		if resp.Header().Get("X-RateLimit-Limit") != "60" {
			t.Errorf("request %d: missing X-RateLimit-Limit header", i)
		}
	}
}

func TestIntegrationRateLimit_RejectsBeyondBurst(t *testing.T) {
	c := newRateLimitTestEnv(t)

	// Low sustained rate so the bucket does not refill mid-test.
	handler := rateLimitedHandler(c, 1, 3)

	limited := 0
	for i := 0; i < 10; i++ {
		resp := doRateLimitedRequest(handler, "cred-burst")
		if resp.Code == http.StatusTooManyRequests {
			limited++
			if resp.Header().Get("Retry-After") == "" {
				t.Error("429 response should carry Retry-After")
			}
			if !strings.Contains(resp.Body.String(), "Rate limit exceeded") {
				t.Errorf("unexpected 429 body: %s", resp.Body.String())
			}
		}
	}
	if limited == 0 {
		t.Error("expected some requests to be rate limited")
	}
}

func TestIntegrationRateLimit_IsolatesCredentials(t *testing.T) {
	c := newRateLimitTestEnv(t)

	handler := rateLimitedHandler(c, 1, 2)

	// Exhaust the first credential's bucket.
	for i := 0; i < 5; i++ {
		doRateLimitedRequest(handler, "cred-one")
	}

	// A distinct credential has a fresh bucket.
	resp := doRateLimitedRequest(handler, "cred-two")
	if resp.Code != http.StatusOK {
		t.Errorf("other credential: got %d, want 200", resp.Code)
	}
}

func TestIntegrationRateLimit_DisabledPassesThrough(t *testing.T) {
	c := newRateLimitTestEnv(t)

	handler := RateLimit(RateLimitConfig{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Cache:   c,
		Enabled: false,
	})(okHandler())

	for i := 0; i < 20; i++ {
		resp := doRateLimitedRequest(handler, "cred-disabled")
		if resp.Code != http.StatusOK {
			t.Fatalf("request %d with limiter disabled: got %d, want 200", i, resp.Code)
		}
	}
}

func rateLimitedHandler(c *cache.Cache, perMinute, burst int) http.Handler {
	return RateLimit(RateLimitConfig{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Cache:             c,
		Enabled:           true,
		RequestsPerMinute: perMinute,
		Burst:             burst,
	})(okHandler())
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRateLimitedRequest(handler http.Handler, credentialID string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate", nil)
	ctx := auth.ContextWithAuth(r.Context(), &model.AuthContext{
		CredentialID: credentialID,
		KeyPrefix:    "ck_live_test",
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r.WithContext(ctx))
	return rec
}

func newRateLimitTestEnv(t *testing.T) *cache.Cache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	c, err := cache.New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
	})

	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	return c
}
