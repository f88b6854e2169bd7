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
	"time"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/cache"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/repository"
	"github.com/keygate/keygate/internal/testutil"
)

func TestIntegrationAuthErrorFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	writeAuthError(rec)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected JSON content type")
	}
	if rec.Body.String() != `{"valid":false,"error":"Invalid or missing API key"}` {
		t.Errorf("Unexpected body: %s", rec.Body.String())
	}
}

func TestIntegrationExtractCredentialKey(t *testing.T) {
	testCases := []struct {
		name         string
		authHeader   string
		apiKeyHeader string
		want         string
	}{
		{
			name:         "X-API-Key header",
			apiKeyHeader: "ck_live_abc123_secret",
			want:         "ck_live_abc123_secret",
		},
		{
			name:       "Bearer token",
			authHeader: "Bearer ck_live_abc123_secret",
			want:       "ck_live_abc123_secret",
		},
		{
			name:         "X-API-Key takes precedence",
			apiKeyHeader: "apikey_header",
			authHeader:   "Bearer bearer_key",
			want:         "apikey_header",
		},
		{
			name:       "Basic auth ignored",
			authHeader: "Basic dXNlcjpwYXNz",
			want:       "",
		},
		{
			name: "No key",
			want: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate", nil)
			if tc.authHeader != "" {
				r.Header.Set("Authorization", tc.authHeader)
			}
			if tc.apiKeyHeader != "" {
				r.Header.Set("X-API-Key", tc.apiKeyHeader)
			}
			if got := extractCredentialKey(r); got != tc.want {
				t.Errorf("extractCredentialKey: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIntegrationAuthMiddleware_FullFlow(t *testing.T) {
	env := newAuthTestEnv(t)

	tok, err := auth.GenerateToken(auth.EnvLive)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	acct := testutil.NewTestAccount(t)
	if err := env.repo.CreateAccount(env.ctx, acct); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	cred := testutil.NewTestCredential(t, acct.ID, tok.Token)
	if err := env.repo.CreateCredential(env.ctx, cred); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	rec := metrics.NewInMemory()
	handler := Auth(AuthConfig{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Repository: env.repo,
		Cache:      env.cache,
		Metrics:    rec,
		CacheTTL:   time.Minute,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := auth.AuthFromContext(r.Context())
		if authCtx == nil {
			t.Error("auth context missing downstream")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if authCtx.CredentialID != cred.ID {
			t.Errorf("CredentialID mismatch: got %q, want %q", authCtx.CredentialID, cred.ID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	// First request misses the cache and hits the database.
	resp := doAuthRequest(handler, tok.Token)
	if resp.Code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", resp.Code)
	}

	// Second request should be served from the auth cache.
	resp = doAuthRequest(handler, tok.Token)
	if resp.Code != http.StatusOK {
		t.Fatalf("second request: got %d, want 200", resp.Code)
	}

	snap := rec.Snapshot()
	if snap.AuthCacheMisses != 1 {
		t.Errorf("cache misses: got %d, want 1", snap.AuthCacheMisses)
	}
	if snap.AuthCacheHits != 1 {
		t.Errorf("cache hits: got %d, want 1", snap.AuthCacheHits)
	}

	// Wrong key gets the uniform 401.
	resp = doAuthRequest(handler, tok.Token+"x")
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: got %d, want 401", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "Invalid or missing API key") {
		t.Errorf("wrong key body: %s", resp.Body.String())
	}
}

func TestIntegrationAuthMiddleware_InactiveCredential(t *testing.T) {
	env := newAuthTestEnv(t)

	tok, err := auth.GenerateToken(auth.EnvLive)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	acct := testutil.NewTestAccount(t)
	if err := env.repo.CreateAccount(env.ctx, acct); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	cred := testutil.NewTestCredential(t, acct.ID, tok.Token)
	cred.IsActive = false
	if err := env.repo.CreateCredential(env.ctx, cred); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	handler := Auth(AuthConfig{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Repository: env.repo,
		Cache:      env.cache,
		CacheTTL:   time.Minute,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	resp := doAuthRequest(handler, tok.Token)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("inactive credential: got %d, want 401", resp.Code)
	}
}

func doAuthRequest(handler http.Handler, key string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate", nil)
	r.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	return rec
}

type authTestEnv struct {
	ctx   context.Context
	repo  *repository.Repository
	cache *cache.Cache
}

func newAuthTestEnv(t *testing.T) *authTestEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	repo, err := repository.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	c, err := cache.New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
	})

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetAllSchemas(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset schemas: %v", err)
	}
	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	return &authTestEnv{ctx: ctx, repo: repo, cache: c}
}
