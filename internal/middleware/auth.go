package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/cache"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
)

const (
	// minAuthDuration is the minimum time to spend on auth to prevent timing attacks.
	minAuthDuration = 200 * time.Millisecond

	// touchTimeout bounds the async last_used_at update.
	touchTimeout = 5 * time.Second
)

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger     *slog.Logger
	Repository *repository.Repository
	Cache      *cache.Cache
	Metrics    metrics.Recorder
	CacheTTL   time.Duration
}

// Auth returns a middleware that authenticates API requests.
// It extracts the credential key from the X-API-Key header (or
// Authorization: Bearer), verifies it against stored credentials,
// and injects the auth context into the request.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()

			// Ensure consistent timing regardless of outcome
			defer func() {
				elapsed := time.Since(startTime)
				if elapsed < minAuthDuration {
					time.Sleep(minAuthDuration - elapsed)
				}
			}()

			key := extractCredentialKey(r)
			if key == "" {
				logAuthFailure(cfg.Logger, r, "missing_key")
				writeAuthError(w)
				return
			}

			// Check cache first
			cacheKey := auth.QuickHash(key)
			authCtx, _ := cfg.Cache.GetAuthContext(r.Context(), cacheKey)

			if authCtx != nil {
				// A cached entry can outlive the credential's expiry.
				if authCtx.Expired(time.Now()) {
					_ = cfg.Cache.DeleteAuthContext(r.Context(), cacheKey)
					logAuthFailure(cfg.Logger, r, "expired_key")
					writeAuthError(w)
					return
				}

				cfg.Metrics.IncAuthCacheHit()
				touchAsync(cfg, authCtx.CredentialID)

				cfg.Logger.Info("authentication successful",
					slog.String("credential_id", authCtx.CredentialID),
					slog.String("key_prefix", authCtx.KeyPrefix),
					slog.String("owner_id", authCtx.OwnerID),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Bool("cache_hit", true),
					slog.String("request_id", GetRequestID(r.Context())),
				)

				ctx := auth.ContextWithAuth(r.Context(), authCtx)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			cfg.Metrics.IncAuthCacheMiss()

			cred, err := cfg.Repository.GetCredentialByKey(r.Context(), key)
			if err != nil {
				if errors.Is(err, repository.ErrCredentialNotFound) {
					logAuthFailure(cfg.Logger, r, "invalid_key")
				} else {
					cfg.Logger.Error("database error during auth",
						slog.String("error", err.Error()),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				}
				writeAuthError(w)
				return
			}

			if !cred.IsActive {
				logAuthFailure(cfg.Logger, r, "inactive_key")
				writeAuthError(w)
				return
			}
			if cred.IsExpired(time.Now()) {
				logAuthFailure(cfg.Logger, r, "expired_key")
				writeAuthError(w)
				return
			}

			authCtx = &model.AuthContext{
				CredentialID: cred.ID,
				KeyPrefix:    cred.KeyPrefix,
				OwnerID:      cred.OwnerID,
				ExpiresAt:    cred.ExpiresAt,
			}

			_ = cfg.Cache.SetAuthContext(r.Context(), cacheKey, authCtx, cfg.CacheTTL)

			touchAsync(cfg, cred.ID)

			cfg.Logger.Info("authentication successful",
				slog.String("credential_id", authCtx.CredentialID),
				slog.String("key_prefix", authCtx.KeyPrefix),
				slog.String("owner_id", authCtx.OwnerID),
				slog.String("ip", r.RemoteAddr),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.Bool("cache_hit", false),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithAuth(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// touchAsync updates the credential's last_used_at without blocking the
// request. A detached context is used so the update survives the
// request's completion.
func touchAsync(cfg AuthConfig, credentialID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := cfg.Repository.TouchCredential(ctx, credentialID); err != nil {
			cfg.Logger.Debug("failed to update credential last_used_at",
				slog.String("credential_id", credentialID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}

// extractCredentialKey extracts the credential key from the request.
// Supports both "X-API-Key: <key>" and "Authorization: Bearer <key>" headers.
func extractCredentialKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"valid":false,"error":"Invalid or missing API key"}`))
}
