package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keygate/keygate/internal/model"
)

const (
	// authCachePrefix is the Redis key prefix for auth context cache.
	authCachePrefix = "auth:ctx:"
	// defaultAuthCacheTTL bounds how long a deactivated credential can
	// keep authenticating. Expiry is re-checked on every hit from the
	// cached expires_at, so only the is_active flip can lag.
	defaultAuthCacheTTL = 60 * time.Second
)

// cachedAuthContext is the auth context representation stored in Redis.
type cachedAuthContext struct {
	CredentialID string `json:"credential_id"`
	KeyPrefix    string `json:"key_prefix"`
	OwnerID      string `json:"owner_id"`
	ExpiresAt    *int64 `json:"expires_at,omitempty"` // Unix seconds
}

// GetAuthContext retrieves a cached auth context by cache key.
// Returns nil on a cache miss; misses are not errors.
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	key := authCachePrefix + cacheKey

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	var cached cachedAuthContext
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted cache entry - treat as miss
		return nil, nil //nolint:nilerr
	}

	authCtx := &model.AuthContext{
		CredentialID: cached.CredentialID,
		KeyPrefix:    cached.KeyPrefix,
		OwnerID:      cached.OwnerID,
	}
	if cached.ExpiresAt != nil {
		t := time.Unix(*cached.ExpiresAt, 0)
		authCtx.ExpiresAt = &t
	}

	return authCtx, nil
}

// SetAuthContext caches an auth context with the given TTL.
// A non-positive TTL falls back to the default.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext, ttl time.Duration) error {
	key := authCachePrefix + cacheKey
	if ttl <= 0 {
		ttl = defaultAuthCacheTTL
	}

	cached := cachedAuthContext{
		CredentialID: auth.CredentialID,
		KeyPrefix:    auth.KeyPrefix,
		OwnerID:      auth.OwnerID,
	}
	if auth.ExpiresAt != nil {
		ts := auth.ExpiresAt.Unix()
		cached.ExpiresAt = &ts
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// DeleteAuthContext removes a cached auth context.
// Used when a credential is deactivated or deleted.
func (c *Cache) DeleteAuthContext(ctx context.Context, cacheKey string) error {
	key := authCachePrefix + cacheKey
	return c.client.Del(ctx, key).Err()
}
