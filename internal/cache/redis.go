// Package cache provides the Redis access layer: the auth-context cache,
// the rate-limit token buckets, and the raw client the audit stream rides.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps the shared Redis client. Auth lookups and rate-limit
// decisions sit on the validation hot path, so connection failures here
// surface as latency, not correctness.
type Cache struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection before returning.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// The audit worker holds a connection open in blocking XREADGROUP
	// reads, so the pool is sized above what the request path alone
	// would need.
	opt.PoolSize = 16
	opt.MinIdleConns = 4
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying client for the audit publisher and
// worker, which speak stream commands directly. Everything else goes
// through Cache methods.
func (c *Cache) Client() *redis.Client {
	return c.client
}
