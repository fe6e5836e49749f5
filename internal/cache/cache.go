// Package cache wraps go-redis as the query aggregator's short-TTL search
// result cache: search results are cached per canonicalized filter, and a
// miss, a disabled cache, or a cache error all fall through to a live
// fan-out. The cache is strictly an optimization, never a source of truth.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a thin Redis client scoped to search-result caching.
type Cache struct {
	client *redis.Client
}

// DefaultTTL is the search cache's default entry lifetime. Configurable;
// a TTL of 0 disables caching entirely.
const DefaultTTL = 10 * time.Second

// New connects to REDIS_URL (falling back to a local default), verifying the
// connection with a short-lived ping before returning.
func New() (*Cache, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis at %s: %w", opt.Addr, err)
	}

	slog.Info("search cache connected", "addr", opt.Addr)
	return &Cache{client: client}, nil
}

// NewWithClient wraps an already-constructed redis client, used by tests to
// hand in a miniredis-backed client instead of dialing a real server.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close closes the underlying redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Get looks up key and unmarshals its value into dest. It returns
// (false, nil) on a clean miss and (false, err) on a redis-level error. The
// caller treats both the same way, falling through to a live query, only
// logging the latter.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache: unmarshal %q: %w", key, err)
	}
	return true, nil
}

// Set marshals value as JSON and stores it under key with the given TTL. A
// ttl of 0 is a no-op.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %q: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}
