package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/homestead-systems/assistant-core/internal/telemetry"
)

// AvailabilityCache remembers, for a bounded window, that a dependency was
// last seen reachable — so a caller can skip a live health probe and answer
// "probably up" immediately after a recent success. Per spec.md §4.3 the
// positive TTL is 60s; there is deliberately no negative-result caching, so
// a failing dependency is always re-probed.
type AvailabilityCache interface {
	MarkAvailable(ctx context.Context, key string) error
	IsAvailable(ctx context.Context, key string) (bool, error)
}

// NewRedisClient parses redisURL and pings it once, mirroring the sibling
// pack's platform.NewRedisClient.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// redisAvailabilityCache backs the cache with Redis SETEX/EXISTS, shared
// across process instances.
type redisAvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisAvailabilityCache builds an AvailabilityCache on top of an
// already-connected Redis client.
func NewRedisAvailabilityCache(client *redis.Client, ttl time.Duration) AvailabilityCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &redisAvailabilityCache{client: client, ttl: ttl, prefix: "breaker:avail:"}
}

func (c *redisAvailabilityCache) MarkAvailable(ctx context.Context, key string) error {
	return c.client.Set(ctx, c.prefix+key, "1", c.ttl).Err()
}

func (c *redisAvailabilityCache) IsAvailable(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+key).Result()
	if err != nil {
		telemetry.CacheHitsTotal.WithLabelValues("error").Inc()
		return false, err
	}
	if n > 0 {
		telemetry.CacheHitsTotal.WithLabelValues("hit").Inc()
		return true, nil
	}
	telemetry.CacheHitsTotal.WithLabelValues("miss").Inc()
	return false, nil
}

// inProcessAvailabilityCache is the fallback used when REDIS_URL is unset,
// keeping the positive-cache behavior available (in a single-process sense)
// with no external dependency.
type inProcessAvailabilityCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

// NewInProcessAvailabilityCache builds an AvailabilityCache backed by an
// in-memory map, for deployments without Redis configured.
func NewInProcessAvailabilityCache(ttl time.Duration) AvailabilityCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &inProcessAvailabilityCache{ttl: ttl, entries: make(map[string]time.Time)}
}

func (c *inProcessAvailabilityCache) MarkAvailable(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = time.Now().Add(c.ttl)
	return nil
}

func (c *inProcessAvailabilityCache) IsAvailable(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.entries[key]
	if !ok || time.Now().After(expiry) {
		telemetry.CacheHitsTotal.WithLabelValues("miss").Inc()
		return false, nil
	}
	telemetry.CacheHitsTotal.WithLabelValues("hit").Inc()
	return true, nil
}
