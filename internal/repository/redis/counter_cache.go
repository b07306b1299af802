package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"grant-gateway/internal/client"
	"grant-gateway/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// CounterCache is the Redis-backed counter store behind the rate limiter.
// Each key holds a plain integer with a TTL; the increment refreshes the TTL,
// giving an approximate rolling window rather than an aligned fixed one.
type CounterCache struct {
	client *client.RedisClient
}

func NewCounterCache(client *client.RedisClient) *CounterCache {
	return &CounterCache{client: client}
}

// Increment bumps the counter for key and returns the new count. The key
// expires ttl after this write.
func (c *CounterCache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	counterKey := rateLimitPrefix + key

	count, err := c.client.IncrWithExpire(ctx, counterKey, ttl)
	if err != nil {
		util.Error("Failed to increment rate limit counter",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	util.Debug("Rate limit counter incremented",
		zap.String("key", key),
		zap.Int64("count", count),
		zap.Duration("ttl", ttl))

	return count, nil
}

// Reset clears the counter for key. Used by tests and operational tooling.
func (c *CounterCache) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, rateLimitPrefix+key); err != nil {
		util.Error("Failed to reset rate limit counter",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}
	return nil
}
