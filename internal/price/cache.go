// internal/price/cache.go
package price

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "autosell:price:"

// CachedProvider stores quotes of the wrapped provider in Redis for a short
// TTL so supervisors watching the same token share one upstream call.
// Redis errors never fail a lookup; the wrapped provider is used instead.
type CachedProvider struct {
	next   Provider
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedProvider(next Provider, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	return &CachedProvider{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.Named("price-cache"),
	}
}

func (c *CachedProvider) Name() string { return c.next.Name() }

func (c *CachedProvider) Price(ctx context.Context, tokenID string) (float64, error) {
	key := c.key(tokenID)

	cached, err := c.rdb.HGet(ctx, key, "price").Result()
	switch {
	case err == nil:
		if v, perr := strconv.ParseFloat(cached, 64); perr == nil && v > 0 {
			return v, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Debug("cache read failed", zap.String("token_id", tokenID), zap.Error(err))
	}

	v, err := c.next.Price(ctx, tokenID)
	if err != nil {
		return 0, err
	}

	if err := c.store(ctx, key, v); err != nil {
		c.logger.Debug("cache write failed", zap.String("token_id", tokenID), zap.Error(err))
	}
	return v, nil
}

func (c *CachedProvider) store(ctx context.Context, key string, v float64) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"price": strconv.FormatFloat(v, 'f', -1, 64),
			"ts":    strconv.FormatInt(time.Now().UnixNano(), 10),
		})
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set price: %w", err)
	}
	return nil
}

func (c *CachedProvider) key(tokenID string) string {
	return cacheKeyPrefix + c.next.Name() + ":" + tokenID
}
