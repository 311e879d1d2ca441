package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter is a shared sliding-window limiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// redisRateLimiter keeps one sorted set of request timestamps per key so
// that every API replica counts against the same window.
type redisRateLimiter struct {
	client redis.UniversalClient
	logger *zap.Logger
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, logger *zap.Logger) RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisRateLimiter{client: client, logger: logger, now: time.Now}
}

// Allow checks if a request is allowed under the rate limit using sliding window algorithm
func (r *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.now()
	windowStart := now.Add(-window)
	rateLimitKey := RateLimitPrefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rateLimitKey, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, rateLimitKey)
	pipe.ZAdd(ctx, rateLimitKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, rateLimitKey, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("rate limiter pipeline failed",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Error(err))
		return false, fmt.Errorf("rate limiter pipeline failed: %w", err)
	}

	// count was taken before this request was added
	if countCmd.Val() < int64(limit) {
		return true, nil
	}

	r.client.ZRem(ctx, rateLimitKey, member)
	r.logger.Debug("rate limit exceeded",
		zap.String("key", key),
		zap.Int64("current_count", countCmd.Val()),
		zap.Int("limit", limit),
		zap.Duration("window", window))
	return false, nil
}
