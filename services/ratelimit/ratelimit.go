package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/everifyng/everify-backend/services/monitoring/logging"
)

const window = time.Minute

// Limiter enforces a per-credential sliding one-minute window backed by a
// Redis sorted set.
type Limiter struct {
	client *redis.Client
	logger *logging.Logger
}

func NewLimiter(client *redis.Client, logger *logging.Logger) *Limiter {
	return &Limiter{client: client, logger: logger}
}

// Allow records one hit for key and reports whether it stays within limit
// requests per minute. Redis outages fail open so a cache incident does not
// take down the API.
func (l *Limiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	now := time.Now()
	redisKey := "ratelimit:" + key
	member := fmt.Sprintf("%d", now.UnixNano())

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", now.Add(-window).UnixNano()))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.WithError(err).Warn("rate limit check unavailable, allowing request")
		return true, err
	}

	if count.Val() > int64(limit) {
		// Remove the hit we just recorded so rejected requests do not
		// extend the caller's lockout.
		l.client.ZRem(ctx, redisKey, member)
		return false, nil
	}
	return true, nil
}
