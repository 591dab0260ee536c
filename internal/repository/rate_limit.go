package repository

import (
	"context"
	"fmt"
	"time"

	"directchat/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:%s"

type RateLimitRepository interface {
	// Increment bumps the counter for key and starts its window on the first hit.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// Count returns the current hits in the open window, 0 when none.
	Count(ctx context.Context, key string) (int64, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) key(key string) string {
	return fmt.Sprintf(rateLimitKeyPrefix, key)
}

func (r *rateLimitRepository) Count(ctx context.Context, key string) (int64, error) {
	count, err := r.redis.Get(ctx, r.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		r.log.Error("Failed to check rate limit", "error", err)
		return 0, err
	}
	return count, nil
}

func (r *rateLimitRepository) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := r.redis.Incr(ctx, r.key(key)).Result()
	if err != nil {
		r.log.Error("Failed to increment rate limit", "error", err)
		return 0, err
	}

	if count == 1 {
		if err := r.redis.Expire(ctx, r.key(key), window).Err(); err != nil {
			r.log.Warn("Failed to set rate limit window", "error", err, "key", key)
		}
	}

	return count, nil
}
