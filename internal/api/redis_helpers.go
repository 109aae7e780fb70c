package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// rateLimitExceeded 以固定窗口计数实现限流。Redis 不可用时放行，可用性优先。
func rateLimitExceeded(ctx context.Context, client redisRateCounter, key string, limit int, ttl time.Duration) bool {
	count, err := incrWithTTL(ctx, client, key, ttl)
	if err != nil {
		return false
	}
	return count > int64(limit)
}
