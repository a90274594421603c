package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimitRedisRepository implements rate limiting counter storage with Redis.
type RateLimitRedisRepository struct {
	r redis.Cmdable
}

func NewRateLimitRedisRepository(r redis.Cmdable) *RateLimitRedisRepository {
	return &RateLimitRedisRepository{r: r}
}

// IncrementWindow increments the counter for the current fixed window and
// reads the previous window's count in one pipeline. The caller weights the
// previous count by its remaining overlap to get sliding-window semantics.
func (repo *RateLimitRedisRepository) IncrementWindow(ctx context.Context, key string, window time.Duration, keyPrefix string, ttl time.Duration) (int, int, time.Time, error) {
	now := time.Now()
	windowStart := now.Truncate(window)
	prevStart := windowStart.Add(-window)

	currentKey := fmt.Sprintf("%s:%s:%d", keyPrefix, key, windowStart.Unix())
	previousKey := fmt.Sprintf("%s:%s:%d", keyPrefix, key, prevStart.Unix())

	pipe := repo.r.TxPipeline()
	incr := pipe.Incr(ctx, currentKey)
	pipe.Expire(ctx, currentKey, ttl)
	prev := pipe.Get(ctx, previousKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, windowStart, err
	}

	previous := 0
	if n, err := prev.Int(); err == nil {
		previous = n
	}
	return int(incr.Val()), previous, windowStart, nil
}
