package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCounter shares the brute-force window across instances. Each key is
// a sorted set of attempt timestamps (unix ms) that expires with the window.
type RedisCounter struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisCounter(rdb redis.UniversalClient, limit int, window time.Duration) *RedisCounter {
	return &RedisCounter{rdb: rdb, prefix: "auth:bruteforce:", limit: limit, window: window, now: func() time.Time { return time.Now().UTC() }}
}

func (c *RedisCounter) key(k string) string { return c.prefix + k }

func (c *RedisCounter) cutoff(now time.Time) string {
	return "(" + strconv.FormatInt(now.Add(-c.window).UnixMilli(), 10)
}

func (c *RedisCounter) RecordAttempt(ctx context.Context, key string) error {
	now := c.now()
	k := c.key(key)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", c.cutoff(now))
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		pipe.PExpire(ctx, k, c.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record attempt: %w", err)
	}
	return nil
}

func (c *RedisCounter) IsBlocked(ctx context.Context, key string) (bool, time.Duration, error) {
	now := c.now()
	k := c.key(key)
	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", c.cutoff(now))
		card = pipe.ZCard(ctx, k)
		oldest = pipe.ZRangeWithScores(ctx, k, 0, 0)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("redis check attempts: %w", err)
	}
	if card.Val() < int64(c.limit) {
		return false, 0, nil
	}
	retry := c.window
	if zs := oldest.Val(); len(zs) > 0 {
		first := time.UnixMilli(int64(zs[0].Score)).UTC()
		retry = first.Add(c.window).Sub(now)
	}
	return true, retry, nil
}
