package preferences

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a DailyCounter backed by Redis. Counts live in one key
// per user per UTC day and expire on their own, so the cap resets at
// midnight without any cleanup job.
type RedisCounter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCounter creates a Redis-backed daily counter.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{
		client: client,
		prefix: "notify:daily",
		now:    time.Now,
	}
}

func (c *RedisCounter) key(userID string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, userID, c.now().UTC().Format("20060102"))
}

func (c *RedisCounter) Incr(ctx context.Context, userID string) (int, error) {
	key := c.key(userID)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// 48h covers every timezone offset before the key becomes garbage.
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment daily counter: %w", err)
	}
	return int(incr.Val()), nil
}

func (c *RedisCounter) Count(ctx context.Context, userID string) (int, error) {
	n, err := c.client.Get(ctx, c.key(userID)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read daily counter: %w", err)
	}
	return n, nil
}
