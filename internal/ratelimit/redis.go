package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driphub/driphub/internal/config"
)

// RedisCounter implements Counter on a shared Redis instance so the cap
// holds across multiple worker processes.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(cfg config.RedisConfig) (*RedisCounter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisCounter{client: client}, nil
}

func (c *RedisCounter) IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (int64, bool, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("incr %s: %w", key, err)
	}

	first := count == 1
	if first {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, first, fmt.Errorf("expire %s: %w", key, err)
		}
	}

	return count, first, nil
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}
