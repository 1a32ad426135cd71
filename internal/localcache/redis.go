package localcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix        = "diarysync:cache:"
	redisOperationTimeout = 5 * time.Second
)

// RedisCache stores values as plain redis strings under a fixed prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to redisURL (redis://host:port/db) and pings it.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisOperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client), nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: redisKeyPrefix}
}

func (c *RedisCache) key(key string) string {
	return c.prefix + key
}

func (c *RedisCache) Get(key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOperationTimeout)
	defer cancel()

	value, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cache entry: %w", err)
	}
	return value, true, nil
}

func (c *RedisCache) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOperationTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
