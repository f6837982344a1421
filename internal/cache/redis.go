package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	kgerrors "kgraph-backend/internal/errors"
)

// RedisCache is the production Cache backend, adapted from the documented
// "redis.NewCache(redisClient)" wiring shape against the real go-redis/v9
// client.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache dials addr (host:port) and verifies connectivity with Ping.
func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, kgerrors.StoreUnavailable("connect to redis", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, kgerrors.StoreUnavailable("redis get", err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return kgerrors.StoreUnavailable("redis set", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return kgerrors.StoreUnavailable("redis delete", err)
	}
	return nil
}

// Clear removes every key matching pattern via SCAN, avoiding the
// production hazard of KEYS on a large keyspace.
func (c *RedisCache) Clear(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return kgerrors.StoreUnavailable("redis scan", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return kgerrors.StoreUnavailable("redis clear", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
