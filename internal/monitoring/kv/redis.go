package kv

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisAdapter is the production Adapter implementation, grounded on the
// original DefaultRedisAdapter's primitive set (SET NX EX, INCR, LPUSH,
// LTRIM, SCAN).
type RedisAdapter struct {
	client *redis.Client
}

// NewRedisAdapter wraps an existing client.
func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (a *RedisAdapter) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return a.client.SetNX(ctx, key, value, ttl).Result()
}

func (a *RedisAdapter) Incr(ctx context.Context, key string) (int64, error) {
	return a.client.Incr(ctx, key).Result()
}

func (a *RedisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return a.client.Expire(ctx, key, ttl).Err()
}

func (a *RedisAdapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return a.client.Set(ctx, key, value, ttl).Err()
}

func (a *RedisAdapter) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := a.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (a *RedisAdapter) LPush(ctx context.Context, key, value string) error {
	return a.client.LPush(ctx, key, value).Err()
}

func (a *RedisAdapter) LTrim(ctx context.Context, key string, count int64) error {
	return a.client.LTrim(ctx, key, 0, count-1).Err()
}

func (a *RedisAdapter) LRange(ctx context.Context, key string, count int64) ([]string, error) {
	return a.client.LRange(ctx, key, 0, count-1).Result()
}

func (a *RedisAdapter) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := a.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (a *RedisAdapter) Del(ctx context.Context, key string) error {
	return a.client.Del(ctx, key).Err()
}

func (a *RedisAdapter) HealthCheck(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}
