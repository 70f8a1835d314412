package fallback

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV stores entries in Redis. Every write carries a session TTL so
// entries do not outlive the booking session that created them.
type RedisKV struct {
	client     *redis.Client
	prefix     string
	sessionTTL time.Duration
}

// NewRedisKV creates a Redis backend. A zero sessionTTL stores entries
// without expiry.
func NewRedisKV(client *redis.Client, prefix string, sessionTTL time.Duration) *RedisKV {
	return &RedisKV{client: client, prefix: prefix, sessionTTL: sessionTTL}
}

func (r *RedisKV) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.key(key), value, r.sessionTTL).Err()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
