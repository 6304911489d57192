package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store with INCR + EXPIRE-on-first-hit counters.
// Safe for multi-instance deployments: all instances share one window.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed fixed-window counter store.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// Increment bumps the counter and stamps the window TTL on first hit.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := s.key(key)

	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis incr: %w", err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("redis expire: %w", err)
		}
		return count, time.Now().Add(window), nil
	}

	ttl, err := s.client.TTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		// Counter without TTL (e.g. expire failed previously): repair it
		_ = s.client.Expire(ctx, k, window).Err()
		ttl = window
	}

	return count, time.Now().Add(ttl), nil
}

// Reset removes the counter.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
