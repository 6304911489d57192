package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/secureshare/secureshare/internal/models"
)

// RedisStore keeps pending sessions in Redis with per-key TTLs. Consume uses
// GETDEL so exactly one caller wins a concurrent completion race. A per-user
// index key lets a fresh login supersede an older pending session.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed pending session store.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "p2fa"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string     { return s.prefix + ":" + id }
func (s *RedisStore) userKey(uid string) string { return s.prefix + ":uid:" + uid }
func (s *RedisStore) attemptKey(id string) string { return s.prefix + ":att:" + id }

func (s *RedisStore) Create(ctx context.Context, sess *models.PendingSession, ttl time.Duration) error {
	// Supersede: at most one live pending session per user
	if prev, err := s.client.Get(ctx, s.userKey(sess.UserID)).Result(); err == nil && prev != "" {
		_ = s.client.Del(ctx, s.key(prev), s.attemptKey(prev)).Err()
	}

	encoded, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode pending session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(sess.ID), encoded, ttl)
	pipe.Set(ctx, s.userKey(sess.UserID), sess.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.PendingSession, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return s.decode(ctx, id, data)
}

func (s *RedisStore) Consume(ctx context.Context, id string) (*models.PendingSession, error) {
	data, err := s.client.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	sess, err := s.decode(ctx, id, data)
	if err != nil {
		return nil, err
	}

	_ = s.client.Del(ctx, s.userKey(sess.UserID), s.attemptKey(id)).Err()
	return sess, nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, id string, maxAttempts int) error {
	// The TTL of the session bounds the counter's useful life; give the
	// counter the same horizon.
	ttl, err := s.client.TTL(ctx, s.key(id)).Result()
	if err != nil || ttl <= 0 {
		return ErrNotFound
	}

	count, err := s.client.Incr(ctx, s.attemptKey(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	_ = s.client.Expire(ctx, s.attemptKey(id), ttl).Err()

	if count >= int64(maxAttempts) {
		_ = s.Delete(ctx, id)
		return ErrAttemptsExceeded
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err == nil {
		_ = s.client.Del(ctx, s.userKey(sess.UserID)).Err()
	}
	if err := s.client.Del(ctx, s.key(id), s.attemptKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *RedisStore) decode(ctx context.Context, id string, data []byte) (*models.PendingSession, error) {
	var sess models.PendingSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode pending session: %w", err)
	}

	// Redis TTL already evicts, but guard against clock edges
	if sess.IsExpired() {
		_ = s.client.Del(ctx, s.key(id), s.userKey(sess.UserID), s.attemptKey(id)).Err()
		return nil, ErrExpired
	}
	return &sess, nil
}
