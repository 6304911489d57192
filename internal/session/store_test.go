package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/secureshare/secureshare/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingSession(t *testing.T, userID string, ttl time.Duration) *models.PendingSession {
	t.Helper()
	id, err := NewSessionID()
	require.NoError(t, err)
	now := time.Now()
	return &models.PendingSession{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Both implementations must satisfy the same contract.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"redis":  NewRedisStore(client, "p2fa"),
		"memory": NewMemoryStore(),
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := newPendingSession(t, "user123", 10*time.Minute)

			require.NoError(t, store.Create(ctx, sess, 10*time.Minute))

			got, err := store.Get(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, sess.ID, got.ID)
			assert.Equal(t, "user123", got.UserID)
		})
	}
}

func TestStore_ConsumeIsSingleUse(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := newPendingSession(t, "user123", 10*time.Minute)
			require.NoError(t, store.Create(ctx, sess, 10*time.Minute))

			got, err := store.Consume(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, sess.UserID, got.UserID)

			_, err = store.Consume(ctx, sess.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ExpiredSession(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := newPendingSession(t, "user123", -1*time.Minute)
			require.NoError(t, store.Create(ctx, sess, 10*time.Minute))

			_, err := store.Get(ctx, sess.ID)
			assert.ErrorIs(t, err, ErrExpired)
		})
	}
}

func TestStore_NewLoginSupersedesOldSession(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := newPendingSession(t, "user123", 10*time.Minute)
			require.NoError(t, store.Create(ctx, first, 10*time.Minute))

			second := newPendingSession(t, "user123", 10*time.Minute)
			require.NoError(t, store.Create(ctx, second, 10*time.Minute))

			_, err := store.Get(ctx, first.ID)
			assert.ErrorIs(t, err, ErrNotFound, "older session should be evicted")

			_, err = store.Get(ctx, second.ID)
			assert.NoError(t, err)
		})
	}
}

func TestStore_RecordFailureBoundsAttempts(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := newPendingSession(t, "user123", 10*time.Minute)
			require.NoError(t, store.Create(ctx, sess, 10*time.Minute))

			for i := 0; i < 4; i++ {
				require.NoError(t, store.RecordFailure(ctx, sess.ID, 5), "attempt %d", i+1)
			}

			err := store.RecordFailure(ctx, sess.ID, 5)
			assert.ErrorIs(t, err, ErrAttemptsExceeded)

			// Session destroyed after exhausting attempts
			_, err = store.Get(ctx, sess.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := newPendingSession(t, "user123", 10*time.Minute)
			require.NoError(t, store.Create(ctx, sess, 10*time.Minute))

			require.NoError(t, store.Delete(ctx, sess.ID))

			_, err := store.Get(ctx, sess.ID)
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting again is idempotent
			assert.NoError(t, store.Delete(ctx, sess.ID))
		})
	}
}

func TestRedisStore_TTLEviction(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStore(client, "p2fa")

	ctx := context.Background()
	sess := newPendingSession(t, "user123", 10*time.Minute)
	require.NoError(t, store.Create(ctx, sess, time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewSessionID(t *testing.T) {
	id1, err := NewSessionID()
	require.NoError(t, err)
	id2, err := NewSessionID()
	require.NoError(t, err)

	assert.Len(t, id1, 32)
	assert.Regexp(t, `^[0-9a-f]{32}$`, id1)
	assert.NotEqual(t, id1, id2)
}
