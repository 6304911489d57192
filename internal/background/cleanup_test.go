package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingCleaner struct {
	calls atomic.Int32
	err   error
}

func (c *countingCleaner) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	c.calls.Add(1)
	return 3, c.err
}

func (c *countingCleaner) CleanupExpired(ctx context.Context, usedRetention time.Duration) (int64, error) {
	c.calls.Add(1)
	return 1, c.err
}

type deviceCleaner struct {
	calls atomic.Int32
}

func (c *deviceCleaner) CleanupExpired(ctx context.Context) (int64, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestCleanupManager_RunsImmediatelyAndStops(t *testing.T) {
	revoked := &countingCleaner{}
	verify := &countingCleaner{}
	devices := &deviceCleaner{}

	cm := NewCleanupManager(revoked, verify, devices,
		slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	// The first sweep happens before the first tick.
	assert.Eventually(t, func() bool {
		return revoked.calls.Load() >= 1 && verify.calls.Load() >= 1 && devices.calls.Load() >= 1
	}, time.Second, 10*time.Millisecond)

	cm.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestCleanupManager_OneFailureDoesNotBlockOthers(t *testing.T) {
	revoked := &countingCleaner{err: errors.New("db down")}
	verify := &countingCleaner{}
	devices := &deviceCleaner{}

	cm := NewCleanupManager(revoked, verify, devices,
		slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go cm.Start(ctx)
	defer cancel()

	assert.Eventually(t, func() bool {
		return devices.calls.Load() >= 1
	}, time.Second, 10*time.Millisecond)
}
