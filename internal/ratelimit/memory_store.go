package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process counters. Suitable only for
// single-instance deployments: counters are not shared across processes.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

type memoryWindow struct {
	count     int64
	resetTime time.Time
}

// NewMemoryStore creates an in-process fixed-window counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*memoryWindow)}
}

// Increment bumps the counter, opening a fresh window when the old one lapsed.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	w, ok := s.windows[key]
	if !ok || now.After(w.resetTime) {
		w = &memoryWindow{resetTime: now.Add(window)}
		s.windows[key] = w
	}

	w.count++
	return w.count, w.resetTime, nil
}

// Reset removes the counter.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
	return nil
}
