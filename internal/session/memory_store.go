package session

import (
	"context"
	"sync"
	"time"

	"github.com/secureshare/secureshare/internal/models"
)

// MemoryStore keeps pending sessions in process memory. Single-instance
// deployments only: a 2FA completion request landing on another process
// will not find the session.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.PendingSession
	byUser   map[string]string
}

// NewMemoryStore creates an in-process pending session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.PendingSession),
		byUser:   make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, sess *models.PendingSession, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byUser[sess.UserID]; ok {
		delete(s.sessions, prev)
	}

	cp := *sess
	s.sessions[sess.ID] = &cp
	s.byUser[sess.UserID] = sess.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.PendingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *MemoryStore) Consume(_ context.Context, id string) (*models.PendingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}

	s.removeLocked(sess)
	return sess, nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, id string, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getLocked(id)
	if err != nil {
		return err
	}

	s.sessions[id].Attempts++
	if s.sessions[id].Attempts >= maxAttempts {
		s.removeLocked(sess)
		return ErrAttemptsExceeded
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		s.removeLocked(sess)
	}
	return nil
}

func (s *MemoryStore) getLocked(id string) (*models.PendingSession, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.IsExpired() {
		s.removeLocked(sess)
		return nil, ErrExpired
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) removeLocked(sess *models.PendingSession) {
	delete(s.sessions, sess.ID)
	if s.byUser[sess.UserID] == sess.ID {
		delete(s.byUser, sess.UserID)
	}
}
