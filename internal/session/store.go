// Package session holds the pending-2FA session store: the ephemeral record
// bridging a verified password and the 2FA challenge. Sessions are keyed by
// an opaque random id, expire after a short TTL, and are consumed exactly
// once. The store interface is backed by Redis for multi-instance
// deployments; the in-memory variant is valid only for a single process.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/secureshare/secureshare/internal/models"
)

var (
	ErrNotFound         = errors.New("pending session not found")
	ErrExpired          = errors.New("pending session expired")
	ErrAttemptsExceeded = errors.New("pending session attempts exceeded")
	ErrBackend          = errors.New("pending session store unavailable")
)

// Store persists pending 2FA sessions. Consume must be atomic
// (delete-on-read): two concurrent completions of the same session must not
// both succeed.
type Store interface {
	// Create saves a session and evicts any previous pending session for
	// the same user, so one live session exists per login attempt.
	Create(ctx context.Context, s *models.PendingSession, ttl time.Duration) error
	// Get returns the session if present and unexpired.
	Get(ctx context.Context, id string) (*models.PendingSession, error)
	// Consume atomically removes and returns the session.
	Consume(ctx context.Context, id string) (*models.PendingSession, error)
	// RecordFailure bumps the failed-attempt counter; when maxAttempts is
	// exceeded the session is destroyed and ErrAttemptsExceeded returned.
	RecordFailure(ctx context.Context, id string, maxAttempts int) error
	// Delete removes a session if present.
	Delete(ctx context.Context, id string) error
}

// NewSessionID returns an opaque 128-bit session identifier.
func NewSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
