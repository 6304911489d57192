package models

import (
	"time"
)

// PendingSession bridges a verified password and the 2FA challenge. It is
// keyed by an opaque random id, lives for ten minutes, and is consumed on
// successful completion. A bounded attempt counter invalidates it early
// under brute force.
type PendingSession struct {
	ID        string
	UserID    string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired checks if the pending session has outlived its window.
func (s *PendingSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
