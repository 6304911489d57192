package models

import (
	"time"
)

// TrustedDevice records a browser that may skip the 2FA challenge. The
// opaque cookie value is never stored; only its SHA-256 hash is, bound to
// the owning user.
type TrustedDevice struct {
	ID        string
	UserID    string
	TokenHash string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired checks if the device trust has lapsed.
func (d *TrustedDevice) IsExpired() bool {
	return time.Now().After(d.ExpiresAt)
}
