package models

import (
	"time"
)

// Token purposes. A token is valid for exactly one purpose; looking it up
// under the wrong purpose behaves like a missing token.
const (
	TokenPurposeEmailVerify   = "email_verify"
	TokenPurposePasswordReset = "password_reset"
)

// VerificationToken is a single-use opaque token for email verification or
// password reset. Only the SHA-256 hash of the token is persisted.
type VerificationToken struct {
	ID        string
	UserID    string
	TokenHash string
	Purpose   string
	Email     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsExpired checks if the token has expired
func (t *VerificationToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsUsed checks if the token has already been consumed
func (t *VerificationToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsValid checks if the token is still usable (not expired and not used)
func (t *VerificationToken) IsValid() bool {
	return !t.IsExpired() && !t.IsUsed()
}
