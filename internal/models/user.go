package models

import (
	"time"
)

type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Name                string
	IsActive            bool
	EmailVerified       bool
	TwoFactorEnabled    bool
	TOTPSecretEncrypted []byte   // AES-GCM ciphertext, nil until 2FA setup begins
	TOTPSecretNonce     []byte
	TOTPLastUsedStep    int64    // last accepted 30s time step, rejects code replay
	BackupCodeHashes    []string // SHA-256 hex digests of unused backup codes
	FailedLoginCount    int
	LockedUntil         *time.Time
	PasswordChangedAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether the account is inside a lockout window.
func (u *User) IsLocked() bool {
	return u.LockedUntil != nil && time.Now().Before(*u.LockedUntil)
}
