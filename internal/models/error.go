package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled = errors.New("account is disabled")
	ErrAccountLocked   = errors.New("account is temporarily locked")
	ErrRateLimited     = errors.New("rate limit exceeded")

	// Two-factor flow errors
	ErrSessionExpired   = errors.New("pending session expired")
	ErrInvalidCode      = errors.New("invalid verification code")
	ErrTwoFactorEnabled = errors.New("two-factor authentication already enabled")

	// Verification and reset token errors
	ErrInvalidToken = errors.New("invalid or expired token")
)
