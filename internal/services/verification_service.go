package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/secureshare/secureshare/internal/models"
	"github.com/secureshare/secureshare/internal/ratelimit"
	pkgauth "github.com/secureshare/secureshare/pkg/auth"
	pkglogger "github.com/secureshare/secureshare/pkg/logger"
)

const (
	// EmailVerificationTokenTTL is how long a verification link stays valid.
	EmailVerificationTokenTTL = 24 * time.Hour
	// PasswordResetTokenTTL is deliberately short; the link grants a
	// password change without knowing the current password.
	PasswordResetTokenTTL = time.Hour

	// VerificationTokenLength is the hex length of issued tokens.
	VerificationTokenLength = 64
)

// VerificationTokenRepository persists hashed verification/reset tokens
type VerificationTokenRepository interface {
	Create(ctx context.Context, token *models.VerificationToken) error
	GetByTokenHash(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error)
	MarkUsedTx(ctx context.Context, tx pgx.Tx, tokenID string) error
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// TransactionalUserRepository covers the user mutations that must commit in
// the same transaction as the token consumption.
type TransactionalUserRepository interface {
	SetEmailVerified(ctx context.Context, tx pgx.Tx, id string) error
	UpdatePasswordTx(ctx context.Context, tx pgx.Tx, id, passwordHash string) error
}

// VerificationService owns the email-verification and password-reset token
// lifecycles. The enumeration-sensitive entry points (ForgotPassword,
// ResendVerification) never tell the caller whether the account exists.
type VerificationService struct {
	repo        UserRepository
	txRepo      TransactionalUserRepository
	tokenRepo   VerificationTokenRepository
	revokeRepo  TokenRevocationRepository
	email       EmailService
	guard       *ratelimit.Guard
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewVerificationService creates a new VerificationService
func NewVerificationService(
	repo UserRepository,
	txRepo TransactionalUserRepository,
	tokenRepo VerificationTokenRepository,
	revokeRepo TokenRevocationRepository,
	email EmailService,
	guard *ratelimit.Guard,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *VerificationService {
	return &VerificationService{
		repo:        repo,
		txRepo:      txRepo,
		tokenRepo:   tokenRepo,
		revokeRepo:  revokeRepo,
		email:       email,
		guard:       guard,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// InitiateEmailVerification issues a verification token for the user and
// dispatches the email. Called on registration and on explicit resend.
func (s *VerificationService) InitiateEmailVerification(ctx context.Context, userID, email string) error {
	raw, hash, err := newOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate verification token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	token := &models.VerificationToken{
		UserID:    userID,
		TokenHash: hash,
		Purpose:   models.TokenPurposeEmailVerify,
		Email:     email,
		ExpiresAt: time.Now().Add(EmailVerificationTokenTTL),
	}
	if err := s.tokenRepo.Create(ctx, token); err != nil {
		s.logger.Error("failed to store verification token", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.email.SendVerificationEmail(ctx, email, raw, token.ExpiresAt); err != nil {
		// The token stays valid; the user can request a resend.
		s.logger.Error("failed to dispatch verification email", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("verification_email_sent", userID, "", nil)
	return nil
}

// ResendVerification re-issues the verification email. Always succeeds from
// the caller's perspective regardless of whether the account exists or is
// already verified.
func (s *VerificationService) ResendVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if res := s.guard.Check(ctx, email, ratelimit.ActionResendVerification); !res.Allowed {
		return models.ErrRateLimited
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("resend verification lookup failed", slog.Any("error", err))
		}
		return nil
	}
	if user.EmailVerified {
		return nil
	}

	if err := s.InitiateEmailVerification(ctx, user.ID, user.Email); err != nil {
		// Swallowed: the always-200 contract outranks the internal failure.
		s.logger.Error("resend verification failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	return nil
}

// VerifyEmail consumes a verification token and marks the user verified.
// The token consumption and the flag flip commit atomically; a reused or
// expired token fails with ErrInvalidToken.
func (s *VerificationService) VerifyEmail(ctx context.Context, rawToken string) error {
	if !wellFormedToken(rawToken) {
		return models.ErrInvalidToken
	}

	token, err := s.tokenRepo.GetByTokenHash(ctx, hashToken(rawToken), models.TokenPurposeEmailVerify)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidToken
		}
		s.logger.Error("verification token lookup failed", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !token.IsValid() {
		return models.ErrInvalidToken
	}

	err = s.tokenRepo.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.tokenRepo.MarkUsedTx(ctx, tx, token.ID); err != nil {
			return err
		}
		return s.txRepo.SetEmailVerified(ctx, tx, token.UserID)
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidToken) {
			return models.ErrInvalidToken
		}
		s.logger.Error("failed to consume verification token", slog.String("user_id", token.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("email_verified", token.UserID, "", nil)
	return nil
}

// ForgotPassword issues a password reset token and emails the link. Always
// succeeds from the caller's perspective regardless of whether the account
// exists; only the rate limit is surfaced.
func (s *VerificationService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if res := s.guard.Check(ctx, email, ratelimit.ActionPasswordResetRequest); !res.Allowed {
		return models.ErrRateLimited
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("forgot password lookup failed", slog.Any("error", err))
		}
		return nil
	}

	raw, hash, err := newOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return nil
	}

	token := &models.VerificationToken{
		UserID:    user.ID,
		TokenHash: hash,
		Purpose:   models.TokenPurposePasswordReset,
		Email:     user.Email,
		ExpiresAt: time.Now().Add(PasswordResetTokenTTL),
	}
	if err := s.tokenRepo.Create(ctx, token); err != nil {
		s.logger.Error("failed to store reset token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil
	}

	if err := s.email.SendPasswordResetEmail(ctx, user.Email, raw, token.ExpiresAt); err != nil {
		s.logger.Error("failed to dispatch reset email", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil
	}

	s.auditLogger.LogAccountAction("password_reset_requested", user.ID, "", nil)
	return nil
}

// ResetPassword consumes a reset token and installs the new password. Every
// outstanding refresh token for the user is revoked so stolen sessions die
// with the old password.
func (s *VerificationService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if !wellFormedToken(rawToken) {
		return models.ErrInvalidToken
	}
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	token, err := s.tokenRepo.GetByTokenHash(ctx, hashToken(rawToken), models.TokenPurposePasswordReset)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidToken
		}
		s.logger.Error("reset token lookup failed", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !token.IsValid() {
		return models.ErrInvalidToken
	}

	// Hash before the transaction; bcrypt is too slow to hold a tx open.
	passwordHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash new password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	err = s.tokenRepo.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.tokenRepo.MarkUsedTx(ctx, tx, token.ID); err != nil {
			return err
		}
		return s.txRepo.UpdatePasswordTx(ctx, tx, token.UserID, passwordHash)
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidToken) {
			return models.ErrInvalidToken
		}
		s.logger.Error("failed to consume reset token", slog.String("user_id", token.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.revokeRepo.RevokeAllUserTokens(ctx, token.UserID, "password_reset"); err != nil {
		s.logger.Error("failed to revoke user tokens after reset", slog.String("user_id", token.UserID), slog.Any("error", err))
	}

	s.auditLogger.LogPasswordChange(token.UserID, "", true)
	return nil
}

// newOpaqueToken returns a fresh token and its storage hash
func newOpaqueToken() (raw, hash string, err error) {
	buf := make([]byte, VerificationTokenLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	raw = hex.EncodeToString(buf)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// wellFormedToken bounds token length before any storage lookup
func wellFormedToken(raw string) bool {
	if len(raw) < 48 || len(raw) > 96 {
		return false
	}
	for _, c := range raw {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
