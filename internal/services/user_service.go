package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/secureshare/secureshare/internal/models"
	"github.com/secureshare/secureshare/internal/ratelimit"
	pkgauth "github.com/secureshare/secureshare/pkg/auth"
	pkglogger "github.com/secureshare/secureshare/pkg/logger"
)

// EmailVerificationInitiator issues a verification token and dispatches the
// email. Satisfied by VerificationService.
type EmailVerificationInitiator interface {
	InitiateEmailVerification(ctx context.Context, userID, email string) error
}

// UserService handles profile and account lifecycle operations
type UserService struct {
	repo         UserRepository
	revokeRepo   TokenRevocationRepository
	deviceRepo   TrustedDeviceRepository
	verification EmailVerificationInitiator
	guard        *ratelimit.Guard
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
}

// NewUserService creates a new UserService
func NewUserService(
	repo UserRepository,
	revokeRepo TokenRevocationRepository,
	deviceRepo TrustedDeviceRepository,
	verification EmailVerificationInitiator,
	guard *ratelimit.Guard,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *UserService {
	return &UserService{
		repo:         repo,
		revokeRepo:   revokeRepo,
		deviceRepo:   deviceRepo,
		verification: verification,
		guard:        guard,
		logger:       logger,
		auditLogger:  auditLogger,
	}
}

// GetProfile returns the current user's profile
func (s *UserService) GetProfile(ctx context.Context, userID string) (*UserResponse, error) {
	if res := s.guard.Check(ctx, userID, ratelimit.ActionGetProfile); !res.Allowed {
		return nil, models.ErrRateLimited
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return userModelToResponse(user), nil
}

// UpdateProfileInput carries the editable profile fields
type UpdateProfileInput struct {
	Email string
	Name  string
}

// UpdateProfile changes the user's email and/or display name. Changing the
// email clears the verified flag and dispatches a fresh verification link.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*UserResponse, error) {
	if res := s.guard.Check(ctx, userID, ratelimit.ActionProfileUpdate); !res.Allowed {
		return nil, models.ErrRateLimited
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	name := strings.TrimSpace(in.Name)
	if email == "" {
		email = user.Email
	}
	if name == "" {
		name = user.Name
	}

	emailChanged := email != user.Email
	emailVerified := user.EmailVerified
	if emailChanged {
		if existing, err := s.repo.GetByEmail(ctx, email); err == nil && existing.ID != userID {
			return nil, models.ErrConflict
		} else if err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("email uniqueness check failed", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		emailVerified = false
	}

	updated, err := s.repo.UpdateProfile(ctx, userID, email, name, emailVerified)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to update profile", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if emailChanged {
		if err := s.verification.InitiateEmailVerification(ctx, userID, email); err != nil {
			// Profile change already committed; the user can resend later.
			s.logger.Error("failed to send verification after email change", slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	s.auditLogger.LogAccountAction("profile_updated", userID, "", map[string]string{
		"email_changed": boolString(emailChanged),
	})
	return userModelToResponse(updated), nil
}

// ChangePassword installs a new password after re-verifying the current one.
// Refresh tokens issued before the change stop refreshing; live access
// tokens simply age out.
func (s *UserService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	ok, err := pkgauth.VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !ok {
		s.auditLogger.LogPasswordChange(userID, "", false)
		return models.ErrUnauthorized
	}

	passwordHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if err := s.repo.UpdatePassword(ctx, userID, passwordHash); err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogPasswordChange(userID, "", true)
	return nil
}

// DeleteAccount removes the user after re-verifying their password. Owned
// files, folders, and shares cascade at the database level; every credential
// tied to the account is revoked.
func (s *UserService) DeleteAccount(ctx context.Context, userID, password string) error {
	if res := s.guard.Check(ctx, userID, ratelimit.ActionAccountDeletion); !res.Allowed {
		return models.ErrRateLimited
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	ok, err := pkgauth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !ok {
		s.auditLogger.LogAccountAction("account_deletion_failed", userID, "", map[string]string{"reason": "invalid_password"})
		return models.ErrUnauthorized
	}

	if err := s.revokeRepo.RevokeAllUserTokens(ctx, userID, "account_deleted"); err != nil {
		s.logger.Error("failed to revoke tokens before deletion", slog.String("user_id", userID), slog.Any("error", err))
	}
	if err := s.deviceRepo.DeleteForUser(ctx, userID); err != nil {
		s.logger.Error("failed to drop trusted devices before deletion", slog.String("user_id", userID), slog.Any("error", err))
	}

	if err := s.repo.Delete(ctx, userID); err != nil {
		s.logger.Error("failed to delete user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("account_deleted", userID, "", nil)
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
