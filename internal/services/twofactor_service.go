package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/secureshare/secureshare/internal/auth"
	"github.com/secureshare/secureshare/internal/models"
	pkgauth "github.com/secureshare/secureshare/pkg/auth"
	pkglogger "github.com/secureshare/secureshare/pkg/logger"
)

// TwoFactorService handles the 2FA enrollment lifecycle: disabled →
// pending-setup (secret stored, flag off) → enabled (first code verified).
type TwoFactorService struct {
	repo        UserRepository
	deviceRepo  TrustedDeviceRepository
	totp        *auth.TOTPManager
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(repo UserRepository, deviceRepo TrustedDeviceRepository, totp *auth.TOTPManager, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *TwoFactorService {
	return &TwoFactorService{
		repo:        repo,
		deviceRepo:  deviceRepo,
		totp:        totp,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// SetupResponse is returned from 2FA setup. Secret and BackupCodes appear in
// plaintext exactly once, here; only hashes are persisted.
type SetupResponse struct {
	Secret        string   `json:"secret"`
	OTPAuthURL    string   `json:"otpauth_url"`
	QRCodeDataURL string   `json:"qr_code"`
	BackupCodes   []string `json:"backup_codes"`
}

// Setup generates a fresh TOTP secret and backup codes for the user. Calling
// it again before verification replaces the pending secret; calling it with
// 2FA already enabled is rejected.
func (s *TwoFactorService) Setup(ctx context.Context, userID string) (*SetupResponse, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for 2fa setup", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if user.TwoFactorEnabled {
		return nil, models.ErrTwoFactorEnabled
	}

	setup, err := s.totp.GenerateSecret(user.Email)
	if err != nil {
		s.logger.Error("failed to generate totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	codes, err := s.totp.GenerateBackupCodes(auth.BackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = auth.HashBackupCode(code)
	}

	if err := s.repo.SetTOTPSecret(ctx, userID, setup.EncryptedSecret, setup.Nonce, hashes); err != nil {
		s.logger.Error("failed to store totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("2fa_setup_started", userID, "", nil)

	return &SetupResponse{
		Secret:        setup.Secret,
		OTPAuthURL:    setup.OTPAuthURL,
		QRCodeDataURL: setup.QRCodeDataURL,
		BackupCodes:   codes,
	}, nil
}

// VerifyAndEnable proves the user captured the pending secret by validating
// one code against it, then flips the enabled flag.
func (s *TwoFactorService) VerifyAndEnable(ctx context.Context, userID, code string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for 2fa verify", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if user.TwoFactorEnabled {
		return models.ErrTwoFactorEnabled
	}
	if len(user.TOTPSecretEncrypted) == 0 {
		// No pending setup to verify against.
		return models.ErrBadRequest
	}

	secretBytes, err := s.totp.DecryptSecret(user.TOTPSecretEncrypted, user.TOTPSecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	valid, step, err := s.totp.ValidateCode(string(secretBytes), strings.TrimSpace(code), user.TOTPLastUsedStep)
	if err != nil || !valid {
		s.auditLogger.LogAccountAction("2fa_enable_failed", userID, "", map[string]string{"reason": "invalid_code"})
		return models.ErrInvalidCode
	}

	if err := s.repo.EnableTwoFactor(ctx, userID, step); err != nil {
		s.logger.Error("failed to enable 2fa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("2fa_enabled", userID, "", nil)
	return nil
}

// Disable turns 2FA off. It requires the account password plus a current
// code or backup code, and drops every trusted-device grant since those were
// earned through the challenge being removed.
func (s *TwoFactorService) Disable(ctx context.Context, userID, password, code string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for 2fa disable", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !user.TwoFactorEnabled {
		return models.ErrBadRequest
	}

	ok, err := pkgauth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !ok {
		s.auditLogger.LogAccountAction("2fa_disable_failed", userID, "", map[string]string{"reason": "invalid_password"})
		return models.ErrUnauthorized
	}

	valid, err := s.checkCodeOrBackup(ctx, user, code)
	if err != nil {
		return err
	}
	if !valid {
		s.auditLogger.LogAccountAction("2fa_disable_failed", userID, "", map[string]string{"reason": "invalid_code"})
		return models.ErrInvalidCode
	}

	if err := s.repo.DisableTwoFactor(ctx, userID); err != nil {
		s.logger.Error("failed to disable 2fa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if err := s.deviceRepo.DeleteForUser(ctx, userID); err != nil {
		s.logger.Error("failed to drop trusted devices", slog.String("user_id", userID), slog.Any("error", err))
	}

	s.auditLogger.LogAccountAction("2fa_disabled", userID, "", nil)
	return nil
}

// RegenerateBackupCodes replaces the stored set with a fresh one. Requires
// the account password; previously issued codes stop working immediately.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for backup code regen", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !user.TwoFactorEnabled {
		return nil, models.ErrBadRequest
	}

	ok, err := pkgauth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !ok {
		return nil, models.ErrUnauthorized
	}

	codes, err := s.totp.GenerateBackupCodes(auth.BackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = auth.HashBackupCode(code)
	}
	if err := s.repo.SetBackupCodes(ctx, userID, hashes); err != nil {
		s.logger.Error("failed to store backup codes", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("backup_codes_regenerated", userID, "", nil)
	return codes, nil
}

func (s *TwoFactorService) checkCodeOrBackup(ctx context.Context, user *models.User, code string) (bool, error) {
	code = strings.TrimSpace(code)

	if len(code) == auth.BackupCodeLength {
		consumed, remaining := auth.ConsumeBackupCode(code, user.BackupCodeHashes)
		if !consumed {
			return false, nil
		}
		if err := s.repo.SetBackupCodes(ctx, user.ID, remaining); err != nil {
			s.logger.Error("failed to persist consumed backup code", slog.String("user_id", user.ID), slog.Any("error", err))
			return false, models.ErrInternalServer
		}
		return true, nil
	}

	secretBytes, err := s.totp.DecryptSecret(user.TOTPSecretEncrypted, user.TOTPSecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt totp secret", slog.String("user_id", user.ID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}
	valid, step, err := s.totp.ValidateCode(string(secretBytes), code, user.TOTPLastUsedStep)
	if err != nil || !valid {
		return false, nil
	}
	if err := s.repo.SetTOTPLastUsedStep(ctx, user.ID, step); err != nil {
		s.logger.Error("failed to persist totp step", slog.String("user_id", user.ID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}
	return true, nil
}
