package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/secureshare/secureshare/internal/auth"
	"github.com/secureshare/secureshare/internal/models"
	"github.com/secureshare/secureshare/internal/ratelimit"
	"github.com/secureshare/secureshare/internal/session"
	pkgauth "github.com/secureshare/secureshare/pkg/auth"
	pkglogger "github.com/secureshare/secureshare/pkg/logger"
)

const (
	// LockoutThreshold is the number of consecutive failed logins before the
	// account is temporarily locked.
	LockoutThreshold = 5
	// LockoutDuration is how long a locked account stays locked.
	LockoutDuration = 15 * time.Minute

	// PendingSessionTTL bounds the window between password verification and
	// 2FA completion.
	PendingSessionTTL = 10 * time.Minute
	// PendingSessionMaxAttempts caps code guesses against one pending
	// session before it is destroyed.
	PendingSessionMaxAttempts = 5

	// TrustedDeviceTTL is the lifetime of a remember-this-device grant.
	TrustedDeviceTTL = 30 * 24 * time.Hour
)

// UserRepository defines the persistence operations the services need
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, email, name string, emailVerified bool) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockout time.Duration) error
	ClearLoginFailures(ctx context.Context, id string) error
	SetTOTPSecret(ctx context.Context, id string, encrypted, nonce []byte, backupCodeHashes []string) error
	EnableTwoFactor(ctx context.Context, id string, lastUsedStep int64) error
	DisableTwoFactor(ctx context.Context, id string) error
	SetTOTPLastUsedStep(ctx context.Context, id string, step int64) error
	SetBackupCodes(ctx context.Context, id string, hashes []string) error
	Delete(ctx context.Context, id string) error
}

// TokenRevocationRepository defines the interface for token revocation operations
type TokenRevocationRepository interface {
	RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	RevokeAllUserTokens(ctx context.Context, userID, reason string) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	AreUserTokensRevokedSince(ctx context.Context, userID string, issuedAt time.Time) (bool, error)
}

// TrustedDeviceRepository defines the interface for device-trust records
type TrustedDeviceRepository interface {
	Create(ctx context.Context, device *models.TrustedDevice) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.TrustedDevice, error)
	DeleteForUser(ctx context.Context, userID string) error
}

// AuthService drives the login state machine: password check, lockout,
// the optional 2FA challenge, and token issuance.
type AuthService struct {
	repo         UserRepository
	revokeRepo   TokenRevocationRepository
	deviceRepo   TrustedDeviceRepository
	sessions     session.Store
	verification EmailVerificationInitiator
	tm           *auth.TokenManager
	totp         *auth.TOTPManager
	guard        *ratelimit.Guard
	timing       *auth.TimingDelay
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	repo UserRepository,
	revokeRepo TokenRevocationRepository,
	deviceRepo TrustedDeviceRepository,
	sessions session.Store,
	verification EmailVerificationInitiator,
	tm *auth.TokenManager,
	totp *auth.TOTPManager,
	guard *ratelimit.Guard,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		repo:         repo,
		revokeRepo:   revokeRepo,
		deviceRepo:   deviceRepo,
		sessions:     sessions,
		verification: verification,
		tm:           tm,
		totp:         totp,
		guard:        guard,
		timing:       timing,
		logger:       logger,
		auditLogger:  auditLogger,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	EmailVerified    bool   `json:"email_verified"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// AuthResponse carries a freshly issued token pair plus the user it belongs to
type AuthResponse struct {
	AccessToken  string        `json:"-"`
	RefreshToken string        `json:"-"`
	User         *UserResponse `json:"user"`
}

// LoginInput is everything the login state machine needs from the request
type LoginInput struct {
	Email              string
	Password           string
	IPAddress          string
	UserAgent          string
	TrustedDeviceToken string // raw trusted-device cookie value, empty when absent
}

// LoginResult is either a completed login (Auth set) or a 2FA challenge
// (TwoFactorRequired set with the pending session id the client must echo).
type LoginResult struct {
	TwoFactorRequired bool
	PendingSessionID  string
	Auth              *AuthResponse
}

// Login authenticates a user. Ordering is deliberate: rate limit before the
// user lookup, lockout before the bcrypt comparison.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	start := time.Now()
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, models.ErrUnauthorized
	}

	// Keyed by client IP so one attacker cannot exhaust the budget for an
	// account; the per-account defense is the lockout counter below.
	limiterKey := in.IPAddress
	if limiterKey == "" {
		limiterKey = email
	}
	if res := s.guard.Check(ctx, limiterKey, ratelimit.ActionLoginAttempt); !res.Allowed {
		s.logger.Warn("login rate limited", slog.String("ip", in.IPAddress))
		return nil, models.ErrRateLimited
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				IPAddress:     in.IPAddress,
				FailureReason: "invalid_credentials",
				Success:       false,
			})
			s.timing.WaitFrom(start, false)
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.IsLocked() {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     in.IPAddress,
			FailureReason: "account_locked",
			Success:       false,
		})
		return nil, models.ErrAccountLocked
	}

	if !user.IsActive {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     in.IPAddress,
			FailureReason: "account_disabled",
			Success:       false,
		})
		return nil, models.ErrAccountDisabled
	}

	ok, err := pkgauth.VerifyPassword(in.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !ok {
		if err := s.repo.RecordLoginFailure(ctx, user.ID, LockoutThreshold, LockoutDuration); err != nil {
			s.logger.Error("failed to record login failure", slog.String("user_id", user.ID), slog.Any("error", err))
		}
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     in.IPAddress,
			FailureReason: "invalid_credentials",
			Success:       false,
		})
		s.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}

	if err := s.repo.ClearLoginFailures(ctx, user.ID); err != nil {
		s.logger.Error("failed to clear login failures", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	s.guard.Reset(ctx, limiterKey, ratelimit.ActionLoginAttempt)

	if user.TwoFactorEnabled {
		if in.TrustedDeviceToken != "" && s.isTrustedDevice(ctx, user.ID, in.TrustedDeviceToken) {
			s.logger.Info("2fa bypassed via trusted device", slog.String("user_id", user.ID))
		} else {
			pending, err := s.createPendingSession(ctx, user.ID)
			if err != nil {
				s.logger.Error("failed to create pending session", slog.String("user_id", user.ID), slog.Any("error", err))
				return nil, models.ErrInternalServer
			}
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType: "login_2fa_challenge",
				UserID:    user.ID,
				IPAddress: in.IPAddress,
				Success:   true,
			})
			return &LoginResult{TwoFactorRequired: true, PendingSessionID: pending}, nil
		}
	}

	resp, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: in.IPAddress,
		Success:   true,
	})

	return &LoginResult{Auth: resp}, nil
}

// Complete2FAInput carries the second factor submitted against a pending session
type Complete2FAInput struct {
	SessionID      string
	Code           string // 6-digit TOTP code or 8-char backup code
	RememberDevice bool
	IPAddress      string
	UserAgent      string
}

// Complete2FAResult is the issued token pair plus the optional trusted-device
// cookie value (set only when RememberDevice was requested and granted).
type Complete2FAResult struct {
	Auth               *AuthResponse
	TrustedDeviceToken string
}

// Complete2FA finalizes a login whose password step already succeeded. The
// pending session is consumed exactly once; a wrong code re-creates it with
// the failure counter bumped so remaining attempts stay bounded.
func (s *AuthService) Complete2FA(ctx context.Context, in Complete2FAInput) (*Complete2FAResult, error) {
	if res := s.guard.Check(ctx, in.SessionID, ratelimit.ActionTwoFactorVerify); !res.Allowed {
		return nil, models.ErrRateLimited
	}

	pending, err := s.sessions.Get(ctx, in.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
			return nil, models.ErrSessionExpired
		case errors.Is(err, session.ErrBackend):
			s.logger.Error("pending session store unavailable", slog.Any("error", err))
			return nil, models.ErrInternalServer
		default:
			return nil, models.ErrInternalServer
		}
	}

	user, err := s.repo.GetByID(ctx, pending.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = s.sessions.Delete(ctx, in.SessionID)
			return nil, models.ErrSessionExpired
		}
		s.logger.Error("failed to load user for 2fa completion", slog.String("user_id", pending.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !user.TwoFactorEnabled {
		_ = s.sessions.Delete(ctx, in.SessionID)
		return nil, models.ErrSessionExpired
	}

	valid, err := s.verifySecondFactor(ctx, user, in.Code)
	if err != nil {
		return nil, err
	}
	if !valid {
		if err := s.sessions.RecordFailure(ctx, in.SessionID, PendingSessionMaxAttempts); err != nil {
			if errors.Is(err, session.ErrAttemptsExceeded) {
				s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
					EventType:     "2fa_failed",
					UserID:        user.ID,
					IPAddress:     in.IPAddress,
					FailureReason: "attempts_exceeded",
					Success:       false,
				})
				return nil, models.ErrSessionExpired
			}
			s.logger.Error("failed to record 2fa failure", slog.Any("error", err))
		}
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "2fa_failed",
			UserID:        user.ID,
			IPAddress:     in.IPAddress,
			FailureReason: "invalid_code",
			Success:       false,
		})
		return nil, models.ErrInvalidCode
	}

	// Consume only after a valid code so failed attempts keep their counter.
	if _, err := s.sessions.Consume(ctx, in.SessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
			// Lost the race to a concurrent completion.
			return nil, models.ErrSessionExpired
		}
		s.logger.Error("failed to consume pending session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	resp, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	result := &Complete2FAResult{Auth: resp}
	if in.RememberDevice {
		token, err := s.grantTrustedDevice(ctx, user.ID, in.UserAgent)
		if err != nil {
			// Trust grant is best-effort; the login itself already succeeded.
			s.logger.Error("failed to grant trusted device", slog.String("user_id", user.ID), slog.Any("error", err))
		} else {
			result.TrustedDeviceToken = token
		}
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: in.IPAddress,
		Success:   true,
		Metadata:  map[string]string{"second_factor": "true"},
	})

	return result, nil
}

// RefreshToken rotates a refresh token into a new token pair. The old
// refresh token is revoked so each one is good for exactly one rotation.
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenString string) (*AuthResponse, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}
	if claims.Type != models.TokenTypeRefresh {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	revoked, err := s.revokeRepo.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("revocation check failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if revoked {
		return nil, models.ErrUnauthorized
	}
	if claims.IssuedAt != nil {
		blanket, err := s.revokeRepo.AreUserTokensRevokedSince(ctx, claims.UserID, claims.IssuedAt.Time)
		if err != nil {
			s.logger.Error("blanket revocation check failed", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		if blanket {
			return nil, models.ErrUnauthorized
		}
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !user.IsActive || user.IsLocked() {
		return nil, models.ErrUnauthorized
	}
	if user.PasswordChangedAt != nil && claims.IssuedAt != nil && claims.IssuedAt.Time.Before(*user.PasswordChangedAt) {
		s.logger.Info("token refresh blocked: issued before password change", slog.String("user_id", user.ID))
		return nil, models.ErrUnauthorized
	}

	if err := s.revokeRepo.RevokeToken(ctx, claims.ID, user.ID, models.TokenTypeRefresh, claims.ExpiresAt.Time, "rotated"); err != nil {
		s.logger.Error("failed to revoke rotated refresh token", slog.String("jti", claims.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	resp, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))
	return resp, nil
}

// Register creates a new user account and logs them in
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if email == "" || name == "" {
		return nil, models.ErrBadRequest
	}
	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check if user exists", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hashedPassword,
		Name:         name,
	}
	created, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("user_registered", created.ID, "", nil)

	// Mail dispatch failures never fail registration; the user can request
	// a resend.
	if err := s.verification.InitiateEmailVerification(ctx, created.ID, created.Email); err != nil {
		s.logger.Error("failed to send verification email after registration",
			slog.String("user_id", created.ID), slog.Any("error", err))
	}

	return s.issueTokens(created)
}

// Logout revokes the refresh token best-effort and, when the access token is
// still parseable, blacklists its jti for the remainder of its lifetime.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if refreshToken != "" {
		if claims, err := s.tm.ValidateToken(refreshToken); err == nil && claims.Type == models.TokenTypeRefresh {
			if err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, "logout"); err != nil {
				s.logger.Error("failed to revoke refresh token", slog.String("jti", claims.ID), slog.Any("error", err))
			}
		}
	}
	if accessToken != "" {
		if claims, err := s.tm.ValidateToken(accessToken); err == nil && claims.Type == models.TokenTypeAccess {
			if err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, "logout"); err != nil {
				s.logger.Error("failed to revoke access token", slog.String("jti", claims.ID), slog.Any("error", err))
			}
			s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
		}
	}
	return nil
}

func (s *AuthService) issueTokens(user *models.User) (*AuthResponse, error) {
	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userModelToResponse(user),
	}, nil
}

func (s *AuthService) createPendingSession(ctx context.Context, userID string) (string, error) {
	id, err := session.NewSessionID()
	if err != nil {
		return "", err
	}
	now := time.Now()
	pending := &models.PendingSession{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(PendingSessionTTL),
	}
	if err := s.sessions.Create(ctx, pending, PendingSessionTTL); err != nil {
		return "", err
	}
	return id, nil
}

// verifySecondFactor accepts either a 6-digit TOTP code or an 8-character
// backup code. Backup-code consumption persists the reduced set immediately.
func (s *AuthService) verifySecondFactor(ctx context.Context, user *models.User, code string) (bool, error) {
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
		s.logger.Info("backup code consumed",
			slog.String("user_id", user.ID),
			slog.Int("remaining", len(remaining)))
		return true, nil
	}

	secretBytes, err := s.totp.DecryptSecret(user.TOTPSecretEncrypted, user.TOTPSecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt totp secret", slog.String("user_id", user.ID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}
	valid, step, err := s.totp.ValidateCode(string(secretBytes), code, user.TOTPLastUsedStep)
	if err != nil {
		return false, nil
	}
	if !valid {
		return false, nil
	}
	if err := s.repo.SetTOTPLastUsedStep(ctx, user.ID, step); err != nil {
		s.logger.Error("failed to persist totp step", slog.String("user_id", user.ID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}
	return true, nil
}

// isTrustedDevice validates a trusted-device cookie against the user now
// logging in. The record must exist, be unexpired, and belong to this user;
// a valid token for a different user never bypasses their challenge.
func (s *AuthService) isTrustedDevice(ctx context.Context, userID, token string) bool {
	device, err := s.deviceRepo.GetByTokenHash(ctx, hashDeviceToken(token))
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("trusted device lookup failed", slog.Any("error", err))
		}
		return false
	}
	return device.UserID == userID && !device.IsExpired()
}

func (s *AuthService) grantTrustedDevice(ctx context.Context, userID, userAgent string) (string, error) {
	token := uuid.NewString() + uuid.NewString()
	device := &models.TrustedDevice{
		UserID:    userID,
		TokenHash: hashDeviceToken(token),
		UserAgent: userAgent,
		ExpiresAt: time.Now().Add(TrustedDeviceTTL),
	}
	if err := s.deviceRepo.Create(ctx, device); err != nil {
		return "", err
	}
	return token, nil
}

func hashDeviceToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.Name,
		EmailVerified:    user.EmailVerified,
		TwoFactorEnabled: user.TwoFactorEnabled,
		CreatedAt:        user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        user.UpdatedAt.Format(time.RFC3339),
	}
}
