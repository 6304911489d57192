package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/secureshare/secureshare/internal/auth"
	"github.com/secureshare/secureshare/internal/models"
	"github.com/secureshare/secureshare/internal/ratelimit"
	pkglogger "github.com/secureshare/secureshare/pkg/logger"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc             func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc          func(ctx context.Context, email string) (*models.User, error)
	CreateFunc              func(ctx context.Context, user *models.User) (*models.User, error)
	UpdateProfileFunc       func(ctx context.Context, id string, email, name string, emailVerified bool) (*models.User, error)
	UpdatePasswordFunc      func(ctx context.Context, id, passwordHash string) error
	RecordLoginFailureFunc  func(ctx context.Context, id string, threshold int, lockout time.Duration) error
	ClearLoginFailuresFunc  func(ctx context.Context, id string) error
	SetTOTPSecretFunc       func(ctx context.Context, id string, encrypted, nonce []byte, backupCodeHashes []string) error
	EnableTwoFactorFunc     func(ctx context.Context, id string, lastUsedStep int64) error
	DisableTwoFactorFunc    func(ctx context.Context, id string) error
	SetTOTPLastUsedStepFunc func(ctx context.Context, id string, step int64) error
	SetBackupCodesFunc      func(ctx context.Context, id string, hashes []string) error
	DeleteFunc              func(ctx context.Context, id string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdateProfile(ctx context.Context, id string, email, name string, emailVerified bool) (*models.User, error) {
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(ctx, id, email, name, emailVerified)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, lockout time.Duration) error {
	if m.RecordLoginFailureFunc != nil {
		return m.RecordLoginFailureFunc(ctx, id, threshold, lockout)
	}
	return nil
}

func (m *MockUserRepository) ClearLoginFailures(ctx context.Context, id string) error {
	if m.ClearLoginFailuresFunc != nil {
		return m.ClearLoginFailuresFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) SetTOTPSecret(ctx context.Context, id string, encrypted, nonce []byte, backupCodeHashes []string) error {
	if m.SetTOTPSecretFunc != nil {
		return m.SetTOTPSecretFunc(ctx, id, encrypted, nonce, backupCodeHashes)
	}
	return nil
}

func (m *MockUserRepository) EnableTwoFactor(ctx context.Context, id string, lastUsedStep int64) error {
	if m.EnableTwoFactorFunc != nil {
		return m.EnableTwoFactorFunc(ctx, id, lastUsedStep)
	}
	return nil
}

func (m *MockUserRepository) DisableTwoFactor(ctx context.Context, id string) error {
	if m.DisableTwoFactorFunc != nil {
		return m.DisableTwoFactorFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) SetTOTPLastUsedStep(ctx context.Context, id string, step int64) error {
	if m.SetTOTPLastUsedStepFunc != nil {
		return m.SetTOTPLastUsedStepFunc(ctx, id, step)
	}
	return nil
}

func (m *MockUserRepository) SetBackupCodes(ctx context.Context, id string, hashes []string) error {
	if m.SetBackupCodesFunc != nil {
		return m.SetBackupCodesFunc(ctx, id, hashes)
	}
	return nil
}

func (m *MockUserRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockTransactionalUserRepository implements TransactionalUserRepository for testing
type MockTransactionalUserRepository struct {
	SetEmailVerifiedFunc func(ctx context.Context, tx pgx.Tx, id string) error
	UpdatePasswordTxFunc func(ctx context.Context, tx pgx.Tx, id, passwordHash string) error
}

func (m *MockTransactionalUserRepository) SetEmailVerified(ctx context.Context, tx pgx.Tx, id string) error {
	if m.SetEmailVerifiedFunc != nil {
		return m.SetEmailVerifiedFunc(ctx, tx, id)
	}
	return nil
}

func (m *MockTransactionalUserRepository) UpdatePasswordTx(ctx context.Context, tx pgx.Tx, id, passwordHash string) error {
	if m.UpdatePasswordTxFunc != nil {
		return m.UpdatePasswordTxFunc(ctx, tx, id, passwordHash)
	}
	return nil
}

// MockTokenRevocationRepository implements TokenRevocationRepository for testing
type MockTokenRevocationRepository struct {
	RevokeTokenFunc               func(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	RevokeAllUserTokensFunc       func(ctx context.Context, userID, reason string) error
	IsTokenRevokedFunc            func(ctx context.Context, jti string) (bool, error)
	AreUserTokensRevokedSinceFunc func(ctx context.Context, userID string, issuedAt time.Time) (bool, error)
}

func (m *MockTokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, jti, userID, tokenType, expiresAt, reason)
	}
	return nil
}

func (m *MockTokenRevocationRepository) RevokeAllUserTokens(ctx context.Context, userID, reason string) error {
	if m.RevokeAllUserTokensFunc != nil {
		return m.RevokeAllUserTokensFunc(ctx, userID, reason)
	}
	return nil
}

func (m *MockTokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if m.IsTokenRevokedFunc != nil {
		return m.IsTokenRevokedFunc(ctx, jti)
	}
	return false, nil
}

func (m *MockTokenRevocationRepository) AreUserTokensRevokedSince(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	if m.AreUserTokensRevokedSinceFunc != nil {
		return m.AreUserTokensRevokedSinceFunc(ctx, userID, issuedAt)
	}
	return false, nil
}

// MockTrustedDeviceRepository implements TrustedDeviceRepository for testing
type MockTrustedDeviceRepository struct {
	CreateFunc         func(ctx context.Context, device *models.TrustedDevice) error
	GetByTokenHashFunc func(ctx context.Context, tokenHash string) (*models.TrustedDevice, error)
	DeleteForUserFunc  func(ctx context.Context, userID string) error
}

func (m *MockTrustedDeviceRepository) Create(ctx context.Context, device *models.TrustedDevice) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, device)
	}
	device.ID = "device_test"
	return nil
}

func (m *MockTrustedDeviceRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.TrustedDevice, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockTrustedDeviceRepository) DeleteForUser(ctx context.Context, userID string) error {
	if m.DeleteForUserFunc != nil {
		return m.DeleteForUserFunc(ctx, userID)
	}
	return nil
}

// MockVerificationTokenRepository implements VerificationTokenRepository for
// testing. WithTransaction runs the callback with a nil tx.
type MockVerificationTokenRepository struct {
	CreateFunc         func(ctx context.Context, token *models.VerificationToken) error
	GetByTokenHashFunc func(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error)
	MarkUsedTxFunc     func(ctx context.Context, tx pgx.Tx, tokenID string) error
	CreatedTokens      []*models.VerificationToken
}

func (m *MockVerificationTokenRepository) Create(ctx context.Context, token *models.VerificationToken) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, token)
	}
	token.ID = "token_test"
	m.CreatedTokens = append(m.CreatedTokens, token)
	return nil
}

func (m *MockVerificationTokenRepository) GetByTokenHash(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash, purpose)
	}
	return nil, models.ErrNotFound
}

func (m *MockVerificationTokenRepository) MarkUsedTx(ctx context.Context, tx pgx.Tx, tokenID string) error {
	if m.MarkUsedTxFunc != nil {
		return m.MarkUsedTxFunc(ctx, tx, tokenID)
	}
	return nil
}

func (m *MockVerificationTokenRepository) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendVerificationEmailFunc  func(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmailFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
	SentVerifications          []string
	SentResets                 []string
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendVerificationEmailFunc != nil {
		return m.SendVerificationEmailFunc(ctx, email, token, expiresAt)
	}
	m.SentVerifications = append(m.SentVerifications, token)
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token, expiresAt)
	}
	m.SentResets = append(m.SentResets, token)
	return nil
}

// testLogger discards output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

// testGuard builds a real guard over the in-memory store
func testGuard() *ratelimit.Guard {
	return ratelimit.NewGuard(ratelimit.NewMemoryStore(), ratelimit.DefaultLimits(), testLogger())
}

func testTiming() *auth.TimingDelay {
	return auth.NewTimingDelay(auth.TimingConfig{})
}

func testTokenManager() *auth.TokenManager {
	return auth.NewTokenManager("test-secret-key-for-services", 15*time.Minute, 7*24*time.Hour)
}

func testTOTPManager() *auth.TOTPManager {
	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")
	tm, err := auth.NewTOTPManager(key, "SecureShare Test")
	if err != nil {
		panic(err)
	}
	return tm
}

// NewTestUser creates an active, verified user
func NewTestUser(id, email, name string) *models.User {
	now := time.Now()
	return &models.User{
		ID:            id,
		Email:         email,
		Name:          name,
		IsActive:      true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewTestUserWithPassword creates a user with the given bcrypt hash
func NewTestUserWithPassword(id, email, name, passwordHash string) *models.User {
	user := NewTestUser(id, email, name)
	user.PasswordHash = passwordHash
	return user
}

// NewTestUserLocked creates a user inside a lockout window
func NewTestUserLocked(id, email, name string) *models.User {
	user := NewTestUser(id, email, name)
	lockedUntil := time.Now().Add(30 * time.Minute)
	user.LockedUntil = &lockedUntil
	user.FailedLoginCount = LockoutThreshold
	return user
}

// NewTestVerificationToken creates an unused, unexpired token
func NewTestVerificationToken(id, userID, tokenHash, purpose string) *models.VerificationToken {
	return &models.VerificationToken{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		Purpose:   purpose,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
}
