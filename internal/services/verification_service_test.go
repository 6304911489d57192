package services

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureshare/secureshare/internal/models"
	pkgauth "github.com/secureshare/secureshare/pkg/auth"
)

type verificationFixture struct {
	svc     *VerificationService
	users   *MockUserRepository
	txUsers *MockTransactionalUserRepository
	tokens  *MockVerificationTokenRepository
	revoked *MockTokenRevocationRepository
	email   *MockEmailService
}

func newVerificationFixture() *verificationFixture {
	users := &MockUserRepository{}
	txUsers := &MockTransactionalUserRepository{}
	tokens := &MockVerificationTokenRepository{}
	revoked := &MockTokenRevocationRepository{}
	email := &MockEmailService{}

	svc := NewVerificationService(users, txUsers, tokens, revoked, email, testGuard(), testLogger(), testAuditLogger())
	return &verificationFixture{svc: svc, users: users, txUsers: txUsers, tokens: tokens, revoked: revoked, email: email}
}

func TestVerificationService_InitiateEmailVerification(t *testing.T) {
	f := newVerificationFixture()

	err := f.svc.InitiateEmailVerification(context.Background(), "user123", "user@example.com")
	require.NoError(t, err)

	require.Len(t, f.tokens.CreatedTokens, 1)
	stored := f.tokens.CreatedTokens[0]
	assert.Equal(t, "user123", stored.UserID)
	assert.Equal(t, models.TokenPurposeEmailVerify, stored.Purpose)
	assert.WithinDuration(t, time.Now().Add(EmailVerificationTokenTTL), stored.ExpiresAt, time.Minute)

	require.Len(t, f.email.SentVerifications, 1)
	raw := f.email.SentVerifications[0]
	assert.Len(t, raw, VerificationTokenLength)
	// Only the hash is persisted, never the raw token.
	assert.NotEqual(t, raw, stored.TokenHash)
	assert.Equal(t, hashToken(raw), stored.TokenHash)
}

func TestVerificationService_VerifyEmail(t *testing.T) {
	raw, hash, err := newOpaqueToken()
	require.NoError(t, err)

	t.Run("consumes the token and flips the flag atomically", func(t *testing.T) {
		f := newVerificationFixture()
		token := NewTestVerificationToken("tok1", "user123", hash, models.TokenPurposeEmailVerify)
		f.tokens.GetByTokenHashFunc = func(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
			assert.Equal(t, hash, tokenHash)
			assert.Equal(t, models.TokenPurposeEmailVerify, purpose)
			return token, nil
		}
		markedUsed, flagSet := false, false
		f.tokens.MarkUsedTxFunc = func(ctx context.Context, tx pgx.Tx, tokenID string) error {
			markedUsed = true
			assert.Equal(t, "tok1", tokenID)
			return nil
		}
		f.txUsers.SetEmailVerifiedFunc = func(ctx context.Context, tx pgx.Tx, id string) error {
			flagSet = true
			assert.Equal(t, "user123", id)
			return nil
		}

		require.NoError(t, f.svc.VerifyEmail(context.Background(), raw))
		assert.True(t, markedUsed)
		assert.True(t, flagSet)
	})

	t.Run("second consume fails with InvalidToken", func(t *testing.T) {
		f := newVerificationFixture()
		token := NewTestVerificationToken("tok1", "user123", hash, models.TokenPurposeEmailVerify)
		f.tokens.GetByTokenHashFunc = func(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
			return token, nil
		}
		now := time.Now()
		f.tokens.MarkUsedTxFunc = func(ctx context.Context, tx pgx.Tx, tokenID string) error {
			if token.UsedAt != nil {
				return models.ErrInvalidToken
			}
			token.UsedAt = &now
			return nil
		}

		require.NoError(t, f.svc.VerifyEmail(context.Background(), raw))
		assert.ErrorIs(t, f.svc.VerifyEmail(context.Background(), raw), models.ErrInvalidToken)
	})

	t.Run("expired token is invalid", func(t *testing.T) {
		f := newVerificationFixture()
		token := NewTestVerificationToken("tok1", "user123", hash, models.TokenPurposeEmailVerify)
		token.ExpiresAt = time.Now().Add(-time.Minute)
		f.tokens.GetByTokenHashFunc = func(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
			return token, nil
		}

		assert.ErrorIs(t, f.svc.VerifyEmail(context.Background(), raw), models.ErrInvalidToken)
	})

	t.Run("unknown token is invalid", func(t *testing.T) {
		f := newVerificationFixture()
		assert.ErrorIs(t, f.svc.VerifyEmail(context.Background(), raw), models.ErrInvalidToken)
	})

	t.Run("malformed token is rejected without a lookup", func(t *testing.T) {
		f := newVerificationFixture()
		looked := false
		f.tokens.GetByTokenHashFunc = func(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
			looked = true
			return nil, models.ErrNotFound
		}

		assert.ErrorIs(t, f.svc.VerifyEmail(context.Background(), "short"), models.ErrInvalidToken)
		assert.ErrorIs(t, f.svc.VerifyEmail(context.Background(), "UPPER!"+raw[6:]), models.ErrInvalidToken)
		assert.False(t, looked)
	})
}

func TestVerificationService_ForgotPassword(t *testing.T) {
	t.Run("issues a reset token for an existing account", func(t *testing.T) {
		f := newVerificationFixture()
		f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
			return NewTestUser("user123", email, "User"), nil
		}

		require.NoError(t, f.svc.ForgotPassword(context.Background(), "user@example.com"))
		require.Len(t, f.tokens.CreatedTokens, 1)
		assert.Equal(t, models.TokenPurposePasswordReset, f.tokens.CreatedTokens[0].Purpose)
		assert.Len(t, f.email.SentResets, 1)
	})

	t.Run("unknown account still succeeds", func(t *testing.T) {
		f := newVerificationFixture()
		assert.NoError(t, f.svc.ForgotPassword(context.Background(), "nobody@example.com"))
		assert.Empty(t, f.email.SentResets)
	})

	t.Run("internal failure still succeeds", func(t *testing.T) {
		f := newVerificationFixture()
		f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
			return NewTestUser("user123", email, "User"), nil
		}
		f.tokens.CreateFunc = func(ctx context.Context, token *models.VerificationToken) error {
			return models.ErrInternalServer
		}

		assert.NoError(t, f.svc.ForgotPassword(context.Background(), "user@example.com"))
	})

	t.Run("rate limit is surfaced", func(t *testing.T) {
		f := newVerificationFixture()
		for i := 0; i < 3; i++ {
			require.NoError(t, f.svc.ForgotPassword(context.Background(), "nobody@example.com"))
		}
		assert.ErrorIs(t, f.svc.ForgotPassword(context.Background(), "nobody@example.com"), models.ErrRateLimited)
	})
}

func TestVerificationService_ResendVerification(t *testing.T) {
	t.Run("resends for an unverified account", func(t *testing.T) {
		f := newVerificationFixture()
		f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
			user := NewTestUser("user123", email, "User")
			user.EmailVerified = false
			return user, nil
		}

		require.NoError(t, f.svc.ResendVerification(context.Background(), "user@example.com"))
		assert.Len(t, f.email.SentVerifications, 1)
	})

	t.Run("already verified account gets nothing", func(t *testing.T) {
		f := newVerificationFixture()
		f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
			return NewTestUser("user123", email, "User"), nil
		}

		require.NoError(t, f.svc.ResendVerification(context.Background(), "user@example.com"))
		assert.Empty(t, f.email.SentVerifications)
	})

	t.Run("unknown account still succeeds", func(t *testing.T) {
		f := newVerificationFixture()
		assert.NoError(t, f.svc.ResendVerification(context.Background(), "nobody@example.com"))
	})
}

func TestVerificationService_ResetPassword(t *testing.T) {
	raw, hash, err := newOpaqueToken()
	require.NoError(t, err)

	t.Run("installs the new password and revokes all tokens", func(t *testing.T) {
		f := newVerificationFixture()
		token := NewTestVerificationToken("tok1", "user123", hash, models.TokenPurposePasswordReset)
		f.tokens.GetByTokenHashFunc = func(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
			assert.Equal(t, models.TokenPurposePasswordReset, purpose)
			return token, nil
		}
		var newHash string
		f.txUsers.UpdatePasswordTxFunc = func(ctx context.Context, tx pgx.Tx, id, passwordHash string) error {
			newHash = passwordHash
			return nil
		}
		var revokedReason string
		f.revoked.RevokeAllUserTokensFunc = func(ctx context.Context, userID, reason string) error {
			assert.Equal(t, "user123", userID)
			revokedReason = reason
			return nil
		}

		require.NoError(t, f.svc.ResetPassword(context.Background(), raw, "NewStr0ngPass!"))
		assert.Equal(t, "password_reset", revokedReason)

		ok, err := pkgauth.VerifyPassword("NewStr0ngPass!", newHash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("used token is rejected", func(t *testing.T) {
		f := newVerificationFixture()
		token := NewTestVerificationToken("tok1", "user123", hash, models.TokenPurposePasswordReset)
		now := time.Now()
		token.UsedAt = &now
		f.tokens.GetByTokenHashFunc = func(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
			return token, nil
		}

		assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), raw, "NewStr0ngPass!"), models.ErrInvalidToken)
	})

	t.Run("weak replacement password is rejected", func(t *testing.T) {
		f := newVerificationFixture()
		assert.Error(t, f.svc.ResetPassword(context.Background(), raw, "weak"))
	})
}
