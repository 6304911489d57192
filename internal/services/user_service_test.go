package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureshare/secureshare/internal/models"
	pkgauth "github.com/secureshare/secureshare/pkg/auth"
)

type userServiceFixture struct {
	svc          *UserService
	users        *MockUserRepository
	revoked      *MockTokenRevocationRepository
	devices      *MockTrustedDeviceRepository
	verification *MockEmailVerificationInitiator
}

// MockEmailVerificationInitiator implements EmailVerificationInitiator for testing
type MockEmailVerificationInitiator struct {
	InitiateEmailVerificationFunc func(ctx context.Context, userID, email string) error
	Initiated                     []string
}

func (m *MockEmailVerificationInitiator) InitiateEmailVerification(ctx context.Context, userID, email string) error {
	if m.InitiateEmailVerificationFunc != nil {
		return m.InitiateEmailVerificationFunc(ctx, userID, email)
	}
	m.Initiated = append(m.Initiated, email)
	return nil
}

func newUserServiceFixture() *userServiceFixture {
	users := &MockUserRepository{}
	revoked := &MockTokenRevocationRepository{}
	devices := &MockTrustedDeviceRepository{}
	verification := &MockEmailVerificationInitiator{}
	svc := NewUserService(users, revoked, devices, verification, testGuard(), testLogger(), testAuditLogger())
	return &userServiceFixture{svc: svc, users: users, revoked: revoked, devices: devices, verification: verification}
}

func TestUserService_GetProfile(t *testing.T) {
	f := newUserServiceFixture()
	f.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return NewTestUser(id, "user@example.com", "User"), nil
	}

	resp, err := f.svc.GetProfile(context.Background(), "user123")
	require.NoError(t, err)
	assert.Equal(t, "user123", resp.ID)
	assert.Equal(t, "user@example.com", resp.Email)
}

func TestUserService_UpdateProfile(t *testing.T) {
	t.Run("name-only change keeps the verified flag", func(t *testing.T) {
		f := newUserServiceFixture()
		f.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
			return NewTestUser(id, "user@example.com", "Old Name"), nil
		}
		f.users.UpdateProfileFunc = func(ctx context.Context, id string, email, name string, emailVerified bool) (*models.User, error) {
			assert.Equal(t, "user@example.com", email)
			assert.Equal(t, "New Name", name)
			assert.True(t, emailVerified)
			user := NewTestUser(id, email, name)
			return user, nil
		}

		resp, err := f.svc.UpdateProfile(context.Background(), "user123", UpdateProfileInput{Name: "New Name"})
		require.NoError(t, err)
		assert.Equal(t, "New Name", resp.Name)
		assert.Empty(t, f.verification.Initiated)
	})

	t.Run("email change clears the flag and re-verifies", func(t *testing.T) {
		f := newUserServiceFixture()
		f.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
			return NewTestUser(id, "old@example.com", "User"), nil
		}
		f.users.UpdateProfileFunc = func(ctx context.Context, id string, email, name string, emailVerified bool) (*models.User, error) {
			assert.Equal(t, "new@example.com", email)
			assert.False(t, emailVerified)
			user := NewTestUser(id, email, name)
			user.EmailVerified = false
			return user, nil
		}

		resp, err := f.svc.UpdateProfile(context.Background(), "user123", UpdateProfileInput{Email: "New@Example.com"})
		require.NoError(t, err)
		assert.False(t, resp.EmailVerified)
		assert.Equal(t, []string{"new@example.com"}, f.verification.Initiated)
	})

	t.Run("taken email conflicts", func(t *testing.T) {
		f := newUserServiceFixture()
		f.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
			return NewTestUser(id, "old@example.com", "User"), nil
		}
		f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
			return NewTestUser("someone-else", email, "Other"), nil
		}

		_, err := f.svc.UpdateProfile(context.Background(), "user123", UpdateProfileInput{Email: "taken@example.com"})
		assert.ErrorIs(t, err, models.ErrConflict)
	})
}

func TestUserService_ChangePassword(t *testing.T) {
	hash, err := pkgauth.HashPassword("CurrentPass9!")
	require.NoError(t, err)

	t.Run("re-verifies the current password", func(t *testing.T) {
		f := newUserServiceFixture()
		f.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
			return NewTestUserWithPassword(id, "user@example.com", "User", hash), nil
		}
		var newHash string
		f.users.UpdatePasswordFunc = func(ctx context.Context, id, passwordHash string) error {
			newHash = passwordHash
			return nil
		}

		require.NoError(t, f.svc.ChangePassword(context.Background(), "user123", "CurrentPass9!", "NewStr0ngPass!"))
		ok, err := pkgauth.VerifyPassword("NewStr0ngPass!", newHash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong current password is unauthorized", func(t *testing.T) {
		f := newUserServiceFixture()
		f.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
			return NewTestUserWithPassword(id, "user@example.com", "User", hash), nil
		}

		err := f.svc.ChangePassword(context.Background(), "user123", "wrong", "NewStr0ngPass!")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("weak new password is rejected", func(t *testing.T) {
		f := newUserServiceFixture()
		assert.Error(t, f.svc.ChangePassword(context.Background(), "user123", "CurrentPass9!", "weak"))
	})
}

func TestUserService_DeleteAccount(t *testing.T) {
	hash, err := pkgauth.HashPassword("CurrentPass9!")
	require.NoError(t, err)

	t.Run("revokes credentials then deletes", func(t *testing.T) {
		f := newUserServiceFixture()
		f.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
			return NewTestUserWithPassword(id, "user@example.com", "User", hash), nil
		}
		tokensRevoked, devicesDropped, deleted := false, false, false
		f.revoked.RevokeAllUserTokensFunc = func(ctx context.Context, userID, reason string) error {
			tokensRevoked = true
			assert.Equal(t, "account_deleted", reason)
			return nil
		}
		f.devices.DeleteForUserFunc = func(ctx context.Context, userID string) error {
			devicesDropped = true
			return nil
		}
		f.users.DeleteFunc = func(ctx context.Context, id string) error {
			deleted = true
			assert.Equal(t, "user123", id)
			return nil
		}

		require.NoError(t, f.svc.DeleteAccount(context.Background(), "user123", "CurrentPass9!"))
		assert.True(t, tokensRevoked)
		assert.True(t, devicesDropped)
		assert.True(t, deleted)
	})

	t.Run("wrong password aborts", func(t *testing.T) {
		f := newUserServiceFixture()
		f.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
			return NewTestUserWithPassword(id, "user@example.com", "User", hash), nil
		}
		f.users.DeleteFunc = func(ctx context.Context, id string) error {
			t.Fatal("Delete must not be called")
			return nil
		}

		err := f.svc.DeleteAccount(context.Background(), "user123", "wrong")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("rate limit caps deletion attempts", func(t *testing.T) {
		f := newUserServiceFixture()
		f.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
			return NewTestUserWithPassword(id, "user@example.com", "User", hash), nil
		}

		for i := 0; i < 2; i++ {
			_ = f.svc.DeleteAccount(context.Background(), "user123", "wrong")
		}
		err := f.svc.DeleteAccount(context.Background(), "user123", "CurrentPass9!")
		assert.ErrorIs(t, err, models.ErrRateLimited)
	})
}
