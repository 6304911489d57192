package auth

import (
	"testing"
	"time"

	"github.com/secureshare/secureshare/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-tokens-32bytes"

func TestTokenManager_GenerateAndValidateAccessToken(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, 7*24*time.Hour)

	token, err := tm.GenerateAccessToken("user123", "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeAccess, claims.Type)
	assert.Equal(t, "user123", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID, "token must carry a JTI")
}

func TestTokenManager_GenerateRefreshToken(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, 7*24*time.Hour)

	token, err := tm.GenerateRefreshToken("user123", "user@example.com")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeRefresh, claims.Type)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenManager_UniqueJTIs(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, 7*24*time.Hour)

	t1, err := tm.GenerateAccessToken("user123", "user@example.com")
	require.NoError(t, err)
	t2, err := tm.GenerateAccessToken("user123", "user@example.com")
	require.NoError(t, err)

	c1, err := tm.ValidateToken(t1)
	require.NoError(t, err)
	c2, err := tm.ValidateToken(t2)
	require.NoError(t, err)

	assert.NotEqual(t, c1.ID, c2.ID)
}

func TestTokenManager_ExpiredToken(t *testing.T) {
	tm := NewTokenManager(testSecret, -1*time.Minute, 7*24*time.Hour)

	token, err := tm.GenerateAccessToken("user123", "user@example.com")
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, 7*24*time.Hour)
	other := NewTokenManager("a-completely-different-signing-key", 15*time.Minute, 7*24*time.Hour)

	token, err := tm.GenerateAccessToken("user123", "user@example.com")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenManager_MalformedToken(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, 7*24*time.Hour)

	for _, tok := range []string{"", "garbage", "a.b.c", "eyJhbGciOiJub25lIn0.e30."} {
		_, err := tm.ValidateToken(tok)
		assert.Error(t, err, "token %q should be rejected", tok)
	}
}
