package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFTokenManager_GenerateAndValidate(t *testing.T) {
	m := NewCSRFTokenManager(30 * time.Minute)
	defer m.Close()

	token, err := m.GenerateToken("user123")
	require.NoError(t, err)
	assert.Len(t, token, CSRFTokenLength)
	assert.Regexp(t, `^[0-9a-f]{64}$`, token)

	assert.True(t, m.ValidateToken(token, "user123"))
}

func TestCSRFTokenManager_WrongUser(t *testing.T) {
	m := NewCSRFTokenManager(30 * time.Minute)
	defer m.Close()

	token, err := m.GenerateToken("user123")
	require.NoError(t, err)

	assert.False(t, m.ValidateToken(token, "user456"))
}

func TestCSRFTokenManager_UnknownToken(t *testing.T) {
	m := NewCSRFTokenManager(30 * time.Minute)
	defer m.Close()

	unknown := "0000000000000000000000000000000000000000000000000000000000000000"
	assert.False(t, m.ValidateToken(unknown, "user123"))
}

func TestCSRFTokenManager_MalformedToken(t *testing.T) {
	m := NewCSRFTokenManager(30 * time.Minute)
	defer m.Close()

	for _, tok := range []string{
		"",
		"short",
		"ZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZ", // wrong charset
		"ABCDEF0000000000000000000000000000000000000000000000000000000000", // uppercase hex
	} {
		assert.False(t, m.ValidateToken(tok, "user123"), "token %q should be rejected", tok)
	}
}

func TestCSRFTokenManager_Expiry(t *testing.T) {
	m := NewCSRFTokenManager(10 * time.Millisecond)
	defer m.Close()

	token, err := m.GenerateToken("user123")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, m.ValidateToken(token, "user123"))
}

func TestCSRFTokenManager_Revoke(t *testing.T) {
	m := NewCSRFTokenManager(30 * time.Minute)
	defer m.Close()

	token, err := m.GenerateToken("user123")
	require.NoError(t, err)

	m.RevokeToken(token)
	assert.False(t, m.ValidateToken(token, "user123"))
}
