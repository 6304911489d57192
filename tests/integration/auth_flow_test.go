package integration

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		// No Docker available; the unit suites still cover the logic.
		os.Exit(0)
	}
	testDB = db

	code := m.Run()
	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

func freshServer(t *testing.T) *TestServer {
	t.Helper()
	require.NoError(t, testDB.CleanupTables(context.Background()))
	ts := NewTestServer(testDB.DB)
	t.Cleanup(ts.Close)
	return ts
}

func totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	ts := freshServer(t)
	client := ts.NewClient()
	email, password := TestCredentials("register")

	// Register
	resp, _, err := client.PostJSON("/auth/register", map[string]any{
		"email":    email,
		"password": password,
		"name":     "Flow Tester",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// A verification email went out with a usable token
	sent := ts.Email.LastEmail("verification")
	require.NotNil(t, sent)
	assert.Equal(t, email, sent.To)

	// Login works before verification
	resp, body, err := client.PostJSON("/auth/login", map[string]any{
		"email":    email,
		"password": password,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["requires2FA"])

	// Session cookie allows /auth/me
	resp, body, err = client.Get("/auth/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := body["user"].(map[string]any)
	assert.Equal(t, false, user["email_verified"])

	// Verify the email with the token from the captured message
	resp, _, err = client.PostJSON("/auth/verify-email", map[string]any{
		"token": sent.Token,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body, err = client.Get("/auth/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user = body["user"].(map[string]any)
	assert.Equal(t, true, user["email_verified"])

	// The same token cannot be consumed twice
	resp, _, err = client.PostJSON("/auth/verify-email", map[string]any{
		"token": sent.Token,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginWrongPasswordAndLockout(t *testing.T) {
	ts := freshServer(t)
	email, password := TestCredentials("lockout")
	_, err := SeedUser(context.Background(), testDB.Pool, email, password, true)
	require.NoError(t, err)

	client := ts.NewClient()

	// Wrong password is 401 with a generic body
	resp, body, err := client.PostJSON("/auth/login", map[string]any{
		"email":    email,
		"password": "Wrong" + password,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotContains(t, body["message"], "password")

	// Four more failures reach the lockout threshold of five
	for i := 0; i < 4; i++ {
		resp, _, err := client.PostJSON("/auth/login", map[string]any{
			"email":    email,
			"password": "Wrong" + password,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// The correct password no longer helps while the account is locked
	resp, _, err = client.PostJSON("/auth/login", map[string]any{
		"email":    email,
		"password": password,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
}

func TestTwoFactorEnrollmentAndLogin(t *testing.T) {
	ts := freshServer(t)
	email, password := TestCredentials("twofactor")
	_, err := SeedUser(context.Background(), testDB.Pool, email, password, true)
	require.NoError(t, err)

	client := ts.NewClient()

	// Log in and arm the client with a CSRF token
	resp, _, err := client.PostJSON("/auth/login", map[string]any{
		"email":    email,
		"password": password,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, client.FetchCSRFToken())

	// Begin 2FA setup
	resp, body, err := client.PostJSON("/auth/2fa/setup", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	secret := body["secret"].(string)
	require.NotEmpty(t, secret)
	backupCodes := body["backup_codes"].([]any)
	require.Len(t, backupCodes, 10)

	// Enable with a valid code
	resp, _, err = client.PostJSON("/auth/2fa/verify", map[string]any{
		"code": totpCode(t, secret),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A fresh browser now gets challenged
	fresh := ts.NewClient()
	resp, body, err = fresh.PostJSON("/auth/login", map[string]any{
		"email":    email,
		"password": password,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["requires2FA"])
	sessionID := body["tempSession"].(string)
	require.NotEmpty(t, sessionID)

	// The pending session has no power over protected routes
	resp, _, err = fresh.Get("/auth/me")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A wrong code is rejected and the session survives the failed attempt.
	resp, _, err = fresh.PostJSON("/auth/2fa/complete", map[string]any{
		"tempSession": sessionID,
		"code":       "000000",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A valid code completes the login
	resp, _, err = fresh.PostJSON("/auth/2fa/complete", map[string]any{
		"tempSession": sessionID,
		"code":       totpCode(t, secret),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _, err = fresh.Get("/auth/me")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The consumed session cannot complete a second login
	resp, _, err = ts.NewClient().PostJSON("/auth/2fa/complete", map[string]any{
		"tempSession": sessionID,
		"code":       totpCode(t, secret),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPasswordResetFlow(t *testing.T) {
	ts := freshServer(t)
	email, password := TestCredentials("reset")
	_, err := SeedUser(context.Background(), testDB.Pool, email, password, true)
	require.NoError(t, err)

	client := ts.NewClient()

	// Request a reset; unknown addresses get the same answer
	resp, _, err := client.PostJSON("/auth/forgot-password", map[string]any{"email": email})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _, err = client.PostJSON("/auth/forgot-password", map[string]any{"email": "nobody@example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sent := ts.Email.LastEmail("reset")
	require.NotNil(t, sent)
	require.Equal(t, email, sent.To)

	// Complete the reset
	newPassword := "EvenSturdier43!"
	resp, _, err = client.PostJSON("/auth/reset-password", map[string]any{
		"token":    sent.Token,
		"password": newPassword,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Old password is dead, new one works
	resp, _, err = client.PostJSON("/auth/login", map[string]any{
		"email":    email,
		"password": password,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _, err = client.PostJSON("/auth/login", map[string]any{
		"email":    email,
		"password": newPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The reset token is single use
	resp, _, err = client.PostJSON("/auth/reset-password", map[string]any{
		"token":    sent.Token,
		"password": "YetAnother44!pass",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefreshRotationAndLogout(t *testing.T) {
	ts := freshServer(t)
	email, password := TestCredentials("refresh")
	_, err := SeedUser(context.Background(), testDB.Pool, email, password, true)
	require.NoError(t, err)

	client := ts.NewClient()
	resp, _, err := client.PostJSON("/auth/login", map[string]any{
		"email":    email,
		"password": password,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Rotation issues a new pair
	resp, _, err = client.PostJSON("/auth/refresh", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _, err = client.Get("/auth/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Logout revokes; the protected route goes dark
	resp, _, err = client.PostJSON("/auth/logout", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _, err = client.Get("/auth/me")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCSRFRequiredOnMutatingRoutes(t *testing.T) {
	ts := freshServer(t)
	email, password := TestCredentials("csrf")
	_, err := SeedUser(context.Background(), testDB.Pool, email, password, true)
	require.NoError(t, err)

	client := ts.NewClient()
	resp, _, err := client.PostJSON("/auth/login", map[string]any{
		"email":    email,
		"password": password,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Without a CSRF token the profile update is refused
	resp, _, err = client.PutJSON("/auth/profile", map[string]any{"name": "Mallory"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// With one it goes through
	require.NoError(t, client.FetchCSRFToken())
	resp, body, err := client.PutJSON("/auth/profile", map[string]any{"name": "Alice"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := body["user"].(map[string]any)
	assert.Equal(t, "Alice", user["name"])
}
