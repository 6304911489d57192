package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureshare/secureshare/internal/auth"
	"github.com/secureshare/secureshare/internal/models"
	"github.com/secureshare/secureshare/internal/services"
)

func newTwoFactorHandler(svc *MockTwoFactorService) *TwoFactorHandler {
	return NewTwoFactorHandler(svc, auth.CookieConfig{Secure: true})
}

func TestTwoFactorSetup_ReturnsProvisioningMaterial(t *testing.T) {
	svc := &MockTwoFactorService{
		SetupFunc: func(ctx context.Context, userID string) (*services.SetupResponse, error) {
			assert.Equal(t, "user-1", userID)
			return &services.SetupResponse{
				Secret:        "JBSWY3DPEHPK3PXP",
				OTPAuthURL:    "otpauth://totp/SecureShare:user@example.com?secret=JBSWY3DPEHPK3PXP",
				QRCodeDataURL: "data:image/png;base64,abc",
				BackupCodes:   []string{"AAAA1111", "BBBB2222"},
			}, nil
		},
	}
	h := newTwoFactorHandler(svc)

	rec := httptest.NewRecorder()
	h.Setup(rec, authenticatedRequest(t, http.MethodPost, "/auth/2fa/setup", nil, "user-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", body["secret"])
	assert.NotEmpty(t, body["qr_code"])
	codes, ok := body["backup_codes"].([]any)
	require.True(t, ok)
	assert.Len(t, codes, 2)
}

func TestTwoFactorSetup_Unauthenticated(t *testing.T) {
	h := newTwoFactorHandler(&MockTwoFactorService{})

	rec := httptest.NewRecorder()
	h.Setup(rec, jsonRequest(t, http.MethodPost, "/auth/2fa/setup", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTwoFactorSetup_AlreadyEnabled(t *testing.T) {
	svc := &MockTwoFactorService{
		SetupFunc: func(ctx context.Context, userID string) (*services.SetupResponse, error) {
			return nil, models.ErrTwoFactorEnabled
		},
	}
	h := newTwoFactorHandler(svc)

	rec := httptest.NewRecorder()
	h.Setup(rec, authenticatedRequest(t, http.MethodPost, "/auth/2fa/setup", nil, "user-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTwoFactorVerify_EnablesOnValidCode(t *testing.T) {
	var gotCode string
	svc := &MockTwoFactorService{
		VerifyAndEnableFunc: func(ctx context.Context, userID, code string) error {
			gotCode = code
			return nil
		},
	}
	h := newTwoFactorHandler(svc)

	rec := httptest.NewRecorder()
	h.Verify(rec, authenticatedRequest(t, http.MethodPost, "/auth/2fa/verify", VerifyTwoFactorRequest{
		Code: "123456",
	}, "user-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "123456", gotCode)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["two_factor_enabled"])
}

func TestTwoFactorVerify_CodeFormatValidated(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"too short", "12345"},
		{"too long", "1234567"},
		{"non numeric", "12a456"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &MockTwoFactorService{
				VerifyAndEnableFunc: func(ctx context.Context, userID, code string) error {
					called = true
					return nil
				},
			}
			rec := httptest.NewRecorder()
			newTwoFactorHandler(svc).Verify(rec, authenticatedRequest(t, http.MethodPost, "/auth/2fa/verify", VerifyTwoFactorRequest{
				Code: tt.code,
			}, "user-1"))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, called)
		})
	}
}

func TestTwoFactorVerify_WrongCode(t *testing.T) {
	svc := &MockTwoFactorService{
		VerifyAndEnableFunc: func(ctx context.Context, userID, code string) error {
			return models.ErrInvalidCode
		},
	}
	h := newTwoFactorHandler(svc)

	rec := httptest.NewRecorder()
	h.Verify(rec, authenticatedRequest(t, http.MethodPost, "/auth/2fa/verify", VerifyTwoFactorRequest{
		Code: "000000",
	}, "user-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTwoFactorDisable_ClearsDeviceCookie(t *testing.T) {
	svc := &MockTwoFactorService{
		DisableFunc: func(ctx context.Context, userID, password, code string) error {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, "current-password", password)
			assert.Equal(t, "AAAA1111", code)
			return nil
		},
	}
	h := newTwoFactorHandler(svc)

	rec := httptest.NewRecorder()
	h.Disable(rec, authenticatedRequest(t, http.MethodPost, "/auth/2fa/disable", DisableTwoFactorRequest{
		Password: "current-password",
		Code:     "AAAA1111",
	}, "user-1"))

	require.Equal(t, http.StatusOK, rec.Code)

	device := responseCookie(rec, auth.TrustedDeviceCookie)
	require.NotNil(t, device)
	assert.Empty(t, device.Value)
	assert.Negative(t, device.MaxAge)
}

func TestTwoFactorDisable_WrongPassword(t *testing.T) {
	svc := &MockTwoFactorService{
		DisableFunc: func(ctx context.Context, userID, password, code string) error {
			return models.ErrUnauthorized
		},
	}
	h := newTwoFactorHandler(svc)

	rec := httptest.NewRecorder()
	h.Disable(rec, authenticatedRequest(t, http.MethodPost, "/auth/2fa/disable", DisableTwoFactorRequest{
		Password: "wrong",
		Code:     "123456",
	}, "user-1"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	// No cookie changes on failure.
	assert.Nil(t, responseCookie(rec, auth.TrustedDeviceCookie))
}

func TestRegenerateBackupCodes_ReturnsFreshSet(t *testing.T) {
	svc := &MockTwoFactorService{
		RegenerateBackupCodesFunc: func(ctx context.Context, userID, password string) ([]string, error) {
			return []string{"CCCC3333", "DDDD4444"}, nil
		},
	}
	h := newTwoFactorHandler(svc)

	rec := httptest.NewRecorder()
	h.RegenerateBackupCodes(rec, authenticatedRequest(t, http.MethodPost, "/auth/2fa/backup-codes", RegenerateBackupCodesRequest{
		Password: "current-password",
	}, "user-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	codes, ok := body["backup_codes"].([]any)
	require.True(t, ok)
	assert.Len(t, codes, 2)
}

func TestRegenerateBackupCodes_PasswordRequired(t *testing.T) {
	called := false
	svc := &MockTwoFactorService{
		RegenerateBackupCodesFunc: func(ctx context.Context, userID, password string) ([]string, error) {
			called = true
			return nil, nil
		},
	}
	h := newTwoFactorHandler(svc)

	rec := httptest.NewRecorder()
	h.RegenerateBackupCodes(rec, authenticatedRequest(t, http.MethodPost, "/auth/2fa/backup-codes", RegenerateBackupCodesRequest{}, "user-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}
