package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/secureshare/secureshare/internal/auth"
	"github.com/secureshare/secureshare/internal/models"
	"github.com/secureshare/secureshare/internal/services"
)

// MockAuthService implements AuthServiceInterface with pluggable functions
type MockAuthService struct {
	LoginFunc        func(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	Complete2FAFunc  func(ctx context.Context, in services.Complete2FAInput) (*services.Complete2FAResult, error)
	RegisterFunc     func(ctx context.Context, email, password, name string) (*services.AuthResponse, error)
	RefreshTokenFunc func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	LogoutFunc       func(ctx context.Context, accessToken, refreshToken string) error
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, in)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Complete2FA(ctx context.Context, in services.Complete2FAInput) (*services.Complete2FAResult, error) {
	if m.Complete2FAFunc != nil {
		return m.Complete2FAFunc(ctx, in)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name string) (*services.AuthResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, email, password, name)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx, refreshToken)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, accessToken, refreshToken)
	}
	return nil
}

// MockTwoFactorService implements TwoFactorServiceInterface
type MockTwoFactorService struct {
	SetupFunc                 func(ctx context.Context, userID string) (*services.SetupResponse, error)
	VerifyAndEnableFunc       func(ctx context.Context, userID, code string) error
	DisableFunc               func(ctx context.Context, userID, password, code string) error
	RegenerateBackupCodesFunc func(ctx context.Context, userID, password string) ([]string, error)
}

func (m *MockTwoFactorService) Setup(ctx context.Context, userID string) (*services.SetupResponse, error) {
	if m.SetupFunc != nil {
		return m.SetupFunc(ctx, userID)
	}
	return nil, models.ErrInternalServer
}

func (m *MockTwoFactorService) VerifyAndEnable(ctx context.Context, userID, code string) error {
	if m.VerifyAndEnableFunc != nil {
		return m.VerifyAndEnableFunc(ctx, userID, code)
	}
	return nil
}

func (m *MockTwoFactorService) Disable(ctx context.Context, userID, password, code string) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, userID, password, code)
	}
	return nil
}

func (m *MockTwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	if m.RegenerateBackupCodesFunc != nil {
		return m.RegenerateBackupCodesFunc(ctx, userID, password)
	}
	return nil, models.ErrInternalServer
}

// MockUserService implements UserServiceInterface
type MockUserService struct {
	GetProfileFunc     func(ctx context.Context, userID string) (*services.UserResponse, error)
	UpdateProfileFunc  func(ctx context.Context, userID string, in services.UpdateProfileInput) (*services.UserResponse, error)
	ChangePasswordFunc func(ctx context.Context, userID, currentPassword, newPassword string) error
	DeleteAccountFunc  func(ctx context.Context, userID, password string) error
}

func (m *MockUserService) GetProfile(ctx context.Context, userID string) (*services.UserResponse, error) {
	if m.GetProfileFunc != nil {
		return m.GetProfileFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserService) UpdateProfile(ctx context.Context, userID string, in services.UpdateProfileInput) (*services.UserResponse, error) {
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(ctx, userID, in)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, userID, currentPassword, newPassword)
	}
	return nil
}

func (m *MockUserService) DeleteAccount(ctx context.Context, userID, password string) error {
	if m.DeleteAccountFunc != nil {
		return m.DeleteAccountFunc(ctx, userID, password)
	}
	return nil
}

// MockVerificationService implements VerificationServiceInterface
type MockVerificationService struct {
	VerifyEmailFunc        func(ctx context.Context, rawToken string) error
	ResendVerificationFunc func(ctx context.Context, email string) error
	ForgotPasswordFunc     func(ctx context.Context, email string) error
	ResetPasswordFunc      func(ctx context.Context, rawToken, newPassword string) error
}

func (m *MockVerificationService) VerifyEmail(ctx context.Context, rawToken string) error {
	if m.VerifyEmailFunc != nil {
		return m.VerifyEmailFunc(ctx, rawToken)
	}
	return nil
}

func (m *MockVerificationService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc != nil {
		return m.ResendVerificationFunc(ctx, email)
	}
	return nil
}

func (m *MockVerificationService) ForgotPassword(ctx context.Context, email string) error {
	if m.ForgotPasswordFunc != nil {
		return m.ForgotPasswordFunc(ctx, email)
	}
	return nil
}

func (m *MockVerificationService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, rawToken, newPassword)
	}
	return nil
}

// jsonRequest builds a request with a JSON body.
func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// authenticatedRequest attaches access token claims the way AuthMiddleware
// would.
func authenticatedRequest(t *testing.T, method, target string, body any, userID string) *http.Request {
	t.Helper()
	req := jsonRequest(t, method, target, body)
	claims := &models.TokenClaims{
		Type:   "access",
		UserID: userID,
		Email:  "user@example.com",
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// decodeBody unmarshals a recorded JSON response.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return body
}

// responseCookie returns the named Set-Cookie from a recorder, or nil.
func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
