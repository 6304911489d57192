package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/secureshare/secureshare/internal/auth"
	"github.com/secureshare/secureshare/internal/services"
	pkghttp "github.com/secureshare/secureshare/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	Complete2FA(ctx context.Context, in services.Complete2FAInput) (*services.Complete2FAResult, error)
	Register(ctx context.Context, email, password, name string) (*services.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
}

// AuthHandler handles authentication-related HTTP requests. Tokens travel in
// HttpOnly cookies, never in response bodies.
type AuthHandler struct {
	service    AuthServiceInterface
	csrf       *auth.CSRFTokenManager
	ipConfig   *pkghttp.IPConfig
	cookieCfg  auth.CookieConfig
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, csrf *auth.CSRFTokenManager, ipConfig *pkghttp.IPConfig, cookieCfg auth.CookieConfig, accessTTL, refreshTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		service:    service,
		csrf:       csrf,
		ipConfig:   ipConfig,
		cookieCfg:  cookieCfg,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Complete2FARequest represents the request body for finishing a 2FA login
type Complete2FARequest struct {
	SessionID      string `json:"tempSession" validate:"required,len=32"`
	Code           string `json:"code" validate:"required,min=6,max=8"`
	RememberDevice bool   `json:"rememberDevice"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

// LoginResponse is returned by the login endpoint. When a second factor is
// required the auth cookies are not yet set and the client must call the
// 2FA completion endpoint with the session ID.
type LoginResponse struct {
	TwoFactorRequired bool                   `json:"requires2FA"`
	SessionID         string                 `json:"tempSession,omitempty"`
	User              *services.UserResponse `json:"user,omitempty"`
}

// Login handles POST /auth/login. On success (or when 2FA is pending) the
// body carries no tokens; cookies do.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	deviceToken, _ := auth.GetTrustedDeviceCookie(r)

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Email:              req.Email,
		Password:           req.Password,
		IPAddress:          pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:          r.Header.Get("User-Agent"),
		TrustedDeviceToken: deviceToken,
	})
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	if result.TwoFactorRequired {
		writeJSON(w, http.StatusOK, LoginResponse{
			TwoFactorRequired: true,
			SessionID:         result.PendingSessionID,
		})
		return
	}

	auth.SetAuthCookies(w, result.Auth.AccessToken, result.Auth.RefreshToken, h.accessTTL, h.refreshTTL, h.cookieCfg)
	writeJSON(w, http.StatusOK, LoginResponse{User: result.Auth.User})
}

// Complete2FA handles POST /auth/2fa/complete, turning a pending login
// session plus a valid code into a full authenticated session.
func (h *AuthHandler) Complete2FA(w http.ResponseWriter, r *http.Request) {
	var req Complete2FARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Complete2FA(r.Context(), services.Complete2FAInput{
		SessionID:      req.SessionID,
		Code:           strings.TrimSpace(req.Code),
		RememberDevice: req.RememberDevice,
		IPAddress:      pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:      r.Header.Get("User-Agent"),
	})
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	auth.SetAuthCookies(w, result.Auth.AccessToken, result.Auth.RefreshToken, h.accessTTL, h.refreshTTL, h.cookieCfg)
	if result.TrustedDeviceToken != "" {
		auth.SetTrustedDeviceCookie(w, result.TrustedDeviceToken, services.TrustedDeviceTTL, h.cookieCfg)
	}

	writeJSON(w, http.StatusOK, LoginResponse{User: result.Auth.User})
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)

	resp, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Account created. Check your email for a verification link.",
		"user":    resp.User,
	})
}

// Refresh handles POST /auth/refresh. The refresh token comes from its
// cookie; a successful rotation replaces both auth cookies.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, err := auth.GetRefreshTokenCookie(r)
	if err != nil || refreshToken == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	resp, err := h.service.RefreshToken(r.Context(), refreshToken)
	if err != nil {
		auth.ClearAuthCookies(w, h.cookieCfg)
		pkghttp.WriteServiceError(w, err)
		return
	}

	auth.SetAuthCookies(w, resp.AccessToken, resp.RefreshToken, h.accessTTL, h.refreshTTL, h.cookieCfg)
	writeJSON(w, http.StatusOK, LoginResponse{User: resp.User})
}

// Logout handles POST /auth/logout. Revocation is best effort; the cookies
// are always cleared.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken, _ := auth.GetAccessTokenCookie(r)
	if accessToken == "" {
		accessToken = auth.GetTokenFromContext(r)
	}
	refreshToken, _ := auth.GetRefreshTokenCookie(r)

	_ = h.service.Logout(r.Context(), accessToken, refreshToken)

	auth.ClearAuthCookies(w, h.cookieCfg)
	w.WriteHeader(http.StatusNoContent)
}

// CSRFToken handles GET /csrf, issuing a per-user anti-forgery token
// for subsequent state-changing requests.
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	token, err := h.csrf.GenerateToken(claims.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": token,
		"expires_in": int(h.csrf.TokenTTL().Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
