package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/secureshare/secureshare/internal/auth"
	"github.com/secureshare/secureshare/internal/services"
	pkghttp "github.com/secureshare/secureshare/pkg/http"
)

// TwoFactorServiceInterface defines the interface for 2FA enrollment logic
type TwoFactorServiceInterface interface {
	Setup(ctx context.Context, userID string) (*services.SetupResponse, error)
	VerifyAndEnable(ctx context.Context, userID, code string) error
	Disable(ctx context.Context, userID, password, code string) error
	RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error)
}

// TwoFactorHandler handles TOTP enrollment, disablement and backup codes.
// All routes require an authenticated session.
type TwoFactorHandler struct {
	service   TwoFactorServiceInterface
	cookieCfg auth.CookieConfig
}

// NewTwoFactorHandler creates a new TwoFactorHandler
func NewTwoFactorHandler(service TwoFactorServiceInterface, cookieCfg auth.CookieConfig) *TwoFactorHandler {
	return &TwoFactorHandler{service: service, cookieCfg: cookieCfg}
}

// VerifyTwoFactorRequest represents the request body for enabling 2FA
type VerifyTwoFactorRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableTwoFactorRequest represents the request body for disabling 2FA.
// Code accepts either a 6-digit TOTP code or an 8-character backup code.
type DisableTwoFactorRequest struct {
	Password string `json:"password" validate:"required"`
	Code     string `json:"code" validate:"required,min=6,max=8"`
}

// RegenerateBackupCodesRequest represents the request body for backup code rotation
type RegenerateBackupCodesRequest struct {
	Password string `json:"password" validate:"required"`
}

// Setup handles POST /auth/2fa/setup. The secret and backup codes are shown
// to the user exactly once; nothing is enabled until verification.
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	resp, err := h.service.Setup(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Verify handles POST /auth/2fa/verify, proving the authenticator app holds
// the pending secret and switching enforcement on.
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req VerifyTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.VerifyAndEnable(r.Context(), claims.UserID, strings.TrimSpace(req.Code)); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":            "Two-factor authentication enabled",
		"two_factor_enabled": true,
	})
}

// Disable handles POST /auth/2fa/disable. Requires the current password and
// a valid code so a hijacked session alone cannot weaken the account. The
// device-trust cookie is cleared along with the server-side grants.
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req DisableTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Disable(r.Context(), claims.UserID, req.Password, strings.TrimSpace(req.Code)); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	auth.ClearTrustedDeviceCookie(w, h.cookieCfg)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":            "Two-factor authentication disabled",
		"two_factor_enabled": false,
	})
}

// RegenerateBackupCodes handles POST /auth/2fa/backup-codes, invalidating
// all previous codes and returning a fresh set.
func (h *TwoFactorHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req RegenerateBackupCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), claims.UserID, req.Password)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"backup_codes": codes,
	})
}
