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

// UserServiceInterface defines the interface for profile and account logic
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*services.UserResponse, error)
	UpdateProfile(ctx context.Context, userID string, in services.UpdateProfileInput) (*services.UserResponse, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	DeleteAccount(ctx context.Context, userID, password string) error
}

// AccountHandler handles the authenticated user's own profile and account
// lifecycle requests.
type AccountHandler struct {
	service   UserServiceInterface
	cookieCfg auth.CookieConfig
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(service UserServiceInterface, cookieCfg auth.CookieConfig) *AccountHandler {
	return &AccountHandler{service: service, cookieCfg: cookieCfg}
}

// UpdateProfileRequest represents the request body for profile updates.
// Omitted fields keep their current values.
type UpdateProfileRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
	Name  string `json:"name" validate:"omitempty,max=100"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// DeleteAccountRequest represents the request body for account deletion
type DeleteAccountRequest struct {
	Password string `json:"password" validate:"required"`
}

// Me handles GET /auth/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.service.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// UpdateProfile handles PUT /auth/profile. Changing the email address resets
// verification and triggers a new verification email.
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), claims.UserID, services.UpdateProfileInput{
		Email: req.Email,
		Name:  strings.TrimSpace(req.Name),
	})
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// ChangePassword handles POST /auth/password. Existing refresh tokens
// stop working once the password changes; the current access token rides
// out its short lifetime.
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Password updated",
	})
}

// DeleteAccount handles DELETE /auth/account. All cookies are cleared so the
// browser does not keep presenting credentials for a dead account.
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req DeleteAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.DeleteAccount(r.Context(), claims.UserID, req.Password); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	auth.ClearAuthCookies(w, h.cookieCfg)
	auth.ClearTrustedDeviceCookie(w, h.cookieCfg)
	w.WriteHeader(http.StatusNoContent)
}
