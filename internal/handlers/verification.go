package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	pkghttp "github.com/secureshare/secureshare/pkg/http"
)

// VerificationServiceInterface defines the interface for email verification
// and password reset flows
type VerificationServiceInterface interface {
	VerifyEmail(ctx context.Context, rawToken string) error
	ResendVerification(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
}

// VerificationHandler handles the unauthenticated token-based flows. The
// resend and forgot-password endpoints answer identically whether or not
// the account exists.
type VerificationHandler struct {
	service VerificationServiceInterface
}

// NewVerificationHandler creates a new VerificationHandler
func NewVerificationHandler(service VerificationServiceInterface) *VerificationHandler {
	return &VerificationHandler{service: service}
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required,min=48,max=96"`
}

// ResendVerificationRequest represents the request body for resending the
// verification email
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ForgotPasswordRequest represents the request body for a reset request
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required,min=48,max=96"`
	Password string `json:"password" validate:"required"`
}

// VerifyEmail handles GET and POST /auth/verify-email. The GET form serves
// the link in the verification email and carries the token as a query
// parameter; the POST form takes it in the body.
func (h *VerificationHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if r.Method == http.MethodGet {
		req.Token = r.URL.Query().Get("token")
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Email verified",
	})
}

// ResendVerification handles POST /auth/resend-verification. Always 200
// unless rate limited, so the endpoint cannot be used to probe for accounts.
func (h *VerificationHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "If an account exists with this email, a verification email will be sent.",
	})
}

// ForgotPassword handles POST /auth/forgot-password with the same
// enumeration-safe contract as ResendVerification.
func (h *VerificationHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "If an account exists with this email, a password reset email will be sent.",
	})
}

// ResetPassword handles POST /auth/reset-password. A successful reset
// signs the user out everywhere; they log in again with the new password.
func (h *VerificationHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Password reset. Please log in with your new password.",
	})
}
