package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/secureshare/secureshare/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteLocked(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusLocked, "account_locked", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteServiceError translates a service-layer sentinel error into its HTTP
// status. The messages are deliberately generic: "email or password
// incorrect" style ambiguity is part of the enumeration defense.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrAccountDisabled):
		WriteUnauthorized(w, "Invalid credentials")
	case errors.Is(err, models.ErrAccountLocked):
		WriteLocked(w, "Account temporarily locked due to repeated failures")
	case errors.Is(err, models.ErrRateLimited):
		WriteTooManyRequests(w, "Too many requests, try again later")
	case errors.Is(err, models.ErrForbidden):
		WriteForbidden(w, "Forbidden")
	case errors.Is(err, models.ErrSessionExpired):
		WriteError(w, http.StatusUnauthorized, "session_expired", "Session expired, please log in again")
	case errors.Is(err, models.ErrInvalidCode):
		WriteError(w, http.StatusBadRequest, "invalid_code", "Invalid verification code")
	case errors.Is(err, models.ErrInvalidToken):
		WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid or expired token")
	case errors.Is(err, models.ErrTwoFactorEnabled):
		WriteBadRequest(w, "Two-factor authentication is already enabled")
	case errors.Is(err, models.ErrConflict):
		WriteConflict(w, "Resource already exists")
	case errors.Is(err, models.ErrNotFound):
		WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrBadRequest):
		WriteBadRequest(w, "Invalid request")
	default:
		WriteInternalError(w, "Internal server error")
	}
}
