package http_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/secureshare/secureshare/internal/models"
	pkghttp "github.com/secureshare/secureshare/pkg/http"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Empty(t, resp.Details)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	assert.Equal(t, 400, w.Code)

	var resp pkghttp.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Equal(t, "Additional details", resp.Details)
}

func TestCommonWriters(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w *httptest.ResponseRecorder)
		wantStatus int
		wantCode   string
	}{
		{"bad request", func(w *httptest.ResponseRecorder) { pkghttp.WriteBadRequest(w, "Invalid input") }, 400, "bad_request"},
		{"unauthorized", func(w *httptest.ResponseRecorder) { pkghttp.WriteUnauthorized(w, "Invalid credentials") }, 401, "unauthorized"},
		{"forbidden", func(w *httptest.ResponseRecorder) { pkghttp.WriteForbidden(w, "Access denied") }, 403, "forbidden"},
		{"not found", func(w *httptest.ResponseRecorder) { pkghttp.WriteNotFound(w, "Resource not found") }, 404, "not_found"},
		{"conflict", func(w *httptest.ResponseRecorder) { pkghttp.WriteConflict(w, "Email already exists") }, 409, "conflict"},
		{"locked", func(w *httptest.ResponseRecorder) { pkghttp.WriteLocked(w, "Account locked") }, 423, "account_locked"},
		{"too many requests", func(w *httptest.ResponseRecorder) { pkghttp.WriteTooManyRequests(w, "Too many requests") }, 429, "rate_limit_exceeded"},
		{"internal error", func(w *httptest.ResponseRecorder) { pkghttp.WriteInternalError(w, "Internal server error") }, 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp pkghttp.ErrorResponse
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
		})
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unauthorized", models.ErrUnauthorized, 401, "unauthorized"},
		{"disabled account maps to unauthorized", models.ErrAccountDisabled, 401, "unauthorized"},
		{"locked", models.ErrAccountLocked, 423, "account_locked"},
		{"rate limited", models.ErrRateLimited, 429, "rate_limit_exceeded"},
		{"session expired", models.ErrSessionExpired, 401, "session_expired"},
		{"invalid code", models.ErrInvalidCode, 400, "invalid_code"},
		{"invalid token", models.ErrInvalidToken, 400, "invalid_token"},
		{"conflict", models.ErrConflict, 409, "conflict"},
		{"bad request", models.ErrBadRequest, 400, "bad_request"},
		{"unknown errors stay generic", assert.AnError, 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			pkghttp.WriteServiceError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp pkghttp.ErrorResponse
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
			// Internal detail never crosses the boundary.
			assert.NotContains(t, resp.Message, "assert.AnError")
		})
	}
}
