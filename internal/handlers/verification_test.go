package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureshare/secureshare/internal/models"
)

// 64 hex chars, the shape of a real verification token.
const testToken = "a3f8c2d14e8b76a59c0d3e2f1a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2b"

func TestVerifyEmail_Success(t *testing.T) {
	var gotToken string
	svc := &MockVerificationService{
		VerifyEmailFunc: func(ctx context.Context, rawToken string) error {
			gotToken = rawToken
			return nil
		},
	}
	h := NewVerificationHandler(svc)

	rec := httptest.NewRecorder()
	h.VerifyEmail(rec, jsonRequest(t, http.MethodPost, "/auth/verify-email", VerifyEmailRequest{
		Token: testToken,
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testToken, gotToken)
}

func TestVerifyEmail_InvalidToken(t *testing.T) {
	svc := &MockVerificationService{
		VerifyEmailFunc: func(ctx context.Context, rawToken string) error {
			return models.ErrInvalidToken
		},
	}
	h := NewVerificationHandler(svc)

	rec := httptest.NewRecorder()
	h.VerifyEmail(rec, jsonRequest(t, http.MethodPost, "/auth/verify-email", VerifyEmailRequest{
		Token: testToken,
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_token")
}

func TestVerifyEmail_ShortTokenRejectedByValidation(t *testing.T) {
	called := false
	svc := &MockVerificationService{
		VerifyEmailFunc: func(ctx context.Context, rawToken string) error {
			called = true
			return nil
		},
	}
	h := NewVerificationHandler(svc)

	rec := httptest.NewRecorder()
	h.VerifyEmail(rec, jsonRequest(t, http.MethodPost, "/auth/verify-email", VerifyEmailRequest{
		Token: "short",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestResendVerification_AlwaysAccepted(t *testing.T) {
	for name, svcErr := range map[string]error{
		"known account":   nil,
		"unknown account": nil,
	} {
		err := svcErr
		t.Run(name, func(t *testing.T) {
			svc := &MockVerificationService{
				ResendVerificationFunc: func(ctx context.Context, email string) error {
					return err
				},
			}
			rec := httptest.NewRecorder()
			NewVerificationHandler(svc).ResendVerification(rec, jsonRequest(t, http.MethodPost, "/auth/resend-verification", ResendVerificationRequest{
				Email: "user@example.com",
			}))

			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestResendVerification_RateLimitSurfaces(t *testing.T) {
	svc := &MockVerificationService{
		ResendVerificationFunc: func(ctx context.Context, email string) error {
			return models.ErrRateLimited
		},
	}
	h := NewVerificationHandler(svc)

	rec := httptest.NewRecorder()
	h.ResendVerification(rec, jsonRequest(t, http.MethodPost, "/auth/resend-verification", ResendVerificationRequest{
		Email: "user@example.com",
	}))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestForgotPassword_IdenticalResponseForAnyEmail(t *testing.T) {
	bodies := make(map[string]string)
	for _, email := range []string{"exists@example.com", "nobody@example.com"} {
		svc := &MockVerificationService{
			ForgotPasswordFunc: func(ctx context.Context, e string) error {
				return nil
			},
		}
		rec := httptest.NewRecorder()
		NewVerificationHandler(svc).ForgotPassword(rec, jsonRequest(t, http.MethodPost, "/auth/forgot-password", ForgotPasswordRequest{
			Email: email,
		}))

		require.Equal(t, http.StatusOK, rec.Code)
		bodies[email] = rec.Body.String()
	}

	assert.Equal(t, bodies["exists@example.com"], bodies["nobody@example.com"])
}

func TestForgotPassword_InvalidEmail(t *testing.T) {
	h := NewVerificationHandler(&MockVerificationService{})

	rec := httptest.NewRecorder()
	h.ForgotPassword(rec, jsonRequest(t, http.MethodPost, "/auth/forgot-password", ForgotPasswordRequest{
		Email: "nope",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetPassword_Success(t *testing.T) {
	var gotToken, gotPassword string
	svc := &MockVerificationService{
		ResetPasswordFunc: func(ctx context.Context, rawToken, newPassword string) error {
			gotToken = rawToken
			gotPassword = newPassword
			return nil
		},
	}
	h := NewVerificationHandler(svc)

	rec := httptest.NewRecorder()
	h.ResetPassword(rec, jsonRequest(t, http.MethodPost, "/auth/reset-password", ResetPasswordRequest{
		Token:    testToken,
		Password: "brand new password here",
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testToken, gotToken)
	assert.Equal(t, "brand new password here", gotPassword)
}

func TestResetPassword_UsedToken(t *testing.T) {
	svc := &MockVerificationService{
		ResetPasswordFunc: func(ctx context.Context, rawToken, newPassword string) error {
			return models.ErrInvalidToken
		},
	}
	h := NewVerificationHandler(svc)

	rec := httptest.NewRecorder()
	h.ResetPassword(rec, jsonRequest(t, http.MethodPost, "/auth/reset-password", ResetPasswordRequest{
		Token:    testToken,
		Password: "brand new password here",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetPassword_OverlongTokenRejected(t *testing.T) {
	called := false
	svc := &MockVerificationService{
		ResetPasswordFunc: func(ctx context.Context, rawToken, newPassword string) error {
			called = true
			return nil
		},
	}
	h := NewVerificationHandler(svc)

	rec := httptest.NewRecorder()
	h.ResetPassword(rec, jsonRequest(t, http.MethodPost, "/auth/reset-password", ResetPasswordRequest{
		Token:    strings.Repeat("a", 200),
		Password: "brand new password here",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}
