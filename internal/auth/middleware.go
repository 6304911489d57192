package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/secureshare/secureshare/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
	// TokenContextKey is the key for storing the raw token in context
	TokenContextKey contextKey = "token"
)

// TokenRevocationChecker defines the interface for checking if tokens are revoked
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthMiddleware validates the access token from the auth cookie (or a
// Bearer header for API clients) and injects user claims into context.
// Refresh tokens are rejected here; they are only accepted by the refresh
// endpoint.
func AuthMiddleware(tm *TokenManager, revocationChecker TokenRevocationChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractAccessToken(r)
			if tokenString == "" {
				http.Error(w, "missing authentication", http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			if claims.Type != models.TokenTypeAccess {
				http.Error(w, "refresh tokens cannot be used for API access", http.StatusUnauthorized)
				return
			}

			if revocationChecker != nil && claims.ID != "" {
				revoked, err := revocationChecker.IsTokenRevoked(r.Context(), claims.ID)
				if err == nil && revoked {
					http.Error(w, "token has been revoked", http.StatusUnauthorized)
					return
				}
				// Fail open on checker errors: invalid and expired tokens
				// already failed closed above, and access tokens expire in
				// minutes anyway.
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			ctx = context.WithValue(ctx, TokenContextKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractAccessToken prefers the auth cookie and falls back to a Bearer
// Authorization header.
func extractAccessToken(r *http.Request) string {
	if token, err := GetAccessTokenCookie(r); err == nil && token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetTokenFromContext extracts the raw access token from request context
func GetTokenFromContext(r *http.Request) string {
	token, ok := r.Context().Value(TokenContextKey).(string)
	if !ok {
		return ""
	}
	return token
}
