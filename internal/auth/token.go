package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/secureshare/secureshare/internal/models"
)

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
	}
}

// AccessTokenTTL returns the configured access token lifetime.
func (tm *TokenManager) AccessTokenTTL() time.Duration {
	return tm.accessTokenExpiry
}

// RefreshTokenTTL returns the configured refresh token lifetime.
func (tm *TokenManager) RefreshTokenTTL() time.Duration {
	return tm.refreshTokenExpiry
}

// GenerateAccessToken creates a short-lived access token with JTI
func (tm *TokenManager) GenerateAccessToken(userID, email string) (string, error) {
	return tm.generate(models.TokenTypeAccess, userID, email, tm.accessTokenExpiry)
}

// GenerateRefreshToken creates a long-lived refresh token with JTI
func (tm *TokenManager) GenerateRefreshToken(userID, email string) (string, error) {
	return tm.generate(models.TokenTypeRefresh, userID, email, tm.refreshTokenExpiry)
}

func (tm *TokenManager) generate(tokenType, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims. It fails closed:
// any signature mismatch, malformed payload, or expired claim is rejected.
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Pin the signing method so an attacker cannot downgrade to "none"
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != models.TokenTypeAccess && claims.Type != models.TokenTypeRefresh {
		return nil, fmt.Errorf("invalid token: unknown type %q", claims.Type)
	}

	return claims, nil
}
