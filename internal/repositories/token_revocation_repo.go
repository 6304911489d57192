package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/secureshare/secureshare/internal/database"
)

// TokenRevocationRepository blacklists refresh token JTIs. Access tokens are
// never persisted; they die by expiry or alongside their refresh token.
type TokenRevocationRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRevocationRepository(db *database.DB) *TokenRevocationRepository {
	return &TokenRevocationRepository{pool: db.Pool}
}

// RevokeToken adds a token to the revocation blacklist
func (r *TokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	query := `
		INSERT INTO revoked_tokens (id, jti, user_id, token_type, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (jti) DO NOTHING
	`

	id := uuid.New().String()
	_, err := r.pool.Exec(ctx, query, id, jti, userID, tokenType, expiresAt, reason)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// IsTokenRevoked checks if a token is in the revocation blacklist
func (r *TokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, jti).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return exists, nil
}

// RevokeAllUserTokens marks every outstanding token for the user as revoked
// as of now. Used by password reset to force re-authentication everywhere.
func (r *TokenRevocationRepository) RevokeAllUserTokens(ctx context.Context, userID, reason string) error {
	query := `
		INSERT INTO user_token_revocations (id, user_id, revoked_at, reason)
		VALUES ($1, $2, $3, $4)
	`

	id := uuid.New().String()
	_, err := r.pool.Exec(ctx, query, id, userID, time.Now(), reason)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// AreUserTokensRevokedSince reports whether a blanket revocation exists that
// postdates the token's issue time.
func (r *TokenRevocationRepository) AreUserTokensRevokedSince(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM user_token_revocations WHERE user_id = $1 AND revoked_at >= $2)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, userID, issuedAt).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return exists, nil
}

// CleanupExpiredTokens removes blacklist rows whose tokens have expired
// anyway; the blacklist only needs to outlive the tokens it names.
func (r *TokenRevocationRepository) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	query := `DELETE FROM revoked_tokens WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
