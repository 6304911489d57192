package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/secureshare/secureshare/internal/database"
	"github.com/secureshare/secureshare/internal/models"
)

// VerificationTokenRepository stores email verification and password reset
// tokens. Only the SHA-256 hash of a token ever touches the database.
type VerificationTokenRepository struct {
	pool *pgxpool.Pool
	db   *database.DB
}

func NewVerificationTokenRepository(db *database.DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{pool: db.Pool, db: db}
}

const verificationTokenColumns = `id, user_id, token_hash, purpose, email, expires_at, used_at, created_at`

func scanVerificationTokenRow(row pgx.Row) (*models.VerificationToken, error) {
	var t models.VerificationToken
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.Purpose,
		&t.Email,
		&t.ExpiresAt,
		&t.UsedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

// Create stores a new token, invalidating any earlier unused token for the
// same user and purpose so only the most recent email link works.
func (r *VerificationTokenRepository) Create(ctx context.Context, token *models.VerificationToken) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		invalidate := `
			UPDATE verification_tokens
			SET used_at = $1
			WHERE user_id = $2 AND purpose = $3 AND used_at IS NULL
		`
		if _, err := tx.Exec(ctx, invalidate, time.Now(), token.UserID, token.Purpose); err != nil {
			return database.MapPostgresError(err)
		}

		insert := `
			INSERT INTO verification_tokens (id, user_id, token_hash, purpose, email, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at
		`
		token.ID = uuid.New().String()
		err := tx.QueryRow(ctx, insert,
			token.ID,
			token.UserID,
			token.TokenHash,
			token.Purpose,
			token.Email,
			token.ExpiresAt,
		).Scan(&token.CreatedAt)
		if err != nil {
			return database.MapPostgresError(err)
		}
		return nil
	})
}

// GetByTokenHash fetches a token row by its hash regardless of state; the
// service layer decides between expired, used, and valid.
func (r *VerificationTokenRepository) GetByTokenHash(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
	query := `
		SELECT ` + verificationTokenColumns + `
		FROM verification_tokens
		WHERE token_hash = $1 AND purpose = $2
	`

	return scanVerificationTokenRow(r.pool.QueryRow(ctx, query, tokenHash, purpose))
}

// MarkUsedTx consumes a token inside a caller-supplied transaction. The
// used_at IS NULL guard makes consumption single-use even under races.
func (r *VerificationTokenRepository) MarkUsedTx(ctx context.Context, tx pgx.Tx, tokenID string) error {
	query := `
		UPDATE verification_tokens
		SET used_at = $1
		WHERE id = $2 AND used_at IS NULL
	`

	result, err := tx.Exec(ctx, query, time.Now(), tokenID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrInvalidToken
	}

	return nil
}

// CleanupExpired removes tokens past their expiry plus used tokens older
// than the retention window.
func (r *VerificationTokenRepository) CleanupExpired(ctx context.Context, usedRetention time.Duration) (int64, error) {
	query := `
		DELETE FROM verification_tokens
		WHERE expires_at < $1
		   OR (used_at IS NOT NULL AND used_at < $2)
	`

	now := time.Now()
	result, err := r.pool.Exec(ctx, query, now, now.Add(-usedRetention))
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// WithTransaction exposes the database transaction helper so the service can
// consume a token and flip user state atomically.
func (r *VerificationTokenRepository) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.db.WithTransaction(ctx, fn)
}
