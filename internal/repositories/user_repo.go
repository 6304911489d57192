package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/secureshare/secureshare/internal/database"
	"github.com/secureshare/secureshare/internal/models"
)

const userColumns = `id, email, password_hash, name, is_active, email_verified,
	two_factor_enabled, totp_secret_encrypted, totp_secret_nonce, totp_last_used_step,
	backup_code_hashes, failed_login_count, locked_until, password_changed_at,
	created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
	db   *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool, db: db}
}

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var lockedUntil, passwordChangedAt *time.Time
	var backupCodes []string

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name,
		&user.IsActive, &user.EmailVerified,
		&user.TwoFactorEnabled, &user.TOTPSecretEncrypted, &user.TOTPSecretNonce, &user.TOTPLastUsedStep,
		&backupCodes, &user.FailedLoginCount, &lockedUntil, &passwordChangedAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.BackupCodeHashes = backupCodes
	user.LockedUntil = lockedUntil
	user.PasswordChangedAt = passwordChangedAt

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true

	query := `
		INSERT INTO users (id, email, password_hash, name, is_active, email_verified, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name,
		user.IsActive, user.EmailVerified, user.PasswordChangedAt,
		user.CreatedAt, user.UpdatedAt,
	))
}

// UpdateProfile changes mutable profile fields. Changing the email resets
// the verified flag; the caller re-initiates verification.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, email, name string, emailVerified bool) (*models.User, error) {
	query := `
		UPDATE users SET email = $1, name = $2, email_verified = $3, updated_at = $4
		WHERE id = $5
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query, email, name, emailVerified, time.Now(), id))
}

// UpdatePassword replaces the password hash and stamps the change time.
// Lockout state is cleared: a reset proves control of the mailbox.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE users SET password_hash = $1, password_changed_at = $2,
			failed_login_count = 0, locked_until = NULL, updated_at = $2
		WHERE id = $3`

	result, err := r.pool.Exec(ctx, query, passwordHash, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RecordLoginFailure increments the persisted failure counter and applies a
// lockout window once the threshold is crossed.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, lockout time.Duration) error {
	query := `
		UPDATE users SET
			failed_login_count = failed_login_count + 1,
			locked_until = CASE WHEN failed_login_count + 1 >= $1 THEN $2::timestamptz ELSE locked_until END,
			updated_at = $3
		WHERE id = $4`

	_, err := r.pool.Exec(ctx, query, threshold, time.Now().Add(lockout), time.Now(), id)
	return database.MapPostgresError(err)
}

// ClearLoginFailures resets the failure counter after a successful login.
func (r *UserRepository) ClearLoginFailures(ctx context.Context, id string) error {
	query := `
		UPDATE users SET failed_login_count = 0, locked_until = NULL, updated_at = $1
		WHERE id = $2`

	_, err := r.pool.Exec(ctx, query, time.Now(), id)
	return database.MapPostgresError(err)
}

// SetTOTPSecret stores a freshly generated (not yet verified) secret.
func (r *UserRepository) SetTOTPSecret(ctx context.Context, id string, encrypted, nonce []byte, backupCodeHashes []string) error {
	query := `
		UPDATE users SET totp_secret_encrypted = $1, totp_secret_nonce = $2,
			backup_code_hashes = $3, two_factor_enabled = FALSE, totp_last_used_step = 0, updated_at = $4
		WHERE id = $5`

	result, err := r.pool.Exec(ctx, query, encrypted, nonce, backupCodeHashes, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// EnableTwoFactor flips the enabled flag after the secret has been verified.
func (r *UserRepository) EnableTwoFactor(ctx context.Context, id string, lastUsedStep int64) error {
	query := `
		UPDATE users SET two_factor_enabled = TRUE, totp_last_used_step = $1, updated_at = $2
		WHERE id = $3 AND totp_secret_encrypted IS NOT NULL`

	result, err := r.pool.Exec(ctx, query, lastUsedStep, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		// Either the user is gone or no secret was ever generated
		return models.ErrNotFound
	}
	return nil
}

// DisableTwoFactor removes the secret, backup codes, and enabled flag.
func (r *UserRepository) DisableTwoFactor(ctx context.Context, id string) error {
	query := `
		UPDATE users SET two_factor_enabled = FALSE, totp_secret_encrypted = NULL,
			totp_secret_nonce = NULL, totp_last_used_step = 0, backup_code_hashes = NULL, updated_at = $1
		WHERE id = $2`

	_, err := r.pool.Exec(ctx, query, time.Now(), id)
	return database.MapPostgresError(err)
}

// SetTOTPLastUsedStep records the accepted time step for replay rejection.
func (r *UserRepository) SetTOTPLastUsedStep(ctx context.Context, id string, step int64) error {
	query := `UPDATE users SET totp_last_used_step = $1, updated_at = $2 WHERE id = $3`

	_, err := r.pool.Exec(ctx, query, step, time.Now(), id)
	return database.MapPostgresError(err)
}

// SetBackupCodes persists the (reduced or regenerated) backup code set.
func (r *UserRepository) SetBackupCodes(ctx context.Context, id string, hashes []string) error {
	query := `UPDATE users SET backup_code_hashes = $1, updated_at = $2 WHERE id = $3`

	_, err := r.pool.Exec(ctx, query, hashes, time.Now(), id)
	return database.MapPostgresError(err)
}

// SetEmailVerified flips the verified flag inside an existing transaction so
// token consumption and the flag change commit together.
func (r *UserRepository) SetEmailVerified(ctx context.Context, tx pgx.Tx, id string) error {
	query := `UPDATE users SET email_verified = TRUE, updated_at = $1 WHERE id = $2`

	result, err := tx.Exec(ctx, query, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdatePasswordTx replaces the password hash inside an existing transaction.
func (r *UserRepository) UpdatePasswordTx(ctx context.Context, tx pgx.Tx, id, passwordHash string) error {
	query := `
		UPDATE users SET password_hash = $1, password_changed_at = $2,
			failed_login_count = 0, locked_until = NULL, updated_at = $2
		WHERE id = $3`

	result, err := tx.Exec(ctx, query, passwordHash, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Delete removes the user. Owned rows (tokens, trusted devices, files in the
// wider system) cascade via foreign keys.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM users WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// WithTransaction runs fn in a single database transaction.
func (r *UserRepository) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	if r.db == nil {
		return fmt.Errorf("repository not backed by a transactional database")
	}
	return r.db.WithTransaction(ctx, fn)
}
