package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/secureshare/secureshare/internal/database"
	"github.com/secureshare/secureshare/internal/models"
)

// TrustedDeviceRepository persists "remember this device" grants that let a
// user skip the TOTP step on a browser they already proved control of.
type TrustedDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewTrustedDeviceRepository(db *database.DB) *TrustedDeviceRepository {
	return &TrustedDeviceRepository{pool: db.Pool}
}

// Create stores a trusted device record keyed by the hash of the cookie value
func (r *TrustedDeviceRepository) Create(ctx context.Context, device *models.TrustedDevice) error {
	query := `
		INSERT INTO trusted_devices (id, user_id, token_hash, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	device.ID = uuid.New().String()
	err := r.pool.QueryRow(ctx, query,
		device.ID,
		device.UserID,
		device.TokenHash,
		device.UserAgent,
		device.ExpiresAt,
	).Scan(&device.CreatedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// GetByTokenHash looks up an unexpired trusted device record. The caller must
// still confirm the record belongs to the user attempting to log in.
func (r *TrustedDeviceRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.TrustedDevice, error) {
	query := `
		SELECT id, user_id, token_hash, user_agent, expires_at, created_at
		FROM trusted_devices
		WHERE token_hash = $1 AND expires_at > $2
	`

	var d models.TrustedDevice
	err := r.pool.QueryRow(ctx, query, tokenHash, time.Now()).Scan(
		&d.ID,
		&d.UserID,
		&d.TokenHash,
		&d.UserAgent,
		&d.ExpiresAt,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &d, nil
}

// DeleteForUser drops every trusted device for the user. Called when 2FA is
// disabled or the password is reset, since the old grants no longer prove
// anything.
func (r *TrustedDeviceRepository) DeleteForUser(ctx context.Context, userID string) error {
	query := `DELETE FROM trusted_devices WHERE user_id = $1`

	_, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// CleanupExpired removes trusted device records past their expiry
func (r *TrustedDeviceRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM trusted_devices WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
