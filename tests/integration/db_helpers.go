package integration

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/secureshare/secureshare/internal/database"
	"github.com/secureshare/secureshare/internal/models"
	"github.com/secureshare/secureshare/internal/repositories"
	pkgauth "github.com/secureshare/secureshare/pkg/auth"
)

// Repos bundles every repository backed by the test database.
type Repos struct {
	Users   *repositories.UserRepository
	Revoked *repositories.TokenRevocationRepository
	Tokens  *repositories.VerificationTokenRepository
	Devices *repositories.TrustedDeviceRepository
}

// TestDB manages a PostgreSQL testcontainer
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase starts a PostgreSQL container and applies all migrations.
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("secureshare"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, connStr); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

// runMigrations applies the goose migrations through a database/sql handle.
func runMigrations(ctx context.Context, connStr string) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	goose.SetLogger(log.New(io.Discard, "", 0))

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"trusted_devices",
		"verification_tokens",
		"user_token_revocations",
		"revoked_tokens",
		"users",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// NewRepos creates all repository instances from the database wrapper
func NewRepos(db *database.DB) *Repos {
	return &Repos{
		Users:   repositories.NewUserRepository(db),
		Revoked: repositories.NewTokenRevocationRepository(db),
		Tokens:  repositories.NewVerificationTokenRepository(db),
		Devices: repositories.NewTrustedDeviceRepository(db),
	}
}

// SeedUser inserts an active user with a bcrypt-hashed password.
func SeedUser(ctx context.Context, pool *pgxpool.Pool, email, password string, verified bool) (*models.User, error) {
	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, is_active, email_verified)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING id, email, password_hash, name, is_active, email_verified, created_at, updated_at
	`

	var user models.User
	err = pool.QueryRow(ctx, query, uuid.New().String(), email, hashedPassword, "Test User", verified).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.IsActive,
		&user.EmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return &user, nil
}

func sha256Hash(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// SeedVerificationToken creates a pending token row and returns the raw
// token value as it would appear in an email link.
func SeedVerificationToken(ctx context.Context, pool *pgxpool.Pool, userID, email, purpose string, ttl time.Duration) (string, error) {
	raw := sha256Hash("seed-" + uuid.New().String())

	query := `
		INSERT INTO verification_tokens (id, user_id, token_hash, purpose, email, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := pool.Exec(ctx, query, uuid.New().String(), userID, sha256Hash(raw), purpose, email, time.Now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to insert verification token: %w", err)
	}

	return raw, nil
}
