package background

import (
	"context"
	"log/slog"
	"time"
)

// usedTokenRetention keeps consumed verification tokens around briefly so a
// double-clicked link produces "already used" rather than "unknown token".
const usedTokenRetention = 24 * time.Hour

// RevokedTokenCleaner removes revocation records whose tokens have expired.
type RevokedTokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// VerificationTokenCleaner removes expired and long-consumed one-time tokens.
type VerificationTokenCleaner interface {
	CleanupExpired(ctx context.Context, usedRetention time.Duration) (int64, error)
}

// TrustedDeviceCleaner removes device-trust grants past their 30-day window.
type TrustedDeviceCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically sweeps the three token tables. Everything it
// deletes is already unusable; the sweep just keeps the tables small.
type CleanupManager struct {
	revoked  RevokedTokenCleaner
	verify   VerificationTokenCleaner
	devices  TrustedDeviceCleaner
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	revoked RevokedTokenCleaner,
	verify VerificationTokenCleaner,
	devices TrustedDeviceCleaner,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		revoked:  revoked,
		verify:   verify,
		devices:  devices,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cm.sweep("revoked_tokens", func() (int64, error) {
		return cm.revoked.CleanupExpiredTokens(cleanupCtx)
	})
	cm.sweep("verification_tokens", func() (int64, error) {
		return cm.verify.CleanupExpired(cleanupCtx, usedTokenRetention)
	})
	cm.sweep("trusted_devices", func() (int64, error) {
		return cm.devices.CleanupExpired(cleanupCtx)
	})
}

// sweep runs a single table's cleanup; one failing table does not block the
// others.
func (cm *CleanupManager) sweep(table string, fn func() (int64, error)) {
	rowsDeleted, err := fn()
	if err != nil {
		cm.logger.Error("token cleanup failed",
			slog.String("table", table),
			slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.logger.Info("token cleanup completed",
			slog.String("table", table),
			slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
