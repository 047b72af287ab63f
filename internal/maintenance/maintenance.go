// Package maintenance runs periodic housekeeping as Go tickers inside the
// long-running serve process. Notification records are never touched; only
// device tokens the push gateway has retired are purged.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	CleanupInterval time.Duration // inactive device token purge
	TokenRetention  time.Duration // age after which inactive tokens are purged
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		CleanupInterval: time.Hour,
		TokenRetention:  30 * 24 * time.Hour,
	}
}

// Start launches the configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, db Execer, cfg Config, logger *slog.Logger) {
	if cfg.CleanupInterval <= 0 || cfg.TokenRetention <= 0 {
		logger.Info("maintenance disabled")
		return
	}
	logger.Info("maintenance tickers started",
		"cleanup", cfg.CleanupInterval, "token_retention", cfg.TokenRetention)

	t := time.NewTicker(cfg.CleanupInterval)
	defer t.Stop()
	runLoop(ctx, t.C, func() { PurgeInactiveTokens(ctx, db, cfg.TokenRetention, time.Now(), logger) })

	logger.Info("maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// PurgeInactiveTokens deletes device tokens deactivated more than retention
// ago. Failures are logged; the next tick retries.
func PurgeInactiveTokens(ctx context.Context, db Execer, retention time.Duration, now time.Time, logger *slog.Logger) {
	tag, err := db.Exec(ctx,
		`DELETE FROM user_devices WHERE NOT is_active AND updated_at < $1`,
		now.Add(-retention))
	if err != nil {
		logger.Warn("cleanup: failed to purge inactive device tokens", "error", err)
		return
	}
	if tag.RowsAffected() > 0 {
		logger.Info("cleanup: purged inactive device tokens", "count", tag.RowsAffected())
	}
}
