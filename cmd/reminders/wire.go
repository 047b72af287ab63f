package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"

	"github.com/albapepper/ops-reminders/internal/config"
	"github.com/albapepper/ops-reminders/internal/db"
	"github.com/albapepper/ops-reminders/internal/push"
	"github.com/albapepper/ops-reminders/internal/reminder"
	"github.com/albapepper/ops-reminders/internal/store"
)

// app bundles everything a job run needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *db.Pool
	pg     *store.Postgres
	engine *reminder.Engine

	fs *firestore.Client
}

// newApp connects the pool, picks the notification ledger and the push
// gateway, and builds the engine.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) (*app, error) {
	pool, err := db.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, pool: pool, pg: store.NewPostgres(pool.Pool)}

	fb, err := config.NewFirebaseApp(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var ledger reminder.Ledger = a.pg
	if cfg.NotificationStore == config.StoreFirestore {
		if fb == nil {
			a.Close()
			return nil, errors.New("NOTIFICATION_STORE=firestore requires FIREBASE_CREDENTIALS_FILE or FIREBASE_PROJECT_ID")
		}
		a.fs, err = fb.Firestore(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create firestore client: %w", err)
		}
		ledger = store.NewFirestore(a.fs)
	}

	var gateway reminder.Pusher = push.LogGateway{Logger: logger}
	if fb != nil {
		client, err := fb.Messaging(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create messaging client: %w", err)
		}
		gateway = push.NewFCMGateway(client, a.pg, cfg.PushRatePerSecond, cfg.PushTimeout, logger)
	} else {
		logger.Info("push disabled (no Firebase credentials), deliveries are logged only")
	}

	a.engine = reminder.NewEngine(a.pg, reminder.DefaultAuthorizer(), ledger, gateway, logger, dryRun)
	logger.Info("reminder engine ready",
		"store", cfg.NotificationStore,
		"timezone", cfg.Timezone,
		"dry_run", dryRun)
	return a, nil
}

// Close releases the Firestore client and the pool.
func (a *app) Close() {
	if a.fs != nil {
		if err := a.fs.Close(); err != nil {
			a.logger.Warn("close firestore client", "error", err)
		}
	}
	a.pool.Close()
}
