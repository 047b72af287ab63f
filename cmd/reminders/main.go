// Command reminders scans operational records and dispatches deduplicated
// reminder notifications.
//
// Usage:
//
//	reminders tickets:send-reminders
//	reminders services:send-expiry-reminders --days 7,1
//	reminders support-calendar:send-reminders --date 2026-03-10 --dry-run
//	reminders migrate up
//	reminders serve

// @title Ops Reminders API
// @version 1.0.0
// @description Operational surface of the reminder scheduler: health checks, job status and manual job runs.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @contact.name Ops Reminders
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/ops-reminders/internal/api"
	"github.com/albapepper/ops-reminders/internal/config"
	"github.com/albapepper/ops-reminders/internal/db"
	"github.com/albapepper/ops-reminders/internal/listener"
	"github.com/albapepper/ops-reminders/internal/maintenance"
	"github.com/albapepper/ops-reminders/internal/scanner"
	"github.com/albapepper/ops-reminders/internal/schedule"

	_ "github.com/albapepper/ops-reminders/docs" // swagger docs
)

var dryRun bool

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "reminders",
		Short:        "Operational reminder dispatcher",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Evaluate and resolve without writing notifications or pushing")

	for _, def := range jobDefs {
		root.AddCommand(jobCmd(def))
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(jobsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// job commands
// --------------------------------------------------------------------------

func jobCmd(def jobDef) *cobra.Command {
	var days, date string
	cmd := &cobra.Command{
		Use:   def.Name,
		Short: def.Help,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWith(func(ctx context.Context, a *app) error {
				var args jobArgs
				if days != "" {
					args.Days = scanner.ParseDays(days)
				}
				d, err := parseDate(date, a.cfg.Location)
				if err != nil {
					return err
				}
				args.Date = d

				job, err := buildJob(def.Name, a.pg, a.cfg, args)
				if err != nil {
					return err
				}
				res, err := a.engine.Run(ctx, job, time.Now())
				if err != nil {
					return fmt.Errorf("%s: %w", def.Name, err)
				}
				if res.PushFailed > 0 {
					cmd.PrintErrf("Warning: %d push delivery(ies) failed.\n", res.PushFailed)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent %d reminder(s).\n", res.Sent)
				return nil
			})
		},
	}
	switch def.Name {
	case scanner.JobServices:
		cmd.Flags().StringVar(&days, "days", "", "CSV of lead days 0-90 (default SERVICE_EXPIRY_DAYS or 7,1)")
	case scanner.JobSupport:
		cmd.Flags().StringVar(&date, "date", "", "Base date YYYY-MM-DD; reminds about the following day (default today)")
	}
	return cmd
}

// --------------------------------------------------------------------------
// serve command
// --------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cron scheduler, the reminder_run listener and the ops API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWith(serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	sched := schedule.New(a.engine, cfg.Location, cfg.JobTimeout, logger)
	for _, def := range jobDefs {
		job, err := buildJob(def.Name, a.pg, cfg, jobArgs{})
		if err != nil {
			return err
		}
		if err := sched.Register(job, cfg.Schedule(def.Short, def.Cadence)); err != nil {
			return err
		}
	}
	sched.Start()

	// On-demand runs via pg_notify('reminder_run', ...)
	if cfg.ListenEnabled {
		go listener.Start(ctx, cfg.DatabaseURL, sched, logger)
	}

	go maintenance.Start(ctx, a.pool.Pool, maintenance.Config{
		CleanupInterval: cfg.CleanupInterval,
		TokenRetention:  cfg.TokenRetention,
	}, logger)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(a.pool, sched, cfg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ops API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		logger.Error("Server failed", "error", serveErr)
	}
	logger.Info("Shutting down...")

	// Graceful shutdown: let in-flight ticks finish within the job timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), max(cfg.JobTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("Scheduler did not drain", "error", err)
	}
	logger.Info("Server stopped")
	return serveErr
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the notifications schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *db.Migrator) error { return m.Up() })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *db.Migrator) error { return m.Down() })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *db.Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
				return nil
			})
		},
	})
	return cmd
}

func withMigrator(fn func(m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	m, err := db.NewMigrator(cfg.DatabaseURL, cfg.NewLogger())
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return fn(m)
}

// --------------------------------------------------------------------------
// jobs command
// --------------------------------------------------------------------------

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List reminder jobs and their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			for _, def := range jobDefs {
				fmt.Fprintf(cmd.OutOrStdout(), "%-36s %-14s %s\n", def.Name, cfg.Schedule(def.Short, def.Cadence), def.Help)
			}
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// runWith handles config loading, wiring, and context cancellation.
func runWith(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	a, err := newApp(ctx, cfg, logger, dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
