// Package listener provides a Postgres LISTEN/NOTIFY consumer for on-demand
// reminder runs. It holds a dedicated pgx connection (not from the pool)
// listening on the `reminder_run` channel.
//
// Any client can request a run with
//
//	SELECT pg_notify('reminder_run', '{"job":"tickets:send-reminders"}');
//
// and the job is started through the scheduler's overlap guard.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	Channel          = "reminder_run"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// RunRequest is the JSON payload from pg_notify('reminder_run', ...).
type RunRequest struct {
	Job string `json:"job"`
}

// Trigger starts a job in the background. *schedule.Scheduler satisfies it.
type Trigger interface {
	Trigger(name string) error
}

// ParseRunRequest decodes a notification payload. A bare job name is
// accepted as well as the JSON form.
func ParseRunRequest(payload string) (RunRequest, error) {
	var req RunRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		var syntax *json.SyntaxError
		if !errors.As(err, &syntax) {
			return req, fmt.Errorf("decode payload: %w", err)
		}
		req.Job = payload
	}
	if req.Job == "" {
		return req, errors.New("payload names no job")
	}
	return req, nil
}

// Start opens a dedicated connection and listens on the reminder_run
// channel. It reconnects automatically on connection loss. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, trigger Trigger, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, trigger, logger, func() { backoff = reconnectBackoff })
		if ctx.Err() != nil {
			logger.Info("run listener stopped (context cancelled)")
			return
		}

		logger.Error("run listener disconnected, reconnecting",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, trigger Trigger, logger *slog.Logger, connected func()) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("LISTEN %s: %w", Channel, err)
	}
	connected()
	logger.Info("run listener connected", "channel", Channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		Handle(n.Payload, trigger, logger)
	}
}

// Handle starts the job named by one payload.
func Handle(payload string, trigger Trigger, logger *slog.Logger) {
	req, err := ParseRunRequest(payload)
	if err != nil {
		logger.Warn("ignoring run request", "payload", payload, "error", err)
		return
	}
	if err := trigger.Trigger(req.Job); err != nil {
		logger.Warn("run request not started", "job", req.Job, "error", err)
		return
	}
	logger.Info("run request started", "job", req.Job)
}
