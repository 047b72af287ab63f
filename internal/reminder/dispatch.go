package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Pusher is the push gateway capability.
type Pusher interface {
	Send(ctx context.Context, userIDs []int64, title, body, actionURL string, data map[string]string) error
}

// Outcome counts what happened to the deliveries of one intent.
type Outcome struct {
	Sent       int
	Suppressed int
	PushFailed int
}

// Dispatcher persists a record per recipient and pushes it.
type Dispatcher struct {
	guard  *Guard
	push   Pusher
	logger *slog.Logger
}

func NewDispatcher(guard *Guard, push Pusher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{guard: guard, push: push, logger: logger}
}

// Dispatch sends an intent to each delivery not suppressed by the guard.
// A push failure is logged and counted but never stops the batch; a ledger
// failure means the store is unavailable and aborts the dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, deliveries []Delivery, in Intent, now time.Time) (Outcome, error) {
	var out Outcome
	for _, dl := range deliveries {
		rec := NewRecord(dl.UserID, dl.Audience, in, now)

		claimed, err := d.guard.Claim(ctx, rec, in.Cooldown)
		if err != nil {
			return out, fmt.Errorf("claim %s: %w", rec.Key, err)
		}
		if !claimed {
			out.Suppressed++
			d.logger.Debug("reminder suppressed",
				"user_id", dl.UserID, "type", in.Type,
				"entity_id", in.EntityID, "reminder", in.ReminderKey, "audience", dl.Audience)
			continue
		}
		out.Sent++

		if err := d.send(ctx, rec); err != nil {
			out.PushFailed++
			d.logger.Warn("push failed",
				"user_id", dl.UserID, "notification_id", rec.ID,
				"reminder", in.ReminderKey, "error", err)
		}
	}
	return out, nil
}

// send pushes one record, turning a panicking gateway into an error.
func (d *Dispatcher) send(ctx context.Context, rec *Record) (err error) {
	if d.push == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("push gateway panic: %v", r)
		}
	}()
	return d.push.Send(ctx, []int64{rec.UserID}, rec.Title, rec.Message, rec.ActionURL, rec.PushData())
}
