package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Job scans one domain and yields the intents due at now.
type Job interface {
	Name() string
	Scan(ctx context.Context, now time.Time) ([]Intent, error)
}

// Result tracks the outcome of one job tick.
type Result struct {
	Job        string        `json:"job"`
	Intents    int           `json:"intents"`
	Dropped    int           `json:"dropped"` // intents with no resolvable recipient
	Sent       int           `json:"sent"`
	Suppressed int           `json:"suppressed"`
	PushFailed int           `json:"push_failed"`
	DryRun     bool          `json:"dry_run"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
}

// Summary returns a human-readable summary.
func (r *Result) Summary() string {
	s := fmt.Sprintf("job=%s intents=%d dropped=%d sent=%d suppressed=%d push_failed=%d dur=%s",
		r.Job, r.Intents, r.Dropped, r.Sent, r.Suppressed, r.PushFailed,
		r.Duration.Round(time.Millisecond))
	if r.DryRun {
		s += " dry_run=true"
	}
	return s
}

// Engine runs the scan → resolve → guard → dispatch pipeline for a job.
type Engine struct {
	resolver   *Resolver
	guard      *Guard
	dispatcher *Dispatcher
	logger     *slog.Logger
	dryRun     bool
}

// NewEngine wires the pipeline. In dry-run mode nothing is written or
// pushed: Sent counts the deliveries that would have gone out.
func NewEngine(dir Directory, auth Authorizer, ledger Ledger, push Pusher, logger *slog.Logger, dryRun bool) *Engine {
	guard := NewGuard(ledger)
	return &Engine{
		resolver:   NewResolver(dir, auth),
		guard:      guard,
		dispatcher: NewDispatcher(guard, push, logger),
		logger:     logger,
		dryRun:     dryRun,
	}
}

// Run executes one tick of job at now. Only store failures are returned as
// errors; per-recipient push failures are counted in the result.
func (e *Engine) Run(ctx context.Context, job Job, now time.Time) (Result, error) {
	res := Result{Job: job.Name(), DryRun: e.dryRun, StartedAt: now}
	start := time.Now()

	intents, err := job.Scan(ctx, now)
	if err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("scan: %w", err)
	}
	res.Intents = len(intents)

	for _, in := range intents {
		deliveries, err := e.resolver.Resolve(ctx, in)
		if err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("resolve %s %d: %w", in.EntityType, in.EntityID, err)
		}
		if len(deliveries) == 0 {
			res.Dropped++
			continue
		}

		var out Outcome
		if e.dryRun {
			out, err = e.preview(ctx, deliveries, in, now)
		} else {
			out, err = e.dispatcher.Dispatch(ctx, deliveries, in, now)
		}
		res.Sent += out.Sent
		res.Suppressed += out.Suppressed
		res.PushFailed += out.PushFailed
		if err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("dispatch %s %d: %w", in.EntityType, in.EntityID, err)
		}
	}

	res.Duration = time.Since(start)
	e.logger.Info("reminder job finished", "summary", res.Summary())
	return res, nil
}

func (e *Engine) preview(ctx context.Context, deliveries []Delivery, in Intent, now time.Time) (Outcome, error) {
	var out Outcome
	for _, dl := range deliveries {
		sent, err := e.guard.AlreadySent(ctx, KeyFor(dl.UserID, dl.Audience, in), in.Cooldown, now)
		if err != nil {
			return out, err
		}
		if sent {
			out.Suppressed++
			continue
		}
		out.Sent++
		e.logger.Info("would send reminder",
			"user_id", dl.UserID, "audience", dl.Audience, "type", in.Type,
			"entity_id", in.EntityID, "reminder", in.ReminderKey, "title", in.Title)
	}
	return out, nil
}
