// Package schedule drives reminder jobs on cron cadences. Every job owns a
// single overlap guard shared by cron ticks, HTTP triggers and LISTEN
// triggers: while a tick runs, further invocations of the same job are
// skipped, never queued. Different jobs run concurrently.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/albapepper/ops-reminders/internal/reminder"
)

var (
	ErrJobRunning = errors.New("job already running")
	ErrUnknownJob = errors.New("unknown job")
)

// Runner executes one tick of a job. *reminder.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, job reminder.Job, now time.Time) (reminder.Result, error)
}

// Status is a point-in-time view of a registered job.
type Status struct {
	Name      string           `json:"name"`
	Schedule  string           `json:"schedule"`
	Running   bool             `json:"running"`
	Next      *time.Time       `json:"next_run,omitempty"`
	LastRun   *reminder.Result `json:"last_run,omitempty"`
	LastError string           `json:"last_error,omitempty"`
}

type slot struct {
	job     reminder.Job
	spec    string
	entry   cron.EntryID
	running atomic.Bool

	mu      sync.Mutex
	last    *reminder.Result
	lastErr error
}

// Scheduler owns the cron instance and the per-job guards.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	slots map[string]*slot
	order []string
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler evaluating cron specs in loc. timeout bounds each
// tick; zero means no bound.
func New(runner Runner, loc *time.Location, timeout time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:  runner,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		slots:   make(map[string]*slot),
	}
	for _, o := range opts {
		o(s)
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{logger})),
	)
	return s
}

// Register adds a job on a five-field cron spec. An empty spec registers
// the job for manual triggers only.
func (s *Scheduler) Register(job reminder.Job, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.slots[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	sl := &slot{job: job, spec: spec}
	if spec != "" {
		id, err := s.cron.AddFunc(spec, func() { s.tick(name) })
		if err != nil {
			return fmt.Errorf("schedule %q: %w", name, err)
		}
		sl.entry = id
	}
	s.slots[name] = sl
	s.order = append(s.order, name)
	s.logger.Info("job registered", "job", name, "schedule", spec)
	return nil
}

// Start begins firing cron entries.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.order))
}

// Stop halts cron and waits for in-flight ticks, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// RunNow runs a job synchronously through its guard.
func (s *Scheduler) RunNow(ctx context.Context, name string) (reminder.Result, error) {
	sl, err := s.acquire(name)
	if err != nil {
		return reminder.Result{}, err
	}
	s.wg.Add(1)
	defer s.wg.Done()
	return s.execute(ctx, sl)
}

// Trigger starts a job in the background. It fails fast with
// ErrJobRunning or ErrUnknownJob.
func (s *Scheduler) Trigger(name string) error {
	sl, err := s.acquire(name)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.execute(s.ctx, sl)
	}()
	return nil
}

// Status lists every job in registration order.
func (s *Scheduler) Status() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.order))
	for _, name := range s.order {
		sl := s.slots[name]
		st := Status{Name: name, Schedule: sl.spec, Running: sl.running.Load()}
		if sl.entry != 0 {
			if next := s.cron.Entry(sl.entry).Next; !next.IsZero() {
				st.Next = &next
			}
		}
		sl.mu.Lock()
		if sl.last != nil {
			r := *sl.last
			st.LastRun = &r
		}
		if sl.lastErr != nil {
			st.LastError = sl.lastErr.Error()
		}
		sl.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Has reports whether name is registered.
func (s *Scheduler) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.slots[name]
	return ok
}

func (s *Scheduler) tick(name string) {
	sl, err := s.acquire(name)
	if err != nil {
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	_, _ = s.execute(s.ctx, sl)
}

func (s *Scheduler) acquire(name string) (*slot, error) {
	s.mu.RLock()
	sl, ok := s.slots[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !sl.running.CompareAndSwap(false, true) {
		s.logger.Info("job skipped, previous run still in progress", "job", name)
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	return sl, nil
}

// execute runs one tick and releases the guard. A panic aborts only this
// tick.
func (s *Scheduler) execute(ctx context.Context, sl *slot) (res reminder.Result, err error) {
	name := sl.job.Name()
	defer sl.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("job panicked", "job", name, "panic", r)
		}
		sl.mu.Lock()
		sl.last, sl.lastErr = &res, err
		sl.mu.Unlock()
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err = s.runner.Run(ctx, sl.job, s.now())
	if err != nil {
		s.logger.Error("job failed", "job", name, "error", err, "summary", res.Summary())
		return res, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
