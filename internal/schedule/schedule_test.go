package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/ops-reminders/internal/reminder"
)

var t0 = time.Date(2026, 3, 10, 17, 5, 0, 0, time.UTC)

type namedJob string

func (j namedJob) Name() string { return string(j) }
func (j namedJob) Scan(context.Context, time.Time) ([]reminder.Intent, error) {
	return nil, nil
}

// blockingRunner holds each run until release is closed.
type blockingRunner struct {
	mu      sync.Mutex
	started chan string
	release chan struct{}
	calls   []time.Time
	err     error
	panic   bool
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan string, 8), release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, job reminder.Job, now time.Time) (reminder.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, now)
	r.mu.Unlock()
	r.started <- job.Name()
	<-r.release
	if r.panic {
		panic("boom")
	}
	return reminder.Result{Job: job.Name(), Sent: 2, StartedAt: now}, r.err
}

func testScheduler(r Runner) *Scheduler {
	return New(r, time.UTC, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return t0 }))
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	r := newBlockingRunner()
	s := testScheduler(r)
	require.NoError(t, s.Register(namedJob("tickets:send-reminders"), ""))

	require.NoError(t, s.Trigger("tickets:send-reminders"))
	<-r.started

	err := s.Trigger("tickets:send-reminders")
	require.ErrorIs(t, err, ErrJobRunning)
	_, err = s.RunNow(context.Background(), "tickets:send-reminders")
	require.ErrorIs(t, err, ErrJobRunning)
	assert.True(t, s.Status()[0].Running)

	close(r.release)
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Status()[0].Running)
	assert.Len(t, r.calls, 1)
}

func TestDifferentJobsRunConcurrently(t *testing.T) {
	r := newBlockingRunner()
	s := testScheduler(r)
	require.NoError(t, s.Register(namedJob("a"), ""))
	require.NoError(t, s.Register(namedJob("b"), ""))

	require.NoError(t, s.Trigger("a"))
	require.NoError(t, s.Trigger("b"))
	got := map[string]bool{<-r.started: true, <-r.started: true}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, got)

	close(r.release)
	require.NoError(t, s.Stop(context.Background()))
}

func TestRunNowRecordsLastResult(t *testing.T) {
	r := newBlockingRunner()
	close(r.release)
	s := testScheduler(r)
	require.NoError(t, s.Register(namedJob("meetings:send-reminders"), "*/5 * * * *"))

	res, err := s.RunNow(context.Background(), "meetings:send-reminders")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, []time.Time{t0}, r.calls)

	st := s.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "*/5 * * * *", st[0].Schedule)
	require.NotNil(t, st[0].LastRun)
	assert.Equal(t, 2, st[0].LastRun.Sent)
	assert.Empty(t, st[0].LastError)
}

func TestRunNowFailureIsRecorded(t *testing.T) {
	r := newBlockingRunner()
	close(r.release)
	r.err = errors.New("store down")
	s := testScheduler(r)
	require.NoError(t, s.Register(namedJob("x"), ""))

	_, err := s.RunNow(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, s.Status()[0].LastError, "store down")

	// The guard is released after a failure.
	r.err = nil
	_, err = s.RunNow(context.Background(), "x")
	require.NoError(t, err)
}

func TestPanicAbortsOnlyThatTick(t *testing.T) {
	r := newBlockingRunner()
	close(r.release)
	r.panic = true
	s := testScheduler(r)
	require.NoError(t, s.Register(namedJob("x"), ""))

	_, err := s.RunNow(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	r.panic = false
	_, err = s.RunNow(context.Background(), "x")
	require.NoError(t, err)
}

func TestUnknownJob(t *testing.T) {
	s := testScheduler(newBlockingRunner())
	require.ErrorIs(t, s.Trigger("nope"), ErrUnknownJob)
	_, err := s.RunNow(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownJob)
	assert.False(t, s.Has("nope"))
}

func TestRegisterValidation(t *testing.T) {
	s := testScheduler(newBlockingRunner())
	require.Error(t, s.Register(namedJob("bad"), "not a cron"))
	require.NoError(t, s.Register(namedJob("ok"), "0 8 * * *"))
	require.Error(t, s.Register(namedJob("ok"), "0 9 * * *"))
	assert.True(t, s.Has("ok"))
}

func TestStatusReportsNextRunOnceStarted(t *testing.T) {
	s := testScheduler(newBlockingRunner())
	require.NoError(t, s.Register(namedJob("daily"), "0 8 * * *"))
	require.NoError(t, s.Register(namedJob("manual"), ""))

	s.Start()
	defer s.Stop(context.Background()) //nolint:errcheck

	require.Eventually(t, func() bool { return s.Status()[0].Next != nil }, time.Second, 10*time.Millisecond)
	assert.Nil(t, s.Status()[1].Next)
}
