package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/ops-reminders/internal/config"
	"github.com/albapepper/ops-reminders/internal/schedule"
)

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck(context.Context) error { return f.err }

type fakeJobs struct {
	running map[string]bool
	started []string
}

func (f *fakeJobs) Status() []schedule.Status {
	return []schedule.Status{{Name: "tickets:send-reminders", Schedule: "*/10 * * * *", Running: f.running["tickets:send-reminders"]}}
}

func (f *fakeJobs) Trigger(name string) error {
	if name != "tickets:send-reminders" {
		return fmt.Errorf("%w: %s", schedule.ErrUnknownJob, name)
	}
	if f.running[name] {
		return fmt.Errorf("%w: %s", schedule.ErrJobRunning, name)
	}
	f.started = append(f.started, name)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		CORSAllowOrigins:  []string{"http://localhost:3000"},
		RateLimitRequests: 4,
		RateLimitWindow:   time.Minute,
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	r := NewRouter(fakeDB{}, &fakeJobs{}, testConfig())

	rec := do(t, r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Process-Time"))

	rec = do(t, r, http.MethodGet, "/health/db")
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewRouter(fakeDB{err: errors.New("refused")}, &fakeJobs{}, testConfig())
	rec = do(t, down, http.MethodGet, "/health/db")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListJobs(t *testing.T) {
	r := NewRouter(fakeDB{}, &fakeJobs{}, testConfig())

	rec := do(t, r, http.MethodGet, "/api/v1/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs []schedule.Status `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, "tickets:send-reminders", body.Jobs[0].Name)
	assert.Equal(t, "*/10 * * * *", body.Jobs[0].Schedule)
}

func TestRunJob(t *testing.T) {
	jobs := &fakeJobs{running: map[string]bool{}}
	r := NewRouter(fakeDB{}, jobs, testConfig())

	rec := do(t, r, http.MethodPost, "/api/v1/jobs/tickets:send-reminders/run")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"tickets:send-reminders"}, jobs.started)

	jobs.running["tickets:send-reminders"] = true
	rec = do(t, r, http.MethodPost, "/api/v1/jobs/tickets:send-reminders/run")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "JOB_RUNNING")

	rec = do(t, r, http.MethodPost, "/api/v1/jobs/nope/run")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunRateLimitIsPerJob(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitEnabled = true
	jobs := &fakeJobs{running: map[string]bool{}}
	r := NewRouter(fakeDB{}, jobs, cfg)

	// Burst is half the window quota.
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusAccepted, do(t, r, http.MethodPost, "/api/v1/jobs/tickets:send-reminders/run").Code)
	}
	rec := do(t, r, http.MethodPost, "/api/v1/jobs/tickets:send-reminders/run")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "15", rec.Header().Get("Retry-After"))
	assert.Len(t, jobs.started, 2)

	// Another job and read endpoints are unaffected.
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/api/v1/jobs/nope/run").Code)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/jobs").Code)
	}
}

func TestRunLimiterRefillsAndEvicts(t *testing.T) {
	now := time.Date(2026, 3, 10, 17, 5, 0, 0, time.UTC)
	l := newRunLimiter(4, time.Minute)
	l.now = func() time.Time { return now }
	key := runKey{client: "10.0.0.1", job: "tickets:send-reminders"}

	assert.Zero(t, l.wait(key))
	assert.Zero(t, l.wait(key))
	assert.InDelta(t, 15, l.wait(key).Seconds(), 0.001)
	assert.Zero(t, l.wait(runKey{client: "10.0.0.2", job: key.job}))

	now = now.Add(16 * time.Second)
	assert.Zero(t, l.wait(key))

	now = now.Add(5 * time.Minute)
	l.wait(runKey{client: "10.0.0.3", job: key.job})
	assert.Len(t, l.buckets, 1)
}
