// Package handler provides HTTP handlers for the reminders ops API: health
// checks, the job list and manual job runs.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/ops-reminders/internal/api/respond"
	"github.com/albapepper/ops-reminders/internal/schedule"
)

// HealthChecker verifies the database. *db.Pool satisfies it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Jobs is the scheduler surface the API drives.
type Jobs interface {
	Status() []schedule.Status
	Trigger(name string) error
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	db   HealthChecker
	jobs Jobs
	now  func() time.Time
}

// New creates a Handler with shared dependencies.
func New(db HealthChecker, jobs Jobs) *Handler {
	return &Handler{db: db, jobs: jobs, now: time.Now}
}

// Root serves API info at /.
// @Summary API root info
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":   "Ops Reminders",
		"status": "running",
		"docs":   "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.db.HealthCheck(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": h.now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// ListJobs returns every registered job with its schedule and last run.
// @Summary List reminder jobs
// @Tags jobs
// @Produce json
// @Success 200 {object} map[string][]schedule.Status
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"jobs": h.jobs.Status(),
	})
}

// RunJob starts a job in the background.
// @Summary Run a reminder job now
// @Tags jobs
// @Produce json
// @Param name path string true "Job name, e.g. tickets:send-reminders"
// @Success 202 {object} map[string]interface{}
// @Failure 404 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Router /jobs/{name}/run [post]
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	err := h.jobs.Trigger(name)
	switch {
	case errors.Is(err, schedule.ErrUnknownJob):
		respond.WriteError(w, http.StatusNotFound, "UNKNOWN_JOB", "No job named "+name)
	case errors.Is(err, schedule.ErrJobRunning):
		respond.WriteError(w, http.StatusConflict, "JOB_RUNNING", "Job "+name+" is already running")
	case err != nil:
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Job could not be started", err.Error())
	default:
		respond.WriteJSONObject(w, http.StatusAccepted, map[string]any{
			"job":    name,
			"status": "started",
		})
	}
}
