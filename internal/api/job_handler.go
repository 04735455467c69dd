package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/tasksync/internal/api/shared"
	"github.com/phrazzld/tasksync/internal/queue"
)

// DeadJobLister is the part of queue.JobQueue the job endpoints read.
type DeadJobLister interface {
	DeadJobs(ctx context.Context, limit int) ([]queue.DeadJob, error)
}

// JobHandler exposes queue inspection endpoints.
type JobHandler struct {
	jobs   DeadJobLister
	logger *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobs DeadJobLister, log *slog.Logger) *JobHandler {
	if log == nil {
		log = slog.Default()
	}
	return &JobHandler{
		jobs:   jobs,
		logger: log.With(slog.String("component", "job_handler")),
	}
}

// RegisterRoutes mounts the job endpoints on r under /jobs.
func (h *JobHandler) RegisterRoutes(r chi.Router) {
	r.Get("/jobs/dead", h.ListDeadJobs)
}

// ListDeadJobs handles GET /api/jobs/dead requests
func (h *JobHandler) ListDeadJobs(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parseWindow(r, defaultDeadJobsLimit, maxDeadJobsLimit)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	dead, err := h.jobs.DeadJobs(r.Context(), limit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list dead jobs")
		return
	}
	if dead == nil {
		dead = []queue.DeadJob{}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, DeadJobsResponse{Items: dead})
}
