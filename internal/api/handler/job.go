package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wordsmithlab/lexguard/internal/api/response"
	"github.com/wordsmithlab/lexguard/internal/store"
	"github.com/wordsmithlab/lexguard/pkg/models"
)

// JobReader defines the store surface the job handler depends on.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// JobStatusCache is the Redis status mirror consulted before Postgres.
type JobStatusCache interface {
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error)
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// The status field prefers the cache mirror: aggregation writes it on every
// refresh, so it is usually fresher than a poller's view of the row between
// reconciliations. Everything else comes from Postgres.
func NewGetJobHandler(jobs JobReader, statuses JobStatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := jobs.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}

		if cached, ok, err := statuses.GetJobStatus(r.Context(), jobID); err == nil && ok {
			job.Status = cached
		}

		response.JSON(w, job)
	}
}
