package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wordsmithlab/lexguard/pkg/models"
)

// runRecovery repairs stuck state before any other phase touches it.
//
// Stuck submissions: an item frozen in submitting past the grace window
// means the invocation that claimed it died before recording a task id.
// Releasing it back to queued gives at-least-once submission semantics; a
// duplicate provider call is tolerated because the task id is only written
// on success.
//
// Expired jobs: the absolute runtime budget bounds what a pathological or
// abandoned job can consume. Force-failed jobs get one final counter
// reconciliation with the status pinned failed.
func (e *Engine) runRecovery(ctx context.Context, stats *Stats) error {
	now := time.Now().UTC()

	reset, err := e.store.ResetStuckSubmitting(ctx, now.Add(-e.cfg.SubmittingGrace))
	if err != nil {
		return fmt.Errorf("resetting stuck submissions: %w", err)
	}
	stats.StuckSubmittingReset = reset
	if reset > 0 {
		slog.Warn("released stuck submitting items", "count", reset,
			"grace", e.cfg.SubmittingGrace.String())
	}

	expired, err := e.store.FailExpiredJobs(ctx, now.Add(-e.cfg.JobTimeout), "Job exceeded maximum runtime")
	if err != nil {
		return fmt.Errorf("failing expired jobs: %w", err)
	}
	stats.ExpiredJobs = len(expired)

	for _, jobID := range expired {
		slog.Warn("force-failed expired job", "job_id", jobID,
			"budget", e.cfg.JobTimeout.String())
		counts, err := e.store.GetJobItemCounts(ctx, jobID)
		if err != nil {
			slog.Error("counting items of expired job failed", "job_id", jobID, "error", err)
			continue
		}
		if err := e.store.UpdateJobAggregates(ctx, jobID, counts, models.JobStatusFailed); err != nil {
			slog.Error("reconciling expired job failed", "job_id", jobID, "error", err)
			continue
		}
		if err := e.cache.SetJobStatus(ctx, jobID, models.JobStatusFailed, jobStatusCacheTTL); err != nil {
			slog.Warn("job status cache write failed", "job_id", jobID, "error", err)
		}
	}
	return nil
}
