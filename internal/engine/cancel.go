package engine

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// runCancellations cascades job-level cancellations. The local terminal
// state is authoritative: every open item is failed first, then provider
// tasks are cancelled best-effort — a failed remote cancel never blocks or
// reverts the local outcome, because the poller must not resurrect the item.
func (e *Engine) runCancellations(ctx context.Context, stats *Stats) error {
	jobs, err := e.store.ListCancelledJobsWithOpenItems(ctx)
	if err != nil {
		return fmt.Errorf("listing cancelled jobs: %w", err)
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		items, err := e.store.FailOpenItems(ctx, job.ID, "Cancelled by user")
		if err != nil {
			slog.Error("cancellation cascade failed", "job_id", job.ID, "error", err)
			stats.PhaseErrors = append(stats.PhaseErrors,
				fmt.Sprintf("cancelling job %s: %v", job.ID, err))
			continue
		}
		stats.CancelledJobs++
		stats.CancelledItems += len(items)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.CancelConcurrency)
		for _, item := range items {
			if item.ProviderTaskID == nil {
				continue
			}
			taskID := *item.ProviderTaskID
			g.Go(func() error {
				if _, err := e.provider.CancelTask(gctx, taskID); err != nil {
					// Log-only: the item row is already terminal.
					slog.Warn("provider cancel failed",
						"item_id", item.ID, "task_id", taskID, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()

		// Stickiness keeps the job cancelled while the counters catch up.
		if _, err := e.refreshJob(ctx, job.ID); err != nil {
			slog.Error("aggregate refresh after cancellation failed", "job_id", job.ID, "error", err)
		}
	}
	return nil
}
