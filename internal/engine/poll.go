package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wordsmithlab/lexguard/internal/provider"
	"github.com/wordsmithlab/lexguard/internal/store"
	"github.com/wordsmithlab/lexguard/pkg/models"
)

// runPolling advances every active job: polls in-flight provider tasks,
// sweeps timed-out items, and reconciles aggregates. Jobs are processed
// sequentially oldest-first; a broken job is logged and skipped so the rest
// still make progress.
func (e *Engine) runPolling(ctx context.Context, stats *Stats) error {
	jobs, err := e.store.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("listing active jobs: %w", err)
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		polled, timedOut, resolved, err := e.pollJob(ctx, job)
		if err != nil {
			slog.Error("polling job failed", "job_id", job.ID, "error", err)
			stats.PhaseErrors = append(stats.PhaseErrors,
				fmt.Sprintf("polling job %s: %v", job.ID, err))
			continue
		}
		stats.PolledJobs++
		stats.PolledItems += polled
		stats.TimedOutItems += timedOut
		if resolved {
			stats.ResolvedJobs++
		}
	}
	return nil
}

// pollJob advances one job. Even a job with no open items gets an aggregate
// pass — external state (item creation, skips) may have changed since the
// last run, and empty jobs resolve here.
func (e *Engine) pollJob(ctx context.Context, job *models.Job) (polled int, timedOut int64, resolved bool, err error) {
	items, err := e.store.ListOpenItems(ctx, job.ID, e.cfg.PollItemsPerJob)
	if err != nil {
		return 0, 0, false, fmt.Errorf("listing open items: %w", err)
	}

	var inFlight []*models.WorkItem
	for _, item := range items {
		if item.Status == models.ItemStatusProcessing && item.ProviderTaskID != nil {
			inFlight = append(inFlight, item)
		}
	}

	var polledCount atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PollConcurrency)

	for _, item := range inFlight {
		g.Go(func() error {
			task, getErr := e.provider.GetTask(gctx, *item.ProviderTaskID)
			if getErr != nil {
				// No in-line retry: the item stays processing and the next
				// invocation polls it again.
				slog.Warn("poll failed, leaving item in flight",
					"item_id", item.ID, "task_id", *item.ProviderTaskID, "error", getErr)
				return nil
			}
			polledCount.Add(1)
			if routeErr := e.routeTaskStatus(gctx, job, item, task); routeErr != nil {
				slog.Error("routing task status failed",
					"item_id", item.ID, "task_status", task.Status, "error", routeErr)
			}
			return nil
		})
	}
	_ = g.Wait()
	polled = int(polledCount.Load())

	cutoff := time.Now().UTC().Add(-e.cfg.ItemTimeout)
	timedOut, err = e.store.FailStaleItems(ctx, job.ID, cutoff, "Timed out waiting for provider response")
	if err != nil {
		slog.Error("timeout sweep failed", "job_id", job.ID, "error", err)
		timedOut = 0
	}

	status, err := e.refreshJob(ctx, job.ID)
	if err != nil {
		return polled, timedOut, false, fmt.Errorf("refreshing aggregates: %w", err)
	}
	return polled, timedOut, models.IsTerminalJobStatus(status), nil
}

// routeTaskStatus maps one provider task status onto the item lifecycle.
func (e *Engine) routeTaskStatus(ctx context.Context, job *models.Job, item *models.WorkItem, task *provider.Task) error {
	switch task.Status {
	case provider.TaskStatusQueued, provider.TaskStatusInProgress:
		return e.store.SaveItemResponse(ctx, item.ID, task.Raw)

	case provider.TaskStatusCompleted:
		return e.handleCompleted(ctx, job, item, task)

	case provider.TaskStatusFailed:
		msg := "Task failed without provider error detail"
		if task.Error != nil && task.Error.Message != "" {
			msg = task.Error.Message
		}
		return e.store.MarkItemFailed(ctx, item.ID, msg, store.WithPayload(task.Raw))

	case provider.TaskStatusCancelled:
		return e.store.MarkItemFailed(ctx, item.ID, "Cancelled at provider", store.WithPayload(task.Raw))

	case provider.TaskStatusIncomplete:
		reason := "unknown"
		if task.IncompleteDetails != nil && task.IncompleteDetails.Reason != "" {
			reason = task.IncompleteDetails.Reason
		}
		return e.store.MarkItemFailed(ctx, item.ID,
			fmt.Sprintf("Task incomplete: %s", reason), store.WithPayload(task.Raw))

	default:
		slog.Warn("unknown provider task status, leaving item in flight",
			"item_id", item.ID, "task_status", task.Status)
		return e.store.SaveItemResponse(ctx, item.ID, task.Raw)
	}
}

// handleCompleted parses the verdict and applies it. Absent output leaves
// the item in flight; unparseable output is a terminal failure.
func (e *Engine) handleCompleted(ctx context.Context, job *models.Job, item *models.WorkItem, task *provider.Task) error {
	verdict, err := ParseModeration(task)
	if errors.Is(err, ErrNoOutput) {
		return e.store.SaveItemResponse(ctx, item.ID, task.Raw)
	}
	if err != nil {
		return e.store.MarkItemFailed(ctx, item.ID,
			truncateString(fmt.Sprintf("Unparseable moderation verdict: %v", err), 1024),
			store.WithPayload(task.Raw))
	}
	return e.applyVerdict(ctx, job, item, verdict, task)
}

// applyVerdict writes the verdict onto the item's single target entity, then
// marks the item succeeded. The two statements commit separately in that
// order: a crash between them leaves the item processing, and re-applying
// the same verdict on the next poll is idempotent.
func (e *Engine) applyVerdict(ctx context.Context, job *models.Job, item *models.WorkItem, verdict *models.ModerationResult, task *provider.Task) error {
	ref, err := item.TargetRef()
	if err != nil {
		return e.store.MarkItemFailed(ctx, item.ID,
			fmt.Sprintf("Invalid entity reference: %v", err), store.WithPayload(task.Raw))
	}

	var reason string
	if verdict.Flagged {
		reason = fmt.Sprintf("[%s] %s", job.Name, verdict.FlaggedReason)
	}
	if err := e.store.FlagEntity(ctx, ref, verdict.Flagged, reason); err != nil {
		return fmt.Errorf("flagging %s: %w", ref, err)
	}

	var usage models.TokenUsage
	if task.Usage != nil {
		usage = models.TokenUsage{
			PromptTokens:     task.Usage.InputTokens,
			CompletionTokens: task.Usage.OutputTokens,
		}
	}
	if err := e.store.MarkItemSucceeded(ctx, item.ID, verdict.Flagged, usage, task.Raw); err != nil {
		return fmt.Errorf("marking item succeeded: %w", err)
	}
	return nil
}
