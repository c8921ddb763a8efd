package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wordsmithlab/lexguard/internal/provider"
	"github.com/wordsmithlab/lexguard/internal/store"
)

// runSubmission claims queued items and starts a provider background task
// for each. The claim is the atomicity boundary: once an item comes back
// from ClaimQueuedItems it belongs to this invocation alone, until either a
// task id is recorded or the recovery sweeper releases it.
func (e *Engine) runSubmission(ctx context.Context, stats *Stats) error {
	claimed, err := e.store.ClaimQueuedItems(ctx, e.cfg.ClaimLimit)
	if err != nil {
		return fmt.Errorf("claiming queued items: %w", err)
	}
	stats.ClaimedItems = len(claimed)
	if len(claimed) == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		submitted = make(map[uuid.UUID]int)
		failed    int
		itemErrs  []ItemError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.SubmitConcurrency)

	for _, ci := range claimed {
		g.Go(func() error {
			taskID, attempts, submitErr := e.submitOne(gctx, ci)

			if submitErr == nil {
				if err := e.store.MarkItemProcessing(gctx, ci.Item.ID, taskID, attempts); err != nil {
					slog.Error("failed to record submission",
						"item_id", ci.Item.ID, "task_id", taskID, "error", err)
					return nil
				}
				mu.Lock()
				submitted[ci.Item.JobID]++
				mu.Unlock()
				return nil
			}

			cat, _ := provider.Classify(submitErr)
			msg := provider.FailureMessage(cat, submitErr)
			if err := e.store.MarkItemFailed(gctx, ci.Item.ID, msg, store.WithAttempts(attempts)); err != nil {
				slog.Error("failed to record submission failure",
					"item_id", ci.Item.ID, "error", err)
			}
			mu.Lock()
			failed++
			itemErrs = append(itemErrs, ItemError{ItemID: ci.Item.ID, JobID: ci.Item.JobID, Error: msg})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stats.FailedSubmissions = failed
	for _, ie := range itemErrs {
		e.recordItemError(stats, ie.ItemID, ie.JobID, ie.Error)
	}

	// Optimistic counter bump per job, then reconcile exactly. Touch every
	// claimed job so failed-only jobs still get their aggregates refreshed.
	jobIDs := make(map[uuid.UUID]bool)
	for _, ci := range claimed {
		jobIDs[ci.Item.JobID] = true
	}
	for jobID := range jobIDs {
		if n := submitted[jobID]; n > 0 {
			stats.SubmittedItems += n
			if err := e.store.AddSubmittedItems(ctx, jobID, n); err != nil {
				slog.Warn("optimistic submitted-count bump failed", "job_id", jobID, "error", err)
			}
		}
		if _, err := e.refreshJob(ctx, jobID); err != nil {
			slog.Error("aggregate refresh after submission failed", "job_id", jobID, "error", err)
		}
	}
	return nil
}

// submitOne starts the provider task for a claimed item, retrying transient
// failures with exponential backoff (base * 2^n). Terminal classifications
// fail immediately without burning the retry budget.
func (e *Engine) submitOne(ctx context.Context, ci *store.ClaimedItem) (taskID string, attempts int, err error) {
	req := provider.TaskRequest{
		Model:           ci.Model,
		Input:           ci.Item.Prompt,
		ServiceTier:     ci.ServiceTier,
		ReasoningEffort: ci.ReasoningEffort,
		Metadata: map[string]string{
			"job_id":       ci.Item.JobID.String(),
			"work_item_id": strconv.FormatInt(ci.Item.ID, 10),
		},
	}

	backoff := e.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		task, createErr := e.provider.CreateTask(ctx, req)
		if createErr == nil {
			return task.ID, attempt + 1, nil
		}

		cat, retryable := provider.Classify(createErr)
		if !retryable || attempt >= e.cfg.SubmitMaxRetries {
			return "", attempt + 1, createErr
		}

		slog.Warn("retrying submission",
			"item_id", ci.Item.ID, "category", string(cat),
			"attempt", attempt+1, "backoff", backoff.String())

		select {
		case <-ctx.Done():
			return "", attempt + 1, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
