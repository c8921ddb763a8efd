package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/wordsmithlab/lexguard/internal/cache"
	"github.com/wordsmithlab/lexguard/internal/config"
	"github.com/wordsmithlab/lexguard/internal/provider"
	"github.com/wordsmithlab/lexguard/internal/store"
)

// Invoker triggers a follow-up engine invocation. TriggerRun is
// fire-and-forget: it returns once the trigger is dispatched, and a trigger
// failure is never fatal — the next scheduled invocation picks the work up.
type Invoker interface {
	TriggerRun(ctx context.Context, chainDepth int) error
}

// Engine is the completion-job engine. It holds no per-invocation state:
// every Run reconstructs its working set from the store, so any number of
// Run calls may overlap (scheduled, chained, or manual) and coordination
// happens entirely through conditional database updates.
type Engine struct {
	store    store.Store
	provider provider.Client
	cache    cache.Cache
	invoker  Invoker
	cfg      config.EngineConfig
}

// New creates an Engine. invoker may be nil, which disables chaining.
func New(st store.Store, pc provider.Client, ca cache.Cache, invoker Invoker, cfg config.EngineConfig) *Engine {
	return &Engine{
		store:    st,
		provider: pc,
		cache:    ca,
		invoker:  invoker,
		cfg:      cfg,
	}
}

// Stats aggregates what one invocation did, phase by phase.
type Stats struct {
	StuckSubmittingReset int64       `json:"stuck_submitting_reset"`
	ExpiredJobs          int         `json:"expired_jobs"`
	CancelledJobs        int         `json:"cancelled_jobs"`
	CancelledItems       int         `json:"cancelled_items"`
	ClaimedItems         int         `json:"claimed_items"`
	SubmittedItems       int         `json:"submitted_items"`
	FailedSubmissions    int         `json:"failed_submissions"`
	PolledJobs           int         `json:"polled_jobs"`
	PolledItems          int         `json:"polled_items"`
	TimedOutItems        int64       `json:"timed_out_items"`
	ResolvedJobs         int         `json:"resolved_jobs"`
	PhaseErrors          []string    `json:"phase_errors,omitempty"`
	ItemErrors           []ItemError `json:"item_errors,omitempty"`
}

// ItemError describes one item-level submission failure, for invocation
// reporting only — the authoritative record is the item's last_error column.
type ItemError struct {
	ItemID int64     `json:"item_id"`
	JobID  uuid.UUID `json:"job_id"`
	Error  string    `json:"error"`
}

// maxReportedItemErrors bounds the per-item error list in the report body.
const maxReportedItemErrors = 25

// RunReport is the outcome of one invocation.
type RunReport struct {
	Stats            Stats `json:"stats"`
	PendingRemaining int   `json:"pending_remaining"`
	ChainTriggered   bool  `json:"chain_triggered"`
}

// Run executes one engine invocation: recovery, cancellation, submission,
// polling, then the chain decision. Phases are best-effort — a phase failure
// is logged and recorded, and later phases still run, so one broken job
// cannot stall the rest.
func (e *Engine) Run(ctx context.Context, chainDepth int) *RunReport {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.InvocationTimeout)
	defer cancel()

	report := &RunReport{}
	stats := &report.Stats

	slog.Info("engine invocation started", "chain_depth", chainDepth)

	if err := e.runRecovery(ctx, stats); err != nil {
		e.recordPhaseError(stats, "recovery", err)
	}
	if err := e.runCancellations(ctx, stats); err != nil {
		e.recordPhaseError(stats, "cancellation", err)
	}
	if err := e.runSubmission(ctx, stats); err != nil {
		e.recordPhaseError(stats, "submission", err)
	}
	if err := e.runPolling(ctx, stats); err != nil {
		e.recordPhaseError(stats, "polling", err)
	}

	pending, err := e.store.CountPendingItems(ctx)
	if err != nil {
		e.recordPhaseError(stats, "pending count", err)
	}
	report.PendingRemaining = pending

	if pending > 0 {
		report.ChainTriggered = e.maybeChain(ctx, chainDepth, pending)
	}

	slog.Info("engine invocation finished",
		"chain_depth", chainDepth,
		"claimed", stats.ClaimedItems,
		"submitted", stats.SubmittedItems,
		"polled_items", stats.PolledItems,
		"resolved_jobs", stats.ResolvedJobs,
		"pending_remaining", pending,
		"chain_triggered", report.ChainTriggered,
	)
	return report
}

// maybeChain triggers one follow-up invocation when work remains and the
// depth budget allows. The depth bound exists solely to prevent an unbounded
// self-invocation storm when work never drains.
func (e *Engine) maybeChain(ctx context.Context, chainDepth, pending int) bool {
	if chainDepth >= e.cfg.MaxChainDepth {
		slog.Info("chain depth exhausted, leaving work for next scheduled run",
			"chain_depth", chainDepth, "pending", pending)
		return false
	}
	if e.invoker == nil {
		slog.Warn("pending work remains but no invoker is configured", "pending", pending)
		return false
	}
	if err := e.invoker.TriggerRun(ctx, chainDepth+1); err != nil {
		slog.Warn("failed to trigger chained invocation", "error", err, "pending", pending)
		return false
	}
	slog.Info("chained invocation triggered", "next_depth", chainDepth+1, "pending", pending)
	return true
}

func (e *Engine) recordPhaseError(stats *Stats, phase string, err error) {
	slog.Error("engine phase failed", "phase", phase, "error", err)
	stats.PhaseErrors = append(stats.PhaseErrors, fmt.Sprintf("%s: %v", phase, err))
}

func (e *Engine) recordItemError(stats *Stats, itemID int64, jobID uuid.UUID, msg string) {
	if len(stats.ItemErrors) >= maxReportedItemErrors {
		return
	}
	stats.ItemErrors = append(stats.ItemErrors, ItemError{ItemID: itemID, JobID: jobID, Error: msg})
}
