package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wordsmithlab/lexguard/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through
// here. Every mutation commits independently; the engine relies on the
// conditional predicates inside these operations, never on transactions
// spanning calls.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	// Jobs. Creation happens on the editorial path; everything after is
	// engine-owned.
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListActiveJobs(ctx context.Context) ([]*models.Job, error)
	ListCancelledJobsWithOpenItems(ctx context.Context) ([]*models.Job, error)
	MarkJobCancelled(ctx context.Context, id uuid.UUID) error
	AddSubmittedItems(ctx context.Context, id uuid.UUID, delta int) error
	GetJobItemCounts(ctx context.Context, jobID uuid.UUID) (models.JobCounts, error)
	UpdateJobAggregates(ctx context.Context, id uuid.UUID, counts models.JobCounts, status string) error
	FailExpiredJobs(ctx context.Context, cutoff time.Time, itemReason string) ([]uuid.UUID, error)

	// Work items. Terminal rows (succeeded/failed/skipped) are immutable:
	// every mutation guards on the prior status, so overlapping invocations
	// cannot overwrite an outcome.
	CreateWorkItems(ctx context.Context, items []*models.WorkItem) error
	GetWorkItem(ctx context.Context, id int64) (*models.WorkItem, error)
	ClaimQueuedItems(ctx context.Context, limit int) ([]*ClaimedItem, error)
	ListOpenItems(ctx context.Context, jobID uuid.UUID, limit int) ([]*models.WorkItem, error)
	CountPendingItems(ctx context.Context) (int, error)
	MarkItemProcessing(ctx context.Context, id int64, taskID string, attempts int) error
	MarkItemSucceeded(ctx context.Context, id int64, flagged bool, usage models.TokenUsage, payload []byte) error
	MarkItemFailed(ctx context.Context, id int64, errMsg string, opts ...ItemUpdateOption) error
	SaveItemResponse(ctx context.Context, id int64, payload []byte) error
	ResetStuckSubmitting(ctx context.Context, cutoff time.Time) (int64, error)
	FailStaleItems(ctx context.Context, jobID uuid.UUID, cutoff time.Time, errMsg string) (int64, error)
	FailOpenItems(ctx context.Context, jobID uuid.UUID, errMsg string) ([]*models.WorkItem, error)

	// Lexical entities: the moderation verdict lands on exactly one row.
	FlagEntity(ctx context.Context, ref models.EntityRef, flagged bool, reason string) error
}

// ClaimedItem is a work item freshly moved queued -> submitting, carrying
// the job fields the submission request needs.
type ClaimedItem struct {
	Item            *models.WorkItem
	JobName         string
	Model           string
	ServiceTier     *string
	ReasoningEffort *string
}

// ItemUpdateParams collects the optional columns of a terminal item update.
// Exported so that in-memory Store fakes can resolve options the same way
// the Postgres implementation does.
type ItemUpdateParams struct {
	Attempts *int
	Payload  []byte
}

type ItemUpdateOption func(*ItemUpdateParams)

// ResolveItemUpdateOptions folds options into a params struct.
func ResolveItemUpdateOptions(opts ...ItemUpdateOption) ItemUpdateParams {
	var p ItemUpdateParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithAttempts records how many provider calls the submission made.
func WithAttempts(n int) ItemUpdateOption {
	return func(p *ItemUpdateParams) {
		p.Attempts = &n
	}
}

// WithPayload persists the raw provider response alongside the failure.
func WithPayload(payload []byte) ItemUpdateOption {
	return func(p *ItemUpdateParams) {
		p.Payload = payload
	}
}
