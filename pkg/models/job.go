package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Job is one moderation run over a set of lexical entities. Jobs are created
// by the editorial/import path with status queued; the engine owns every
// mutation after that. Counter columns are denormalized from work_items and
// reconciled by the aggregator; the item rows are the truth.
type Job struct {
	ID              uuid.UUID  `db:"id"                json:"id"`
	Name            string     `db:"name"              json:"name"`
	Status          string     `db:"status"            json:"status"`
	Model           string     `db:"model"             json:"model"`
	ServiceTier     *string    `db:"service_tier"      json:"service_tier,omitempty"`
	ReasoningEffort *string    `db:"reasoning_effort"  json:"reasoning_effort,omitempty"`
	TotalItems      int        `db:"total_items"       json:"total_items"`
	SubmittedItems  int        `db:"submitted_items"   json:"submitted_items"`
	ProcessedItems  int        `db:"processed_items"   json:"processed_items"`
	SucceededItems  int        `db:"succeeded_items"   json:"succeeded_items"`
	FailedItems     int        `db:"failed_items"      json:"failed_items"`
	FlaggedItems    int        `db:"flagged_items"     json:"flagged_items"`
	StartedAt       *time.Time `db:"started_at"        json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at"      json:"completed_at,omitempty"`
	DeletedAt       *time.Time `db:"deleted_at"        json:"-"`
	CreatedAt       time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"        json:"updated_at"`
}

// IsTerminalJobStatus reports whether a job status can never change again.
// Cancelled is sticky: aggregation preserves it even after every item lands.
func IsTerminalJobStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobCounts is the aggregate view of a job's work items, computed in one
// query by the store and written back onto the job row.
type JobCounts struct {
	Total     int
	Submitted int
	Processed int
	Succeeded int
	Failed    int
	Flagged   int
}
