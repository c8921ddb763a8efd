package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ItemStatusQueued     = "queued"
	ItemStatusSubmitting = "submitting"
	ItemStatusProcessing = "processing"
	ItemStatusSucceeded  = "succeeded"
	ItemStatusFailed     = "failed"
	ItemStatusSkipped    = "skipped"
)

// WorkItem is one entity-level unit of a moderation job. The id is a
// BIGSERIAL so ascending id order is creation order; the claim query leans
// on that for oldest-first fairness. Exactly one of the four target columns
// is set (CHECK constraint in the schema).
type WorkItem struct {
	ID               int64      `db:"id"                json:"id"`
	JobID            uuid.UUID  `db:"job_id"            json:"job_id"`
	SynsetID         *uuid.UUID `db:"synset_id"         json:"synset_id,omitempty"`
	SenseID          *uuid.UUID `db:"sense_id"          json:"sense_id,omitempty"`
	DefinitionID     *uuid.UUID `db:"definition_id"     json:"definition_id,omitempty"`
	ExampleID        *uuid.UUID `db:"example_id"        json:"example_id,omitempty"`
	Status           string     `db:"status"            json:"status"`
	Prompt           string     `db:"prompt"            json:"-"`
	ProviderTaskID   *string    `db:"provider_task_id"  json:"provider_task_id,omitempty"`
	ResponsePayload  []byte     `db:"response_payload"  json:"-"`
	Flagged          bool       `db:"flagged"           json:"flagged"`
	LastError        *string    `db:"last_error"        json:"last_error,omitempty"`
	AttemptCount     int        `db:"attempt_count"     json:"attempt_count"`
	PromptTokens     int        `db:"prompt_tokens"     json:"prompt_tokens"`
	CompletionTokens int        `db:"completion_tokens" json:"completion_tokens"`
	StartedAt        *time.Time `db:"started_at"        json:"started_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at"      json:"completed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"        json:"updated_at"`
}

// TargetRef resolves the item's exactly-one entity reference.
func (w *WorkItem) TargetRef() (EntityRef, error) {
	return NewEntityRef(w.SynsetID, w.SenseID, w.DefinitionID, w.ExampleID)
}

// IsTerminalItemStatus reports whether an item status can never change
// again. Every mutating statement in the store guards on this set, so
// overlapping invocations cannot overwrite a terminal outcome.
func IsTerminalItemStatus(status string) bool {
	switch status {
	case ItemStatusSucceeded, ItemStatusFailed, ItemStatusSkipped:
		return true
	}
	return false
}

// TokenUsage carries the provider's token accounting for a completed task.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
