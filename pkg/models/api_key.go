package models

import (
	"time"

	"github.com/google/uuid"
)

// Scopes recognized by the API layer.
const (
	ScopeEngineRun = "engine:run"
	ScopeJobsRead  = "jobs:read"
)

// APIKey authenticates callers of the engine API (schedulers, the chain
// invoker, operators). Raw keys are shown once at creation; only the bcrypt
// hash is stored, and the 8-char prefix narrows the lookup.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}
