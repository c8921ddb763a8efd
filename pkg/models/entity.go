package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EntityKind names the lexicon tables a work item can target.
const (
	EntitySynset     = "synset"
	EntitySense      = "sense"
	EntityDefinition = "definition"
	EntityExample    = "example"
)

// ErrAmbiguousTarget is returned when a work item does not reference exactly
// one lexical entity.
var ErrAmbiguousTarget = errors.New("work item must reference exactly one entity")

// EntityRef points at the single lexical entity a work item moderates.
type EntityRef struct {
	Kind string    `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

// NewEntityRef builds the ref from the four nullable foreign keys, enforcing
// the exactly-one-target rule (the schema enforces it too via CHECK; this
// keeps loaded rows honest before the applier switches on Kind).
func NewEntityRef(synsetID, senseID, definitionID, exampleID *uuid.UUID) (EntityRef, error) {
	var ref EntityRef
	n := 0
	if synsetID != nil {
		ref = EntityRef{Kind: EntitySynset, ID: *synsetID}
		n++
	}
	if senseID != nil {
		ref = EntityRef{Kind: EntitySense, ID: *senseID}
		n++
	}
	if definitionID != nil {
		ref = EntityRef{Kind: EntityDefinition, ID: *definitionID}
		n++
	}
	if exampleID != nil {
		ref = EntityRef{Kind: EntityExample, ID: *exampleID}
		n++
	}
	if n != 1 {
		return EntityRef{}, fmt.Errorf("%w: got %d references", ErrAmbiguousTarget, n)
	}
	return ref, nil
}
