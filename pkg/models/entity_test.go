package models

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewEntityRef_ExactlyOne(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name     string
		synset   *uuid.UUID
		sense    *uuid.UUID
		def      *uuid.UUID
		example  *uuid.UUID
		wantKind string
		wantErr  bool
	}{
		{name: "synset", synset: &id, wantKind: EntitySynset},
		{name: "sense", sense: &id, wantKind: EntitySense},
		{name: "definition", def: &id, wantKind: EntityDefinition},
		{name: "example", example: &id, wantKind: EntityExample},
		{name: "none set", wantErr: true},
		{name: "two set", synset: &id, sense: &id, wantErr: true},
		{name: "all set", synset: &id, sense: &id, def: &id, example: &id, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := NewEntityRef(tt.synset, tt.sense, tt.def, tt.example)
			if tt.wantErr {
				if !errors.Is(err, ErrAmbiguousTarget) {
					t.Fatalf("expected ErrAmbiguousTarget, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", ref.Kind, tt.wantKind)
			}
			if ref.ID != id {
				t.Errorf("id = %s, want %s", ref.ID, id)
			}
		})
	}
}

func TestTerminalStatusSets(t *testing.T) {
	for _, s := range []string{ItemStatusSucceeded, ItemStatusFailed, ItemStatusSkipped} {
		if !IsTerminalItemStatus(s) {
			t.Errorf("IsTerminalItemStatus(%q) = false, want true", s)
		}
	}
	for _, s := range []string{ItemStatusQueued, ItemStatusSubmitting, ItemStatusProcessing, ""} {
		if IsTerminalItemStatus(s) {
			t.Errorf("IsTerminalItemStatus(%q) = true, want false", s)
		}
	}
	for _, s := range []string{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		if !IsTerminalJobStatus(s) {
			t.Errorf("IsTerminalJobStatus(%q) = false, want true", s)
		}
	}
	for _, s := range []string{JobStatusQueued, JobStatusRunning, ""} {
		if IsTerminalJobStatus(s) {
			t.Errorf("IsTerminalJobStatus(%q) = true, want false", s)
		}
	}
}
