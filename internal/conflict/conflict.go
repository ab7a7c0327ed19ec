// Package conflict detects and resolves inconsistencies between pointer
// records and the knowledge items they reference.
//
// Detection is an independent, schedulable pass over the pointer mapping:
// it classifies conflicts and suggests resolutions but performs no
// mutation. Resolution applies a pure type→action policy, re-checking the
// triggering condition before acting so that re-resolving an
// already-resolved conflict is a no-op.
package conflict

import (
	"errors"
	"fmt"
)

// Type classifies a detected conflict.
type Type string

const (
	// TypeHashMismatch: the pointer's stored hash no longer matches the
	// current knowledge hash.
	TypeHashMismatch Type = "hash_mismatch"

	// TypeOrphanedPointer: either side of a mapping entry no longer
	// exists.
	TypeOrphanedPointer Type = "orphaned_pointer"

	// TypeDuplicatePointer: more than one memory id maps to the same
	// knowledge id.
	TypeDuplicatePointer Type = "duplicate_pointer"

	// TypeStatusChange: the knowledge item moved to deprecated or
	// superseded and the pointer does not reflect it yet.
	TypeStatusChange Type = "status_change"
)

// Resolution is the action a policy maps a conflict type to.
type Resolution string

const (
	ResolutionUpdateMemory Resolution = "update_memory"
	ResolutionDeleteMemory Resolution = "delete_memory"
	ResolutionKeepMemory   Resolution = "keep_memory"
	ResolutionMerge        Resolution = "merge"
	ResolutionManual       Resolution = "manual"
)

// Detail keys used in Conflict.Details.
const (
	DetailReason     = "reason"
	DetailKeep       = "keep"
	DetailStatus     = "status"
	DetailStoredHash = "stored_hash"
	DetailCurrent    = "current_hash"
)

// Reasons recorded under DetailReason for orphaned pointers.
const (
	ReasonMemoryDeleted    = "memory_deleted"
	ReasonKnowledgeDeleted = "knowledge_deleted"
)

// Conflict is one detected inconsistency. Ephemeral: computed fresh each
// pass, never persisted beyond the run's output.
type Conflict struct {
	Type                Type              `json:"type"`
	MemoryID            string            `json:"memory_id"`
	KnowledgeID         string            `json:"knowledge_id"`
	Details             map[string]string `json:"details,omitempty"`
	SuggestedResolution Resolution        `json:"suggested_resolution"`
}

// Policy maps conflict types to resolution actions. Types absent from the
// map fall back to DefaultPolicy.
type Policy map[Type]Resolution

// DefaultPolicy is the built-in type→action mapping.
//
// orphaned_pointer defaults to update_memory, which tombstones the pointer
// (marks it orphaned) rather than hard-deleting it: traceability wins over
// cleanliness unless a policy override explicitly chooses delete_memory.
func DefaultPolicy() Policy {
	return Policy{
		TypeHashMismatch:     ResolutionUpdateMemory,
		TypeOrphanedPointer:  ResolutionUpdateMemory,
		TypeDuplicatePointer: ResolutionDeleteMemory,
		TypeStatusChange:     ResolutionUpdateMemory,
	}
}

// ResolutionFor returns the configured action for a conflict type.
func (p Policy) ResolutionFor(t Type) Resolution {
	if r, ok := p[t]; ok {
		return r
	}
	if r, ok := DefaultPolicy()[t]; ok {
		return r
	}
	return ResolutionManual
}

// Validate rejects unknown types or actions in a policy override.
func (p Policy) Validate() error {
	for t, r := range p {
		switch t {
		case TypeHashMismatch, TypeOrphanedPointer, TypeDuplicatePointer, TypeStatusChange:
		default:
			return fmt.Errorf("unknown conflict type %q", t)
		}
		switch r {
		case ResolutionUpdateMemory, ResolutionDeleteMemory, ResolutionKeepMemory,
			ResolutionMerge, ResolutionManual:
		default:
			return fmt.Errorf("unknown resolution %q for conflict type %q", r, t)
		}
	}
	return nil
}

// ErrUnresolved marks conflicts whose policy requires a manual decision.
// They are surfaced, never force-applied.
var ErrUnresolved = errors.New("conflict requires manual resolution")
