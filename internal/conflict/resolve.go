package conflict

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/knowmesh/kbridge/internal/knowledge"
	"github.com/knowmesh/kbridge/internal/memory"
	"github.com/knowmesh/kbridge/internal/pointer"
)

// Outcome is the result of resolving one conflict. Mapping mutations are
// returned rather than applied so that the caller, who holds the scope
// lease, can fold them into the sync state and persist atomically.
type Outcome struct {
	Conflict Conflict
	Action   Resolution
	// Applied is false when the resolution needs a human (manual, merge)
	// or when the conflict had already healed by the time we looked.
	Applied bool
	Reason  string

	// RemapDeletes lists memory ids to drop from the pointer mapping.
	RemapDeletes []string
	// RemapSets maps memory id → knowledge id entries to add.
	RemapSets map[string]string
}

// Resolver applies policy-selected resolutions to detected conflicts.
type Resolver struct {
	repo    knowledge.Repository
	manager *pointer.Manager
	policy  Policy
	logger  *log.Logger
}

// NewResolver creates a Resolver. A nil policy falls back to
// DefaultPolicy; a nil logger falls back to a stderr logger.
func NewResolver(repo knowledge.Repository, manager *pointer.Manager, policy Policy, logger *log.Logger) *Resolver {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[conflict] ", log.LstdFlags)
	}
	return &Resolver{repo: repo, manager: manager, policy: policy, logger: logger}
}

// Resolve resolves each conflict in order and returns one Outcome per
// conflict. Resolution is idempotent: each handler re-checks the conflict
// condition before acting, so replaying the same conflict list after a
// partial failure repairs only what is still broken.
//
// A per-conflict failure stops the pass; outcomes produced so far are
// returned alongside the error so the caller can persist partial progress.
func (r *Resolver) Resolve(ctx context.Context, conflicts []Conflict) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(conflicts))
	for _, c := range conflicts {
		out, err := r.resolveOne(ctx, c)
		if err != nil {
			return outcomes, fmt.Errorf("failed to resolve %s conflict on %s: %w", c.Type, c.MemoryID, err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (r *Resolver) resolveOne(ctx context.Context, c Conflict) (Outcome, error) {
	action := r.policy.ResolutionFor(c.Type)

	// An orphan caused by a memory-side deletion cannot be repaired by an
	// update: the user removed the record, so accept that and clean the
	// mapping instead of resurrecting it.
	if c.Type == TypeOrphanedPointer && c.Details[DetailReason] == ReasonMemoryDeleted && action == ResolutionUpdateMemory {
		action = ResolutionDeleteMemory
	}

	out := Outcome{Conflict: c, Action: action}

	switch action {
	case ResolutionManual, ResolutionMerge:
		// Surfaced, never applied automatically.
		out.Reason = "requires operator decision"
		r.logger.Printf("conflict %s on %s/%s needs %s", c.Type, c.MemoryID, c.KnowledgeID, action)
		return out, nil

	case ResolutionKeepMemory:
		out.Applied = true
		out.Reason = "memory record kept as-is"
		return out, nil

	case ResolutionDeleteMemory:
		return r.applyDelete(ctx, out)

	case ResolutionUpdateMemory:
		return r.applyUpdate(ctx, out)

	default:
		return out, fmt.Errorf("unknown resolution %q: %w", action, ErrUnresolved)
	}
}

// applyDelete removes the memory record and drops its mapping entry.
// Deleting an already-gone record is a no-op, so replays are safe.
func (r *Resolver) applyDelete(ctx context.Context, out Outcome) (Outcome, error) {
	c := out.Conflict
	if err := r.manager.Delete(ctx, c.MemoryID); err != nil {
		return out, err
	}
	out.Applied = true
	out.Reason = "memory record deleted"
	out.RemapDeletes = []string{c.MemoryID}
	r.logger.Printf("resolved %s: deleted %s (knowledge %s)", c.Type, c.MemoryID, c.KnowledgeID)
	return out, nil
}

// applyUpdate brings the memory record back in line with the knowledge
// item. The condition is re-checked first: the item may have been deleted,
// the record may already carry the current hash, or the record itself may
// be gone and need recreating.
func (r *Resolver) applyUpdate(ctx context.Context, out Outcome) (Outcome, error) {
	c := out.Conflict

	item, err := r.repo.GetItem(ctx, c.KnowledgeID)
	if err != nil {
		if errors.Is(err, knowledge.ErrItemNotFound) {
			// Source side is gone. Tombstone the pointer so the agent
			// sees the knowledge no longer exists.
			if err := r.manager.MarkOrphaned(ctx, c.MemoryID); err != nil {
				return out, err
			}
			out.Applied = true
			out.Reason = "pointer tombstoned, knowledge item deleted"
			r.logger.Printf("resolved %s: tombstoned %s (knowledge %s gone)", c.Type, c.MemoryID, c.KnowledgeID)
			return out, nil
		}
		return out, err
	}

	if err := r.manager.Update(ctx, c.MemoryID, item); err != nil {
		if errors.Is(err, memory.ErrRecordNotFound) {
			// Record deleted out of band; recreate it and hand the new
			// mapping entry back to the caller.
			newID, err := r.manager.Create(ctx, item)
			if err != nil {
				return out, err
			}
			out.Applied = true
			out.Reason = "memory record recreated"
			out.RemapDeletes = []string{c.MemoryID}
			out.RemapSets = map[string]string{newID: c.KnowledgeID}
			r.logger.Printf("resolved %s: recreated %s as %s (knowledge %s)", c.Type, c.MemoryID, newID, c.KnowledgeID)
			return out, nil
		}
		return out, err
	}

	out.Applied = true
	out.Reason = "memory record refreshed"
	r.logger.Printf("resolved %s: updated %s from %s", c.Type, c.MemoryID, c.KnowledgeID)
	return out, nil
}
