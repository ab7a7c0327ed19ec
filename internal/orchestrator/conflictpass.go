package orchestrator

import (
	"context"
	"fmt"

	"github.com/knowmesh/kbridge/internal/conflict"
)

// ConflictPassResult summarizes one conflict detection and resolution pass.
type ConflictPassResult struct {
	Conflicts []conflict.Conflict `json:"conflicts"`
	Outcomes  []conflict.Outcome  `json:"outcomes"`
	Resolved  int                 `json:"resolved"`
}

// DetectConflicts classifies conflicts over a read-only snapshot of the
// pointer mapping. It takes no lease and mutates nothing, so it is safe to
// run concurrently with a sync run.
func (o *Orchestrator) DetectConflicts(ctx context.Context) ([]conflict.Conflict, error) {
	st, err := o.states.Load(ctx, o.cfg.Scope)
	if err != nil {
		return nil, err
	}
	return o.detector.Detect(ctx, st.Clone().PointerMapping)
}

// RunConflictPass detects conflicts and applies the policy-selected
// resolutions, then persists the resulting mapping changes. Because
// resolution mutates, the pass takes the same per-scope lease as a sync
// run and follows the same checkpoint discipline.
//
// A resolution failure mid-pass still persists the outcomes applied so
// far (each resolution is idempotent, so a later pass picks up where this
// one stopped) and returns the error alongside the partial result.
func (o *Orchestrator) RunConflictPass(ctx context.Context) (*ConflictPassResult, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	scope := o.cfg.Scope

	if err := o.states.AcquireLease(ctx, scope, o.cfg.Holder, o.cfg.LeaseTTL); err != nil {
		return nil, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	defer func() {
		if err := o.states.ReleaseLease(context.Background(), scope, o.cfg.Holder); err != nil {
			o.logger.Warn("failed to release sync lease", "scope", scope, "error", err)
		}
	}()

	st, err := o.states.Load(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := o.states.Checkpoint(ctx, scope); err != nil {
		return nil, err
	}

	next := st.Clone()
	conflicts, err := o.detector.Detect(ctx, next.PointerMapping)
	if err != nil {
		return nil, fmt.Errorf("conflict detection failed: %w", err)
	}
	if len(conflicts) == 0 {
		return &ConflictPassResult{}, nil
	}
	o.logger.Info("conflicts detected", "scope", scope, "count", len(conflicts))

	outcomes, resolveErr := o.resolver.Resolve(ctx, conflicts)

	result := &ConflictPassResult{Conflicts: conflicts, Outcomes: outcomes}
	for _, out := range outcomes {
		if !out.Applied {
			continue
		}
		result.Resolved++
		for _, memID := range out.RemapDeletes {
			delete(next.PointerMapping, memID)
		}
		for memID, kbID := range out.RemapSets {
			next.PointerMapping[memID] = kbID
		}
	}

	if result.Resolved > 0 {
		next.Stats.ConflictsResolved += int64(result.Resolved)
		if err := o.states.Save(ctx, scope, next); err != nil {
			if _, rbErr := o.states.Rollback(context.Background(), scope); rbErr != nil {
				return result, fmt.Errorf("failed to persist conflict pass: %v; rollback failed: %w", err, rbErr)
			}
			return result, fmt.Errorf("failed to persist conflict pass: %w", err)
		}
	}

	if resolveErr != nil {
		return result, fmt.Errorf("conflict pass incomplete: %w", resolveErr)
	}
	o.logger.Info("conflict pass complete",
		"scope", scope, "conflicts", len(conflicts), "resolved", result.Resolved)
	return result, nil
}
