package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/knowmesh/kbridge/internal/delta"
	"github.com/knowmesh/kbridge/internal/knowledge"
	"github.com/knowmesh/kbridge/internal/memory"
	"github.com/knowmesh/kbridge/internal/state"
)

// SyncResult summarizes one completed run. Success means every item
// applied cleanly; a run with per-item failures still returns a populated
// result with Success false.
type SyncResult struct {
	Success    bool                `json:"success"`
	Added      int                 `json:"added"`
	Updated    int                 `json:"updated"`
	Deleted    int                 `json:"deleted"`
	Unchanged  int                 `json:"unchanged"`
	Failures   []state.SyncFailure `json:"failures,omitempty"`
	DurationMs int64               `json:"duration_ms"`
}

type applyOp string

const (
	opAdded   applyOp = "added"
	opUpdated applyOp = "updated"
	opDeleted applyOp = "deleted"
)

// workSet is the output of the detect phase: what to apply, plus the
// commit id the state should advance to once the run persists.
type workSet struct {
	delta     delta.Delta
	commitID  string
	setCommit bool
}

// applyResult is one worker's outcome, merged into the run state by the
// coordinator. Workers never touch the state maps themselves.
type applyResult struct {
	id            string
	op            applyOp
	hash          string
	removeHash    bool
	newMemoryID   string
	dropMemoryIDs []string
	err           error
}

// FullSync recomputes the delta over the entire manifest and applies it.
// With force, items whose hashes match are reapplied anyway.
func (o *Orchestrator) FullSync(ctx context.Context, force bool) (*SyncResult, error) {
	return o.run(ctx, "full", func(ctx context.Context, st *state.SyncState) (*workSet, error) {
		return o.detectFull(ctx, st, force)
	})
}

// IncrementalSync restricts the delta to items touched by commits since
// the last synced commit. Falls back to a full delta when the repository
// no longer knows that commit, or when no commit has been recorded yet.
func (o *Orchestrator) IncrementalSync(ctx context.Context) (*SyncResult, error) {
	return o.run(ctx, "incremental", o.detectIncremental)
}

// SyncItem reconciles a single knowledge id, bypassing delta detection.
// Used for low-latency, event-triggered updates.
func (o *Orchestrator) SyncItem(ctx context.Context, id string) (*SyncResult, error) {
	return o.run(ctx, "item", func(ctx context.Context, st *state.SyncState) (*workSet, error) {
		return o.detectItem(ctx, st, id)
	})
}

// run executes the state machine shared by all three entry points.
//
// Only checkpoint and persist failures abort the run; per-item failures
// are folded into the result and the state's failedItems. On abort the
// persisted state is the pre-run checkpoint.
func (o *Orchestrator) run(ctx context.Context, mode string, detect func(context.Context, *state.SyncState) (*workSet, error)) (*SyncResult, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	start := o.now()
	scope := o.cfg.Scope

	if err := o.states.AcquireLease(ctx, scope, o.cfg.Holder, o.cfg.LeaseTTL); err != nil {
		return nil, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	defer func() {
		if err := o.states.ReleaseLease(context.Background(), scope, o.cfg.Holder); err != nil {
			o.logger.Warn("failed to release sync lease", "scope", scope, "error", err)
		}
	}()

	o.setPhase(PhaseCheckpointing)
	st, err := o.states.Load(ctx, scope)
	if err != nil {
		o.setPhase(PhaseFailed)
		return nil, err
	}
	if err := o.states.Checkpoint(ctx, scope); err != nil {
		// Nothing has been written yet; the persisted state is intact.
		o.setPhase(PhaseFailed)
		return nil, err
	}

	o.setPhase(PhaseDetecting)
	work, err := detect(ctx, st)
	if err != nil {
		o.setPhase(PhaseFailed)
		return nil, fmt.Errorf("delta detection failed: %w", err)
	}
	o.logger.Info("delta detected",
		"mode", mode, "scope", scope,
		"added", len(work.delta.Added), "updated", len(work.delta.Updated),
		"deleted", len(work.delta.Deleted), "unchanged", len(work.delta.Unchanged))

	o.setPhase(PhaseApplying)
	next := st.Clone()
	res := o.applyAll(ctx, st, next, work)

	if ctx.Err() != nil {
		// Aborted mid-run: nothing was persisted, so the checkpoint is
		// still the authoritative state.
		o.setPhase(PhaseRolledBack)
		return nil, fmt.Errorf("%w: %v", ErrRunAborted, ctx.Err())
	}

	o.setPhase(PhasePersisting)
	now := o.now()
	next.LastSyncAt = &now
	if work.setCommit {
		next.LastKnowledgeCommit = work.commitID
	}
	next.RecordRun(now.Sub(start), res.Added+res.Updated+res.Deleted, 0)

	if err := o.states.Save(ctx, scope, next); err != nil {
		o.setPhase(PhaseFailed)
		if _, rbErr := o.states.Rollback(context.Background(), scope); rbErr != nil {
			return nil, fmt.Errorf("failed to persist state: %v; rollback failed: %w", err, rbErr)
		}
		o.setPhase(PhaseRolledBack)
		return nil, fmt.Errorf("failed to persist sync state: %w", err)
	}

	res.DurationMs = o.now().Sub(start).Milliseconds()
	res.Success = len(res.Failures) == 0
	o.setPhase(PhaseIdle)
	o.logger.Info("sync run complete",
		"mode", mode, "scope", scope, "success", res.Success,
		"added", res.Added, "updated", res.Updated, "deleted", res.Deleted,
		"unchanged", res.Unchanged, "failures", len(res.Failures),
		"duration_ms", res.DurationMs)
	return res, nil
}

// applyAll runs the apply phase: a bounded worker pool performs the
// collaborator calls while this goroutine acts as the coordinator, merging
// every outcome into the cloned state sequentially so the maps are never
// written concurrently. Workers read only the immutable pre-run state.
func (o *Orchestrator) applyAll(ctx context.Context, base, next *state.SyncState, work *workSet) *SyncResult {
	res := &SyncResult{Unchanged: len(work.delta.Unchanged)}
	total := len(work.delta.Added) + len(work.delta.Updated) + len(work.delta.Deleted)
	if total == 0 {
		return res
	}

	results := make(chan applyResult, total)
	var g errgroup.Group
	g.SetLimit(o.cfg.ApplyConcurrency)

	for _, id := range work.delta.Added {
		id := id
		g.Go(func() error {
			results <- o.applyUpsert(ctx, base, id, opAdded)
			return nil
		})
	}
	for _, id := range work.delta.Updated {
		id := id
		g.Go(func() error {
			results <- o.applyUpsert(ctx, base, id, opUpdated)
			return nil
		})
	}
	for _, id := range work.delta.Deleted {
		id := id
		g.Go(func() error {
			results <- o.applyDelete(ctx, base, id)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			o.logger.Warn("item sync failed", "id", r.id, "op", string(r.op), "error", r.err)
			next.RecordFailure(r.id, r.err, o.now())
			res.Failures = append(res.Failures, findFailure(next, r.id))
			continue
		}

		switch r.op {
		case opAdded:
			res.Added++
		case opUpdated:
			res.Updated++
		case opDeleted:
			res.Deleted++
		}

		if r.removeHash {
			delete(next.KnowledgeHashes, r.id)
		} else if r.hash != "" {
			next.KnowledgeHashes[r.id] = r.hash
		}
		for _, memID := range r.dropMemoryIDs {
			delete(next.PointerMapping, memID)
		}
		if r.newMemoryID != "" {
			next.PointerMapping[r.newMemoryID] = r.id
		}
		next.ClearFailure(r.id)
	}

	sort.Slice(res.Failures, func(i, j int) bool {
		return res.Failures[i].KnowledgeID < res.Failures[j].KnowledgeID
	})
	return res
}

// applyUpsert reconciles one added or updated item: fetch it, then create
// or refresh its pointer record. An item that vanished since detection is
// handled as a deletion.
func (o *Orchestrator) applyUpsert(ctx context.Context, base *state.SyncState, id string, op applyOp) applyResult {
	r := applyResult{id: id, op: op}

	var item *knowledge.Item
	err := o.withRetry(ctx, "knowledge.get_item", func(c context.Context) error {
		var ierr error
		item, ierr = o.repo.GetItem(c, id)
		return ierr
	})
	if err != nil {
		if errors.Is(err, knowledge.ErrItemNotFound) {
			return o.applyDelete(ctx, base, id)
		}
		r.err = err
		return r
	}

	// The recorded hash must match what the pointer metadata carries.
	r.hash = item.ContentHash
	if r.hash == "" {
		r.hash = knowledge.HashItem(item)
	}

	memIDs := base.MemoryIDsForKnowledge(id)
	sort.Strings(memIDs)

	if len(memIDs) == 0 {
		var newID string
		err := o.withRetry(ctx, "memory.add", func(c context.Context) error {
			var cerr error
			newID, cerr = o.pointers.Create(c, item)
			return cerr
		})
		if err != nil {
			r.err = err
			return r
		}
		r.newMemoryID = newID
		return r
	}

	// Extra mapping entries for the same knowledge id are left for the
	// conflict pass to classify as duplicates.
	target := memIDs[0]
	err = o.withRetry(ctx, "memory.update", func(c context.Context) error {
		return o.pointers.Update(c, target, item)
	})
	if err != nil {
		if errors.Is(err, memory.ErrRecordNotFound) {
			// Record deleted out of band; recreate and remap.
			var newID string
			cerr := o.withRetry(ctx, "memory.add", func(c context.Context) error {
				var aerr error
				newID, aerr = o.pointers.Create(c, item)
				return aerr
			})
			if cerr != nil {
				r.err = cerr
				return r
			}
			r.newMemoryID = newID
			r.dropMemoryIDs = []string{target}
			return r
		}
		r.err = err
		return r
	}
	return r
}

// applyDelete tombstones every pointer for a removed knowledge id. The
// mapping entries stay (the tombstoned records still exist); only the
// cached hash is dropped.
func (o *Orchestrator) applyDelete(ctx context.Context, base *state.SyncState, id string) applyResult {
	r := applyResult{id: id, op: opDeleted, removeHash: true}

	memIDs := base.MemoryIDsForKnowledge(id)
	sort.Strings(memIDs)
	for _, memID := range memIDs {
		err := o.withRetry(ctx, "memory.orphan", func(c context.Context) error {
			return o.pointers.MarkOrphaned(c, memID)
		})
		if err != nil {
			r.err = err
			return r
		}
	}
	return r
}

func (o *Orchestrator) fetchManifest(ctx context.Context) (*knowledge.Manifest, error) {
	var manifest *knowledge.Manifest
	err := o.withRetry(ctx, "knowledge.get_manifest", func(c context.Context) error {
		var merr error
		manifest, merr = o.repo.GetManifest(c)
		return merr
	})
	return manifest, err
}

func (o *Orchestrator) detectFull(ctx context.Context, st *state.SyncState, force bool) (*workSet, error) {
	manifest, err := o.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]string, len(manifest.Items))
	for id, entry := range manifest.Items {
		current[id] = entry.ContentHash
	}

	d := delta.Compute(current, st.KnowledgeHashes)
	if force {
		// Reapply everything still present, not just changed items.
		d.Updated = append(d.Updated, d.Unchanged...)
		sort.Strings(d.Updated)
		d.Unchanged = nil
	}
	return &workSet{delta: d, commitID: manifest.CommitID, setCommit: true}, nil
}

func (o *Orchestrator) detectIncremental(ctx context.Context, st *state.SyncState) (*workSet, error) {
	if st.LastKnowledgeCommit == "" {
		return o.detectFull(ctx, st, false)
	}

	var commits []knowledge.Commit
	err := o.withRetry(ctx, "knowledge.commits_since", func(c context.Context) error {
		var cerr error
		commits, cerr = o.repo.GetCommitsSince(c, st.LastKnowledgeCommit)
		return cerr
	})
	if err != nil {
		if errors.Is(err, knowledge.ErrCommitNotFound) {
			o.logger.Warn("last synced commit unknown to repository, falling back to full delta",
				"commit", st.LastKnowledgeCommit)
			return o.detectFull(ctx, st, false)
		}
		return nil, err
	}
	if len(commits) == 0 {
		return &workSet{commitID: st.LastKnowledgeCommit, setCommit: true}, nil
	}

	affected := make(map[string]bool)
	lastCommit := st.LastKnowledgeCommit
	for _, c := range commits {
		for _, id := range c.AffectedItemIDs {
			affected[id] = true
		}
		lastCommit = c.CommitID
	}

	manifest, err := o.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}

	// Restrict both sides to the affected ids; untouched items stay out
	// of the delta entirely.
	current := make(map[string]string)
	previous := make(map[string]string)
	for id := range affected {
		if entry, ok := manifest.Items[id]; ok {
			current[id] = entry.ContentHash
		}
		if hash, ok := st.KnowledgeHashes[id]; ok {
			previous[id] = hash
		}
	}

	d := delta.Compute(current, previous)
	return &workSet{delta: d, commitID: lastCommit, setCommit: true}, nil
}

func (o *Orchestrator) detectItem(ctx context.Context, st *state.SyncState, id string) (*workSet, error) {
	var item *knowledge.Item
	err := o.withRetry(ctx, "knowledge.get_item", func(c context.Context) error {
		var ierr error
		item, ierr = o.repo.GetItem(c, id)
		return ierr
	})

	w := &workSet{}
	if err != nil {
		if errors.Is(err, knowledge.ErrItemNotFound) {
			if _, tracked := st.KnowledgeHashes[id]; tracked {
				w.delta.Deleted = []string{id}
			}
			return w, nil
		}
		return nil, err
	}

	hash := item.ContentHash
	if hash == "" {
		hash = knowledge.HashItem(item)
	}
	prev, tracked := st.KnowledgeHashes[id]
	switch {
	case !tracked:
		w.delta.Added = []string{id}
	case prev != hash:
		w.delta.Updated = []string{id}
	default:
		w.delta.Unchanged = []string{id}
	}
	return w, nil
}

// findFailure returns the state's failure entry for a knowledge id.
func findFailure(st *state.SyncState, knowledgeID string) state.SyncFailure {
	for _, f := range st.FailedItems {
		if f.KnowledgeID == knowledgeID {
			return f
		}
	}
	return state.SyncFailure{KnowledgeID: knowledgeID}
}
