// Package state holds the sync bridge's single mutable, versioned record
// and its durable store.
//
// SyncState evolves strictly through completed orchestrator runs: it is
// checkpointed before each run, persisted as the run's single atomic last
// step, and rolled back wholesale on catastrophic failure. It is never
// partially repaired.
package state

import (
	"fmt"
	"time"
)

// SchemaVersion is the current SyncState schema version. A loader that
// encounters a different version fails closed rather than guessing a
// migration.
const SchemaVersion = 1

// SyncFailure records one item that failed during a run.
type SyncFailure struct {
	KnowledgeID string    `json:"knowledge_id"`
	Error       string    `json:"error"`
	FailedAt    time.Time `json:"failed_at"`
	RetryCount  int       `json:"retry_count"`
}

// Stats carries run counters surfaced via status and dashboard.
type Stats struct {
	TotalSyncs        int64   `json:"total_syncs"`
	ItemsSynced       int64   `json:"items_synced"`
	ConflictsResolved int64   `json:"conflicts_resolved"`
	AvgDurationMs     float64 `json:"avg_duration_ms"`
}

// SyncState is the bridge's memory of what it has seen and written.
//
// KnowledgeHashes is the sole source of truth for delta computation and is
// only mutated by a completed, persisted run, never partially.
type SyncState struct {
	Version             int               `json:"version"`
	LastSyncAt          *time.Time        `json:"last_sync_at,omitempty"`
	LastKnowledgeCommit string            `json:"last_knowledge_commit,omitempty"`
	KnowledgeHashes     map[string]string `json:"knowledge_hashes"`
	PointerMapping      map[string]string `json:"pointer_mapping"` // memory id -> knowledge id
	FailedItems         []SyncFailure     `json:"failed_items,omitempty"`
	Stats               Stats             `json:"stats"`
}

// New returns an empty state at the current schema version, as created on
// first boot.
func New() *SyncState {
	return &SyncState{
		Version:         SchemaVersion,
		KnowledgeHashes: make(map[string]string),
		PointerMapping:  make(map[string]string),
	}
}

// Validate performs structural validation. A state that fails here is
// treated as corrupted and requires operator intervention; it is never
// auto-repaired.
func (s *SyncState) Validate() error {
	if s.Version != SchemaVersion {
		return fmt.Errorf("unknown state version %d (expected %d)", s.Version, SchemaVersion)
	}
	if s.KnowledgeHashes == nil {
		return fmt.Errorf("knowledge_hashes is nil")
	}
	if s.PointerMapping == nil {
		return fmt.Errorf("pointer_mapping is nil")
	}
	return nil
}

// Clone returns a deep copy. The orchestrator mutates a clone during a run
// and only the persisted copy becomes visible.
func (s *SyncState) Clone() *SyncState {
	cp := &SyncState{
		Version:             s.Version,
		LastKnowledgeCommit: s.LastKnowledgeCommit,
		KnowledgeHashes:     make(map[string]string, len(s.KnowledgeHashes)),
		PointerMapping:      make(map[string]string, len(s.PointerMapping)),
		Stats:               s.Stats,
	}
	if s.LastSyncAt != nil {
		t := *s.LastSyncAt
		cp.LastSyncAt = &t
	}
	for k, v := range s.KnowledgeHashes {
		cp.KnowledgeHashes[k] = v
	}
	for k, v := range s.PointerMapping {
		cp.PointerMapping[k] = v
	}
	cp.FailedItems = append(cp.FailedItems, s.FailedItems...)
	return cp
}

// KnowledgeIDForMemory returns the knowledge id a memory id points at.
func (s *SyncState) KnowledgeIDForMemory(memoryID string) (string, bool) {
	id, ok := s.PointerMapping[memoryID]
	return id, ok
}

// MemoryIDsForKnowledge returns every memory id mapped to a knowledge id.
// More than one entry indicates duplicate pointers.
func (s *SyncState) MemoryIDsForKnowledge(knowledgeID string) []string {
	var ids []string
	for memID, kbID := range s.PointerMapping {
		if kbID == knowledgeID {
			ids = append(ids, memID)
		}
	}
	return ids
}

// RecordFailure appends or bumps the failure entry for a knowledge id.
func (s *SyncState) RecordFailure(knowledgeID string, cause error, at time.Time) {
	for i := range s.FailedItems {
		if s.FailedItems[i].KnowledgeID == knowledgeID {
			s.FailedItems[i].Error = cause.Error()
			s.FailedItems[i].FailedAt = at
			s.FailedItems[i].RetryCount++
			return
		}
	}
	s.FailedItems = append(s.FailedItems, SyncFailure{
		KnowledgeID: knowledgeID,
		Error:       cause.Error(),
		FailedAt:    at,
		RetryCount:  1,
	})
}

// ClearFailure drops the failure entry for a knowledge id, if present.
// Called when a later run succeeds for the item.
func (s *SyncState) ClearFailure(knowledgeID string) {
	for i := range s.FailedItems {
		if s.FailedItems[i].KnowledgeID == knowledgeID {
			s.FailedItems = append(s.FailedItems[:i], s.FailedItems[i+1:]...)
			return
		}
	}
}

// RecordRun folds one completed run into the stats counters.
func (s *SyncState) RecordRun(duration time.Duration, itemsSynced, conflictsResolved int) {
	total := float64(s.Stats.TotalSyncs)
	s.Stats.AvgDurationMs = (s.Stats.AvgDurationMs*total + float64(duration.Milliseconds())) / (total + 1)
	s.Stats.TotalSyncs++
	s.Stats.ItemsSynced += int64(itemsSynced)
	s.Stats.ConflictsResolved += int64(conflictsResolved)
}
