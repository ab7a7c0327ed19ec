package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/knowmesh/kbridge/internal/knowledge"
	"github.com/knowmesh/kbridge/internal/memory"
)

// Detector scans pointer↔knowledge links and classifies conflicts.
//
// It operates on a read-only snapshot of the pointer mapping, so it may
// run concurrently with a sync run; only resolution requires the scope
// lease.
type Detector struct {
	repo  knowledge.Repository
	store memory.Store
}

// NewDetector creates a Detector over the two collaborators.
func NewDetector(repo knowledge.Repository, store memory.Store) *Detector {
	return &Detector{repo: repo, store: store}
}

// Detect classifies every entry of the pointer mapping snapshot.
//
// Classification per (memoryId, knowledgeId) pair, first match wins:
//
//  1. memory record gone        → orphaned_pointer (reason memory_deleted)
//  2. knowledge id unresolvable → orphaned_pointer (reason knowledge_deleted)
//  3. item deprecated/superseded and pointer stale → status_change
//  4. stored hash ≠ current hash → hash_mismatch
//
// Duplicate pointers (several memory ids for one knowledge id) produce one
// conflict per losing pointer; the winner is the most recently synced
// record, ties broken by the lexicographically largest memory id so the
// outcome is deterministic.
//
// Detection performs no mutation.
func (d *Detector) Detect(ctx context.Context, pointerMapping map[string]string) ([]Conflict, error) {
	manifest, err := d.repo.GetManifest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest for conflict pass: %w", err)
	}

	// Deterministic iteration order.
	memIDs := make([]string, 0, len(pointerMapping))
	for memID := range pointerMapping {
		memIDs = append(memIDs, memID)
	}
	sort.Strings(memIDs)

	var conflicts []Conflict
	duplicateLosers := d.findDuplicateLosers(ctx, pointerMapping)

	for _, memID := range memIDs {
		kbID := pointerMapping[memID]

		rec, err := d.store.Get(ctx, memID)
		if err != nil {
			if errors.Is(err, memory.ErrRecordNotFound) {
				conflicts = append(conflicts, Conflict{
					Type:                TypeOrphanedPointer,
					MemoryID:            memID,
					KnowledgeID:         kbID,
					Details:             map[string]string{DetailReason: ReasonMemoryDeleted},
					SuggestedResolution: ResolutionDeleteMemory,
				})
				continue
			}
			return nil, fmt.Errorf("failed to load pointer %s: %w", memID, err)
		}

		entry, inManifest := manifest.Items[kbID]
		if !inManifest {
			if rec.Metadata.IsOrphaned {
				continue // already tombstoned, nothing new
			}
			conflicts = append(conflicts, Conflict{
				Type:                TypeOrphanedPointer,
				MemoryID:            memID,
				KnowledgeID:         kbID,
				Details:             map[string]string{DetailReason: ReasonKnowledgeDeleted},
				SuggestedResolution: ResolutionUpdateMemory,
			})
			continue
		}

		if keep, isLoser := duplicateLosers[memID]; isLoser {
			conflicts = append(conflicts, Conflict{
				Type:                TypeDuplicatePointer,
				MemoryID:            memID,
				KnowledgeID:         kbID,
				Details:             map[string]string{DetailKeep: keep},
				SuggestedResolution: ResolutionDeleteMemory,
			})
			continue
		}

		if rec.Metadata.ContentHash == entry.ContentHash {
			continue // up to date
		}

		// The hash covers status, so a status move also shows up here.
		// Classify it as status_change when the item is winding down.
		item, err := d.repo.GetItem(ctx, kbID)
		if err != nil {
			if errors.Is(err, knowledge.ErrItemNotFound) {
				// Deleted between manifest read and item read.
				conflicts = append(conflicts, Conflict{
					Type:                TypeOrphanedPointer,
					MemoryID:            memID,
					KnowledgeID:         kbID,
					Details:             map[string]string{DetailReason: ReasonKnowledgeDeleted},
					SuggestedResolution: ResolutionUpdateMemory,
				})
				continue
			}
			return nil, fmt.Errorf("failed to fetch item %s: %w", kbID, err)
		}

		if item.Status == knowledge.StatusDeprecated || item.Status == knowledge.StatusSuperseded {
			conflicts = append(conflicts, Conflict{
				Type:        TypeStatusChange,
				MemoryID:    memID,
				KnowledgeID: kbID,
				Details: map[string]string{
					DetailStatus:     string(item.Status),
					DetailStoredHash: rec.Metadata.ContentHash,
					DetailCurrent:    entry.ContentHash,
				},
				SuggestedResolution: ResolutionUpdateMemory,
			})
			continue
		}

		conflicts = append(conflicts, Conflict{
			Type:        TypeHashMismatch,
			MemoryID:    memID,
			KnowledgeID: kbID,
			Details: map[string]string{
				DetailStoredHash: rec.Metadata.ContentHash,
				DetailCurrent:    entry.ContentHash,
			},
			SuggestedResolution: ResolutionUpdateMemory,
		})
	}

	return conflicts, nil
}

// findDuplicateLosers returns memID → winning memID for every pointer that
// lost a duplicate tie-break. The winner per knowledge id is the most
// recently synced record; ties go to the lexicographically largest id.
func (d *Detector) findDuplicateLosers(ctx context.Context, pointerMapping map[string]string) map[string]string {
	byKnowledge := make(map[string][]string)
	for memID, kbID := range pointerMapping {
		byKnowledge[kbID] = append(byKnowledge[kbID], memID)
	}

	losers := make(map[string]string)
	for _, memIDs := range byKnowledge {
		if len(memIDs) < 2 {
			continue
		}

		winner := ""
		for _, memID := range memIDs {
			if winner == "" {
				winner = memID
				continue
			}
			if d.newerPointer(ctx, memID, winner) {
				winner = memID
			}
		}
		for _, memID := range memIDs {
			if memID != winner {
				losers[memID] = winner
			}
		}
	}
	return losers
}

// newerPointer reports whether a should win over b.
func (d *Detector) newerPointer(ctx context.Context, a, b string) bool {
	recA, errA := d.store.Get(ctx, a)
	recB, errB := d.store.Get(ctx, b)

	// A missing record never wins; missing-vs-missing falls through to
	// the id tie-break.
	switch {
	case errA != nil && errB != nil:
	case errA != nil:
		return false
	case errB != nil:
		return true
	case recA.Metadata.SyncedAt.After(recB.Metadata.SyncedAt):
		return true
	case recB.Metadata.SyncedAt.After(recA.Metadata.SyncedAt):
		return false
	}
	return a > b
}
