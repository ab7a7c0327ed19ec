package pointer

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/knowmesh/kbridge/internal/knowledge"
	"github.com/knowmesh/kbridge/internal/memory"
)

// Manager creates, updates, and orphans pointer records in the memory
// store. It owns all writes to records tagged "knowledge_pointer"; no other
// component edits them.
//
// All operations are idempotent at the orchestration level: the
// orchestrator consults pointerMapping before calling Create, and
// MarkOrphaned on an already-orphaned record is a no-op.
type Manager struct {
	store  memory.Store
	logger *log.Logger
	now    func() time.Time
}

// NewManager creates a Manager over the given memory store.
// If logger is nil, a default logger writing to stderr is used.
func NewManager(store memory.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[pointer] ", log.LstdFlags)
	}
	return &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Create generates pointer content for the item and writes a new pointer
// record, returning its memory id.
func (m *Manager) Create(ctx context.Context, item *knowledge.Item) (string, error) {
	rec := m.buildRecord(item)

	id, err := m.store.Add(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to create pointer for %s: %w", item.ID, err)
	}

	m.logger.Printf("Created pointer %s -> %s", id, item.ID)
	return id, nil
}

// Update regenerates content and hash for an existing pointer record,
// preserving its memory id. Identity stability matters: pointerMapping
// keys by memory id.
func (m *Manager) Update(ctx context.Context, memoryID string, item *knowledge.Item) error {
	rec := m.buildRecord(item)
	rec.ID = memoryID

	if err := m.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to update pointer %s for %s: %w", memoryID, item.ID, err)
	}

	m.logger.Printf("Updated pointer %s -> %s", memoryID, item.ID)
	return nil
}

// MarkOrphaned sets is_orphaned on a pointer record. The record is kept
// for traceability; deletion happens only when conflict resolution
// explicitly chooses it. Orphaning an already-orphaned record is a no-op,
// and orphaning a missing record succeeds silently (the deletion already
// won the race).
func (m *Manager) MarkOrphaned(ctx context.Context, memoryID string) error {
	rec, err := m.store.Get(ctx, memoryID)
	if err != nil {
		if err == memory.ErrRecordNotFound {
			return nil
		}
		return fmt.Errorf("failed to load pointer %s: %w", memoryID, err)
	}

	if rec.Metadata.IsOrphaned {
		return nil
	}

	rec.Metadata.IsOrphaned = true
	if err := m.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to orphan pointer %s: %w", memoryID, err)
	}

	m.logger.Printf("Orphaned pointer %s (source %s)", memoryID, rec.Metadata.SourceID)
	return nil
}

// Delete removes a pointer record outright. Only conflict resolution
// calls this; normal sync flows tombstone via MarkOrphaned.
func (m *Manager) Delete(ctx context.Context, memoryID string) error {
	if err := m.store.Delete(ctx, memoryID); err != nil {
		return fmt.Errorf("failed to delete pointer %s: %w", memoryID, err)
	}
	m.logger.Printf("Deleted pointer %s", memoryID)
	return nil
}

// buildRecord assembles a pointer record from a knowledge item.
func (m *Manager) buildRecord(item *knowledge.Item) *memory.Record {
	hash := item.ContentHash
	if hash == "" {
		hash = knowledge.HashItem(item)
	}

	return &memory.Record{
		Content: GenerateContent(item),
		Metadata: &memory.PointerMetadata{
			Type:        memory.MetadataTypePointer,
			SourceType:  item.Type,
			SourceID:    item.ID,
			ContentHash: hash,
			SyncedAt:    m.now().UTC(),
			SourceLayer: item.Layer,
		},
	}
}
