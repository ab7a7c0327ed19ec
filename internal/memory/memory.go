// Package memory defines the agent-facing memory store surface the bridge
// writes pointer records into.
//
// Memory records carry a closed, tagged metadata variant. The bridge only
// ever creates records of kind "knowledge_pointer"; metadata is validated
// once at the store boundary, never inspected ad hoc downstream.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/knowmesh/kbridge/internal/knowledge"
)

// MetadataTypePointer tags memory records owned by the sync bridge.
const MetadataTypePointer = "knowledge_pointer"

// PointerMetadata is the metadata of a pointer record.
//
// ContentHash is the knowledge item's hash at sync time; equality against
// the current manifest hash is what drives change and conflict detection.
type PointerMetadata struct {
	Type        string          `json:"type"` // always MetadataTypePointer
	SourceType  string          `json:"source_type"`
	SourceID    string          `json:"source_id"`
	ContentHash string          `json:"content_hash"`
	SyncedAt    time.Time       `json:"synced_at"`
	SourceLayer knowledge.Layer `json:"source_layer"`
	IsOrphaned  bool            `json:"is_orphaned"`
}

// Validate checks the metadata for structural soundness.
func (m *PointerMetadata) Validate() error {
	if m.Type != MetadataTypePointer {
		return fmt.Errorf("metadata type must be %q (got %q)", MetadataTypePointer, m.Type)
	}
	if m.SourceID == "" {
		return fmt.Errorf("source_id is required")
	}
	if m.ContentHash == "" {
		return fmt.Errorf("content_hash is required")
	}
	if m.SyncedAt.IsZero() {
		return fmt.Errorf("synced_at is required")
	}
	return nil
}

// Record is a memory-store record. Pointer records are generated, never
// authored: their content comes from the pointer content generator and is
// mutated only by bridge update/orphan operations.
type Record struct {
	ID        string           `json:"id"`
	Content   string           `json:"content"`
	Metadata  *PointerMetadata `json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Validate checks the record and its metadata.
func (r *Record) Validate() error {
	if r.Content == "" {
		return fmt.Errorf("content is required")
	}
	if r.Metadata == nil {
		return fmt.Errorf("metadata is required")
	}
	return r.Metadata.Validate()
}

// Store is the memory collaborator interface consumed by the bridge.
//
// All operations are scoped to records tagged metadata.type =
// "knowledge_pointer"; the bridge never touches other memory kinds.
type Store interface {
	// Add writes a new record and returns its assigned id.
	// Returns ErrUnavailable if the store cannot be reached.
	Add(ctx context.Context, rec *Record) (string, error)

	// Update replaces content and metadata of an existing record,
	// preserving its id. Returns ErrRecordNotFound for unknown ids.
	Update(ctx context.Context, rec *Record) error

	// Get returns a record by id. Returns ErrRecordNotFound for
	// unknown ids.
	Get(ctx context.Context, id string) (*Record, error)

	// Delete removes a record. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error

	// ListPointers returns all pointer records, optionally filtered to
	// a source layer (empty layer = all layers).
	ListPointers(ctx context.Context, layer knowledge.Layer) ([]*Record, error)
}
