// Package memtest provides an in-memory memory.Store for tests.
//
// The fake is safe for concurrent use and supports fault injection so
// orchestrator tests can simulate an unreachable memory collaborator.
package memtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/knowmesh/kbridge/internal/knowledge"
	"github.com/knowmesh/kbridge/internal/memory"
)

// Store is an in-memory memory.Store.
type Store struct {
	mu      sync.Mutex
	records map[string]*memory.Record
	nextID  int

	// FailNext, when > 0, makes that many subsequent write operations
	// return memory.ErrUnavailable.
	failNext int

	// FailFor makes operations against specific source ids fail.
	failFor map[string]bool
}

// New creates an empty fake store.
func New() *Store {
	return &Store{
		records: make(map[string]*memory.Record),
		failFor: make(map[string]bool),
	}
}

// FailNext makes the next n write operations return ErrUnavailable.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// FailForSource makes writes for the given knowledge id fail persistently.
func (s *Store) FailForSource(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor[sourceID] = true
}

// ClearFaults removes all injected failures.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = 0
	s.failFor = make(map[string]bool)
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) shouldFail(sourceID string) bool {
	if s.failNext > 0 {
		s.failNext--
		return true
	}
	return s.failFor[sourceID]
}

// Add implements memory.Store.
func (s *Store) Add(ctx context.Context, rec *memory.Record) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", memory.ErrInvalidMetadata, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shouldFail(rec.Metadata.SourceID) {
		return "", memory.ErrUnavailable
	}

	s.nextID++
	id := fmt.Sprintf("mem-%04d", s.nextID)

	stored := cloneRecord(rec)
	stored.ID = id
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	s.records[id] = stored

	return id, nil
}

// Update implements memory.Store.
func (s *Store) Update(ctx context.Context, rec *memory.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", memory.ErrInvalidMetadata, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shouldFail(rec.Metadata.SourceID) {
		return memory.ErrUnavailable
	}

	existing, ok := s.records[rec.ID]
	if !ok {
		return memory.ErrRecordNotFound
	}

	stored := cloneRecord(rec)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now().UTC()
	s.records[rec.ID] = stored
	return nil
}

// Get implements memory.Store.
func (s *Store) Get(ctx context.Context, id string) (*memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, memory.ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

// Delete implements memory.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// ListPointers implements memory.Store.
func (s *Store) ListPointers(ctx context.Context, layer knowledge.Layer) ([]*memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*memory.Record
	for _, rec := range s.records {
		if rec.Metadata.Type != memory.MetadataTypePointer {
			continue
		}
		if layer != "" && rec.Metadata.SourceLayer != layer {
			continue
		}
		out = append(out, cloneRecord(rec))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneRecord(rec *memory.Record) *memory.Record {
	cp := *rec
	if rec.Metadata != nil {
		meta := *rec.Metadata
		cp.Metadata = &meta
	}
	return &cp
}
