package pointer

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"

	"github.com/knowmesh/kbridge/internal/knowledge"
	"github.com/knowmesh/kbridge/internal/memory"
	"github.com/knowmesh/kbridge/internal/memory/memtest"
)

func newTestManager() (*Manager, *memtest.Store) {
	store := memtest.New()
	return NewManager(store, log.New(os.Stderr, "[test] ", 0)), store
}

func TestManagerCreate(t *testing.T) {
	mgr, store := newTestManager()
	ctx := context.Background()

	id, err := mgr.Create(ctx, testItem())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Metadata.SourceID != "kb-42" {
		t.Errorf("source id = %q", rec.Metadata.SourceID)
	}
	if rec.Metadata.ContentHash != knowledge.HashItem(testItem()) {
		t.Error("pointer hash must match the item hash at sync time")
	}
	if rec.Content != GenerateContent(testItem()) {
		t.Error("pointer content must come from the generator")
	}
}

func TestManagerCreateMemoryUnavailable(t *testing.T) {
	mgr, store := newTestManager()
	store.FailNext(1)

	_, err := mgr.Create(context.Background(), testItem())
	if !errors.Is(err, memory.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestManagerUpdateKeepsID(t *testing.T) {
	mgr, store := newTestManager()
	ctx := context.Background()

	id, err := mgr.Create(ctx, testItem())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	changed := testItem()
	changed.Content = "different body"
	if err := mgr.Update(ctx, id, changed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get after update failed: %v", err)
	}
	if rec.Metadata.ContentHash != knowledge.HashItem(changed) {
		t.Error("update must regenerate the hash")
	}
	if store.Len() != 1 {
		t.Errorf("update must not create new records, store has %d", store.Len())
	}
}

func TestManagerMarkOrphanedIdempotent(t *testing.T) {
	mgr, store := newTestManager()
	ctx := context.Background()

	id, err := mgr.Create(ctx, testItem())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := mgr.MarkOrphaned(ctx, id); err != nil {
		t.Fatalf("MarkOrphaned failed: %v", err)
	}
	rec, _ := store.Get(ctx, id)
	if !rec.Metadata.IsOrphaned {
		t.Fatal("record not orphaned")
	}
	synced := rec.UpdatedAt

	// Second orphan is a no-op, not an error and not another write.
	if err := mgr.MarkOrphaned(ctx, id); err != nil {
		t.Fatalf("second MarkOrphaned failed: %v", err)
	}
	rec, _ = store.Get(ctx, id)
	if !rec.UpdatedAt.Equal(synced) {
		t.Error("no-op orphan must not rewrite the record")
	}

	// Orphaning a vanished record succeeds silently.
	if err := mgr.MarkOrphaned(ctx, "mem-gone"); err != nil {
		t.Errorf("orphaning missing record should be a no-op, got %v", err)
	}
}
