package state

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open state store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLoadEmptyScope(t *testing.T) {
	store := setupTestStore(t)

	st, err := store.Load(context.Background(), "default")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.Version != SchemaVersion {
		t.Errorf("fresh state version = %d", st.Version)
	}
	if len(st.KnowledgeHashes) != 0 || len(st.PointerMapping) != 0 {
		t.Error("fresh state should be empty")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	st := New()
	st.LastSyncAt = &now
	st.LastKnowledgeCommit = "c7"
	st.KnowledgeHashes["kb-1"] = "h1"
	st.PointerMapping["mem-1"] = "kb-1"
	st.RecordFailure("kb-9", errors.New("timeout"), now)
	st.RecordRun(2*time.Second, 5, 1)

	if err := store.Save(ctx, "default", st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, "default")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(got, st) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, st)
	}
}

func TestScopesAreIsolated(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := New()
	a.KnowledgeHashes["kb-1"] = "h1"
	if err := store.Save(ctx, "team-a", a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	b, err := store.Load(ctx, "team-b")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(b.KnowledgeHashes) != 0 {
		t.Error("scopes must not share state")
	}
}

func TestCheckpointRollbackRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	original := New()
	original.KnowledgeHashes["kb-1"] = "h1"
	original.PointerMapping["mem-1"] = "kb-1"
	if err := store.Save(ctx, "default", original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Checkpoint(ctx, "default"); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	// Arbitrary mutations between checkpoint and rollback.
	mutated := New()
	mutated.KnowledgeHashes["kb-2"] = "h2"
	mutated.Stats.TotalSyncs = 99
	if err := store.Save(ctx, "default", mutated); err != nil {
		t.Fatalf("Save of mutated state failed: %v", err)
	}

	restored, err := store.Rollback(ctx, "default")
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if !reflect.DeepEqual(restored, original) {
		t.Errorf("rollback mismatch:\n got %+v\nwant %+v", restored, original)
	}

	loaded, err := store.Load(ctx, "default")
	if err != nil {
		t.Fatalf("Load after rollback failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, original) {
		t.Error("persisted state after rollback must equal the checkpoint")
	}
}

func TestCheckpointBeforeFirstSave(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Checkpoint(ctx, "default"); err != nil {
		t.Fatalf("Checkpoint on fresh scope failed: %v", err)
	}

	restored, err := store.Rollback(ctx, "default")
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if !reflect.DeepEqual(restored, New()) {
		t.Errorf("expected empty state, got %+v", restored)
	}
}

func TestRollbackWithoutCheckpoint(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Rollback(context.Background(), "default")
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestUnknownVersionFailsClosed(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Write a future-versioned record directly.
	_, err := store.conn.ExecContext(ctx,
		`INSERT INTO sync_state (scope, data, updated_at) VALUES (?, ?, ?)`,
		"default", `{"version": 99, "knowledge_hashes": {}, "pointer_mapping": {}}`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("raw insert failed: %v", err)
	}

	_, err = store.Load(ctx, "default")
	if !errors.Is(err, ErrStateCorrupted) {
		t.Errorf("expected ErrStateCorrupted for unknown version, got %v", err)
	}
}

func TestLeaseExcludesOtherHolders(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.AcquireLease(ctx, "default", "daemon-1", time.Minute); err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}

	err := store.AcquireLease(ctx, "default", "daemon-2", time.Minute)
	if !errors.Is(err, ErrLeaseHeld) {
		t.Errorf("expected ErrLeaseHeld, got %v", err)
	}

	// Same holder may re-acquire (extend).
	if err := store.AcquireLease(ctx, "default", "daemon-1", time.Minute); err != nil {
		t.Errorf("re-acquire by same holder failed: %v", err)
	}

	// Other scopes are independent.
	if err := store.AcquireLease(ctx, "team-b", "daemon-2", time.Minute); err != nil {
		t.Errorf("lease on different scope failed: %v", err)
	}

	if err := store.ReleaseLease(ctx, "default", "daemon-1"); err != nil {
		t.Fatalf("ReleaseLease failed: %v", err)
	}
	if err := store.AcquireLease(ctx, "default", "daemon-2", time.Minute); err != nil {
		t.Errorf("acquire after release failed: %v", err)
	}
}

func TestLeaseExpires(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.AcquireLease(ctx, "default", "crashed", 10*time.Millisecond); err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	// Expired lease must not deadlock future runs.
	if err := store.AcquireLease(ctx, "default", "daemon-2", time.Minute); err != nil {
		t.Errorf("acquire of expired lease failed: %v", err)
	}
}

func TestStateClone(t *testing.T) {
	st := New()
	st.KnowledgeHashes["kb-1"] = "h1"
	st.PointerMapping["mem-1"] = "kb-1"

	cp := st.Clone()
	cp.KnowledgeHashes["kb-2"] = "h2"
	cp.PointerMapping["mem-2"] = "kb-2"

	if len(st.KnowledgeHashes) != 1 || len(st.PointerMapping) != 1 {
		t.Error("mutating a clone must not touch the original")
	}
}

func TestRecordFailureBumpsRetryCount(t *testing.T) {
	st := New()
	now := time.Now()

	st.RecordFailure("kb-1", errors.New("timeout"), now)
	st.RecordFailure("kb-1", errors.New("timeout again"), now.Add(time.Minute))

	if len(st.FailedItems) != 1 {
		t.Fatalf("expected one aggregated failure, got %d", len(st.FailedItems))
	}
	if st.FailedItems[0].RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", st.FailedItems[0].RetryCount)
	}

	st.ClearFailure("kb-1")
	if len(st.FailedItems) != 0 {
		t.Error("ClearFailure did not remove the entry")
	}
}
