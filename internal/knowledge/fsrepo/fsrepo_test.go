package fsrepo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/knowmesh/kbridge/internal/knowledge"
)

// writeTestItem creates an item file and returns the item.
func writeTestItem(t *testing.T, repo *Repo, id, content string) *knowledge.Item {
	t.Helper()

	item := &knowledge.Item{
		ID:        id,
		Title:     "Item " + id,
		Summary:   "Summary for " + id,
		Content:   content,
		Status:    knowledge.StatusActive,
		Layer:     knowledge.LayerProject,
		Type:      "rule",
		UpdatedAt: time.Now(),
	}
	if err := WriteItemFile(repo.ItemsDir(), item); err != nil {
		t.Fatalf("failed to write test item: %v", err)
	}
	return item
}

func TestGetManifest(t *testing.T) {
	repo := New(t.TempDir())
	ctx := context.Background()

	writeTestItem(t, repo, "kb-1", "first")
	writeTestItem(t, repo, "kb-2", "second")
	if err := repo.AppendCommit(knowledge.Commit{CommitID: "c1", AffectedItemIDs: []string{"kb-1", "kb-2"}}); err != nil {
		t.Fatalf("AppendCommit failed: %v", err)
	}

	manifest, err := repo.GetManifest(ctx)
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if manifest.CommitID != "c1" {
		t.Errorf("expected commit c1, got %q", manifest.CommitID)
	}
	if len(manifest.Items) != 2 {
		t.Fatalf("expected 2 manifest entries, got %d", len(manifest.Items))
	}
	if manifest.Items["kb-1"].ContentHash == manifest.Items["kb-2"].ContentHash {
		t.Error("different contents must produce different hashes")
	}
}

func TestGetManifestEmptyRepo(t *testing.T) {
	repo := New(filepath.Join(t.TempDir(), "does-not-exist"))

	manifest, err := repo.GetManifest(context.Background())
	if err != nil {
		t.Fatalf("GetManifest on empty repo failed: %v", err)
	}
	if len(manifest.Items) != 0 || manifest.CommitID != "" {
		t.Errorf("expected empty manifest, got %+v", manifest)
	}
}

func TestGetItem(t *testing.T) {
	repo := New(t.TempDir())
	ctx := context.Background()

	want := writeTestItem(t, repo, "kb-1", "body")

	got, err := repo.GetItem(ctx, "kb-1")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.Title != want.Title || got.Content != want.Content {
		t.Errorf("item mismatch: got %+v", got)
	}
	if got.ContentHash == "" {
		t.Error("GetItem must backfill the content hash")
	}

	_, err = repo.GetItem(ctx, "kb-missing")
	if !errors.Is(err, knowledge.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestGetCommitsSince(t *testing.T) {
	repo := New(t.TempDir())
	ctx := context.Background()

	for _, c := range []knowledge.Commit{
		{CommitID: "c1", AffectedItemIDs: []string{"kb-1"}},
		{CommitID: "c2", AffectedItemIDs: []string{"kb-2"}},
		{CommitID: "c3", AffectedItemIDs: []string{"kb-1", "kb-3"}},
	} {
		if err := repo.AppendCommit(c); err != nil {
			t.Fatalf("AppendCommit failed: %v", err)
		}
	}

	commits, err := repo.GetCommitsSince(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCommitsSince failed: %v", err)
	}
	if len(commits) != 2 || commits[0].CommitID != "c2" || commits[1].CommitID != "c3" {
		t.Errorf("expected [c2 c3], got %+v", commits)
	}

	all, err := repo.GetCommitsSince(ctx, "")
	if err != nil {
		t.Fatalf("GetCommitsSince(\"\") failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected full feed of 3 commits, got %d", len(all))
	}

	latest, err := repo.GetCommitsSince(ctx, "c3")
	if err != nil {
		t.Fatalf("GetCommitsSince(c3) failed: %v", err)
	}
	if len(latest) != 0 {
		t.Errorf("expected no commits after c3, got %d", len(latest))
	}

	_, err = repo.GetCommitsSince(ctx, "unknown")
	if !errors.Is(err, knowledge.ErrCommitNotFound) {
		t.Errorf("expected ErrCommitNotFound, got %v", err)
	}
}
