package knowledge

import (
	"testing"
	"time"
)

func TestHashItemDeterministic(t *testing.T) {
	item := &Item{
		ID:      "kb-1",
		Title:   "Use prepared statements",
		Content: "All database access goes through prepared statements.",
		Constraints: []Constraint{
			{Operator: "forbid", Pattern: "fmt.Sprintf.*SELECT", Target: "*.go", Severity: "blocking"},
		},
		Status: StatusActive,
	}

	h1 := HashItem(item)
	h2 := HashItem(item)
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64-char sha256 hex, got %d chars", len(h1))
	}
}

func TestHashItemIgnoresTitleAndTimestamps(t *testing.T) {
	a := &Item{ID: "kb-1", Title: "Old title", Content: "body", Status: StatusActive, UpdatedAt: time.Now()}
	b := &Item{ID: "kb-1", Title: "New title", Content: "body", Status: StatusActive, UpdatedAt: time.Now().Add(time.Hour)}

	if HashItem(a) != HashItem(b) {
		t.Error("hash should not depend on title or timestamps")
	}
}

func TestHashItemSensitivity(t *testing.T) {
	base := &Item{ID: "kb-1", Content: "body", Status: StatusActive}
	baseHash := HashItem(base)

	changedContent := &Item{ID: "kb-1", Content: "body2", Status: StatusActive}
	if HashItem(changedContent) == baseHash {
		t.Error("content change must change hash")
	}

	changedStatus := &Item{ID: "kb-1", Content: "body", Status: StatusDeprecated}
	if HashItem(changedStatus) == baseHash {
		t.Error("status change must change hash")
	}

	withConstraint := &Item{ID: "kb-1", Content: "body", Status: StatusActive,
		Constraints: []Constraint{{Operator: "require", Pattern: "x", Severity: "blocking"}}}
	if HashItem(withConstraint) == baseHash {
		t.Error("constraint change must change hash")
	}
}

func TestHashItemFieldBoundaries(t *testing.T) {
	// Concatenation must not be ambiguous across field boundaries.
	a := &Item{Content: "ab", Status: StatusActive}
	b := &Item{Content: "a", Status: "b" + StatusActive}
	if HashItem(a) == HashItem(b) {
		t.Error("field boundary collision between content and status")
	}
}
