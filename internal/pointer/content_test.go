package pointer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/knowmesh/kbridge/internal/knowledge"
)

func testItem() *knowledge.Item {
	return &knowledge.Item{
		ID:      "kb-42",
		Title:   "Use context on blocking calls",
		Summary: "Every blocking operation threads a context.Context.",
		Type:    "convention",
		Status:  knowledge.StatusActive,
		Layer:   knowledge.LayerTeam,
		Content: "long authoritative body that must never be duplicated",
		Constraints: []knowledge.Constraint{
			{Operator: "require", Pattern: "ctx context.Context", Target: "*.go", Severity: "blocking"},
			{Operator: "forbid", Pattern: "context.TODO", Severity: "blocking", Message: "No context.TODO in committed code"},
			{Operator: "match", Pattern: "something", Severity: "warning"},
		},
	}
}

func TestGenerateContentShape(t *testing.T) {
	got := GenerateContent(testItem())
	lines := strings.Split(got, "\n")

	if lines[0] != "Use context on blocking calls" {
		t.Errorf("first line should be the title, got %q", lines[0])
	}
	if lines[1] != "Every blocking operation threads a context.Context." {
		t.Errorf("second line should be the summary, got %q", lines[1])
	}
	if lines[2] != "[convention]" {
		t.Errorf("third line should be the type tag, got %q", lines[2])
	}
	if lines[3] != "require: ctx context.Context [*.go]" {
		t.Errorf("constraint rendering wrong: %q", lines[3])
	}
	if lines[4] != "No context.TODO in committed code" {
		t.Errorf("message should win over operator form: %q", lines[4])
	}
	if lines[len(lines)-1] != "ref: kb-42" {
		t.Errorf("last line should reference the item id, got %q", lines[len(lines)-1])
	}
	if strings.Contains(got, "authoritative body") {
		t.Error("pointer must not duplicate item content")
	}
	if strings.Contains(got, "something") {
		t.Error("non-blocking constraints must not be rendered")
	}
}

func TestGenerateContentDeterministic(t *testing.T) {
	item := testItem()
	first := GenerateContent(item)
	for i := 0; i < 5; i++ {
		if GenerateContent(item) != first {
			t.Fatal("GenerateContent is not deterministic")
		}
	}
}

func TestGenerateContentConstraintCap(t *testing.T) {
	item := testItem()
	item.Constraints = nil
	for i := 0; i < 10; i++ {
		item.Constraints = append(item.Constraints, knowledge.Constraint{
			Operator: "require", Pattern: "p", Severity: "blocking",
		})
	}

	got := GenerateContent(item)
	count := strings.Count(got, "require: p")
	if count != maxConstraintLines {
		t.Errorf("expected %d constraint lines, got %d", maxConstraintLines, count)
	}
}

func TestGenerateContentLengthCap(t *testing.T) {
	item := testItem()
	item.Summary = strings.Repeat("very long summary ", 100)

	got := GenerateContent(item)
	if len(got) > maxContentLen {
		t.Errorf("content length %d exceeds cap %d", len(got), maxContentLen)
	}
	if !strings.HasSuffix(got, "ref: kb-42") {
		t.Error("truncation must preserve the trailing reference")
	}
}

func TestGenerateContentTruncatesOnRuneBoundary(t *testing.T) {
	item := testItem()
	item.Summary = strings.Repeat("längere Zusammenfassung über Grenzwerte ", 40)

	// Sweep the cut point across the multi-byte runes.
	for pad := 0; pad < 4; pad++ {
		item.Title = "T" + strings.Repeat("x", pad)
		got := GenerateContent(item)
		if !utf8.ValidString(got) {
			t.Fatalf("truncated content is not valid UTF-8 (pad %d): %q", pad, got)
		}
		if len(got) > maxContentLen {
			t.Errorf("content length %d exceeds cap %d", len(got), maxContentLen)
		}
	}
}
