// Package pointer generates and manages lightweight pointer records: memory
// records that reference authoritative knowledge items without duplicating
// their content.
package pointer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/knowmesh/kbridge/internal/knowledge"
)

const (
	// maxContentLen caps generated pointer content. Pointers exist to fit
	// inside a retrieval budget, not to mirror full knowledge content.
	maxContentLen = 600

	// maxConstraintLines bounds how many blocking constraints are rendered.
	maxConstraintLines = 3
)

// GenerateContent renders a bounded summary of a knowledge item.
//
// Output shape: title line, summary line, a [type] tag, up to three
// blocking-severity constraint lines, and a trailing reference to the item
// id. Pure and deterministic: identical items produce byte-identical text.
func GenerateContent(item *knowledge.Item) string {
	var b strings.Builder

	b.WriteString(item.Title)
	b.WriteByte('\n')

	if item.Summary != "" {
		b.WriteString(item.Summary)
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "[%s]\n", item.Type)

	rendered := 0
	for _, c := range item.Constraints {
		if c.Severity != "blocking" {
			continue
		}
		if rendered == maxConstraintLines {
			break
		}
		b.WriteString(renderConstraint(c))
		b.WriteByte('\n')
		rendered++
	}

	fmt.Fprintf(&b, "ref: %s", item.ID)

	return truncate(b.String(), maxContentLen)
}

// renderConstraint formats one constraint line. A human-written message
// wins over the mechanical operator form.
func renderConstraint(c knowledge.Constraint) string {
	if c.Message != "" {
		return c.Message
	}
	if c.Target != "" {
		return fmt.Sprintf("%s: %s [%s]", c.Operator, c.Pattern, c.Target)
	}
	return fmt.Sprintf("%s: %s", c.Operator, c.Pattern)
}

// truncate caps s at max bytes, appending an ellipsis marker when cut.
// The trailing "ref: <id>" line is sacrificed last: truncation re-appends
// it so the pointer always names its source.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	// Keep the ref line intact.
	idx := strings.LastIndex(s, "\nref: ")
	ref := ""
	if idx >= 0 {
		ref = s[idx:]
		s = s[:idx]
	}

	budget := max - len(ref) - 3
	if budget < 0 {
		budget = 0
	}
	// Back off to a rune boundary so the cut never leaves invalid UTF-8.
	for budget > 0 && !utf8.RuneStart(s[budget]) {
		budget--
	}
	return s[:budget] + "..." + ref
}
