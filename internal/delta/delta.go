// Package delta computes the change set between two manifest hash maps.
//
// Detection is a pure function over two id→hash maps: no I/O, two linear
// scans, and deterministic output regardless of map iteration order.
package delta

import "sort"

// Delta classifies every id seen in either input into exactly one set.
//
// The four sets are pairwise disjoint and their union equals
// ids(current) ∪ ids(previous). Each set is sorted ascending so that
// identical inputs always produce byte-identical output.
type Delta struct {
	Added     []string // in current only
	Updated   []string // in both, hash differs
	Unchanged []string // in both, hash equal
	Deleted   []string // in previous only
}

// Compute classifies ids between the current manifest hashes and the
// previously persisted hashes.
func Compute(current, previous map[string]string) Delta {
	var d Delta

	for id, hash := range current {
		prevHash, seen := previous[id]
		switch {
		case !seen:
			d.Added = append(d.Added, id)
		case prevHash != hash:
			d.Updated = append(d.Updated, id)
		default:
			d.Unchanged = append(d.Unchanged, id)
		}
	}

	for id := range previous {
		if _, exists := current[id]; !exists {
			d.Deleted = append(d.Deleted, id)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Updated)
	sort.Strings(d.Unchanged)
	sort.Strings(d.Deleted)

	return d
}

// Total returns the number of classified ids.
func (d Delta) Total() int {
	return len(d.Added) + len(d.Updated) + len(d.Unchanged) + len(d.Deleted)
}

// HasChanges reports whether any id was added, updated, or deleted.
func (d Delta) HasChanges() bool {
	return len(d.Added)+len(d.Updated)+len(d.Deleted) > 0
}
