// Package knowledge defines the read surface of the authoritative knowledge
// repository consumed by the sync bridge.
//
// The bridge never writes to the knowledge repository and never inspects its
// versioning internals. It consumes exactly three operations: a manifest
// snapshot, item lookup by id, and the commit feed since a known commit.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Layer is the hierarchical scope an item belongs to. Layers are
// precedence-ordered: project overrides team, team overrides org,
// org overrides company.
type Layer string

const (
	LayerProject Layer = "project"
	LayerTeam    Layer = "team"
	LayerOrg     Layer = "org"
	LayerCompany Layer = "company"
)

// Status is the lifecycle status of a knowledge item.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusSuperseded Status = "superseded"
)

// Constraint is a rule attached to a knowledge item.
type Constraint struct {
	Operator string `json:"operator"` // match, forbid, require, limit
	Pattern  string `json:"pattern"`
	Target   string `json:"target,omitempty"`
	Severity string `json:"severity"` // blocking, warning, info
	Message  string `json:"message,omitempty"`
}

// Item is a single knowledge item as returned by GetItem.
type Item struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Summary     string       `json:"summary,omitempty"`
	Content     string       `json:"content"`
	Constraints []Constraint `json:"constraints,omitempty"`
	Status      Status       `json:"status"`
	Layer       Layer        `json:"layer"`
	Type        string       `json:"type"` // decision, rule, convention, runbook, ...
	ContentHash string       `json:"content_hash,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ManifestEntry is the per-item metadata carried by a manifest.
type ManifestEntry struct {
	ContentHash string `json:"content_hash"`
	Layer       Layer  `json:"layer"`
	Type        string `json:"type"`
}

// Manifest is an immutable snapshot of the repository at a commit:
// every item id mapped to its content hash plus minimal metadata.
type Manifest struct {
	CommitID string                   `json:"commit_id"`
	Items    map[string]ManifestEntry `json:"items"`
}

// Commit describes one repository commit and the item ids it touched.
type Commit struct {
	CommitID        string   `json:"commit_id"`
	AffectedItemIDs []string `json:"affected_item_ids"`
}

// Repository is the narrow interface the bridge consumes.
//
// Implementations must treat GetManifest as a snapshot read: the returned
// manifest must be internally consistent even if the repository is being
// written to concurrently.
type Repository interface {
	// GetManifest returns the current manifest snapshot.
	GetManifest(ctx context.Context) (*Manifest, error)

	// GetItem returns a single item by id.
	// Returns ErrItemNotFound if the id does not resolve.
	GetItem(ctx context.Context, id string) (*Item, error)

	// GetCommitsSince returns commits after the given commit id in
	// chronological order (oldest first). An empty sinceCommit returns
	// the full feed.
	GetCommitsSince(ctx context.Context, sinceCommit string) ([]Commit, error)
}

// HashItem computes the content hash of an item.
//
// The hash is a deterministic function of (content, constraints, status):
// identical inputs always yield the identical hash, which is what makes
// equality-based change detection sound. Title, summary, and timestamps
// deliberately do not participate.
func HashItem(item *Item) string {
	h := sha256.New()
	h.Write([]byte(item.Content))
	h.Write([]byte{0})
	for _, c := range item.Constraints {
		h.Write([]byte(c.Operator))
		h.Write([]byte{0x1f})
		h.Write([]byte(c.Pattern))
		h.Write([]byte{0x1f})
		h.Write([]byte(c.Target))
		h.Write([]byte{0x1f})
		h.Write([]byte(c.Severity))
		h.Write([]byte{0x1f})
		h.Write([]byte(c.Message))
		h.Write([]byte{0})
	}
	h.Write([]byte(item.Status))
	return hex.EncodeToString(h.Sum(nil))
}
