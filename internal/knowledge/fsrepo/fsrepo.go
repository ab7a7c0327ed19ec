// Package fsrepo provides a directory-backed knowledge.Repository.
//
// Layout:
//
//	<root>/items/*.json   one knowledge item per file, {id}.json
//	<root>/commits.jsonl  append-only commit feed, one JSON object per line
//
// The repository's own versioning lives elsewhere; fsrepo only implements
// the narrow read surface the bridge consumes. Invalid item files are
// skipped with a warning so one bad file cannot poison a manifest read.
package fsrepo

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knowmesh/kbridge/internal/knowledge"
)

// Repo is a filesystem-backed knowledge repository.
type Repo struct {
	root string
}

// New creates a Repo rooted at the given directory.
// The directory does not need to exist yet; reads against a missing
// directory return an empty manifest.
func New(root string) *Repo {
	return &Repo{root: root}
}

// ItemsDir returns the directory holding item files. Useful for watchers.
func (r *Repo) ItemsDir() string {
	return filepath.Join(r.root, "items")
}

func (r *Repo) commitsPath() string {
	return filepath.Join(r.root, "commits.jsonl")
}

// GetManifest implements knowledge.Repository.
//
// The manifest's commit id is the id of the last commit in the feed, or
// empty when the feed is empty. Hashes are recomputed from item files so
// the manifest always reflects what is actually on disk.
func (r *Repo) GetManifest(ctx context.Context) (*knowledge.Manifest, error) {
	items, err := r.readAllItems()
	if err != nil {
		return nil, err
	}

	manifest := &knowledge.Manifest{Items: make(map[string]knowledge.ManifestEntry, len(items))}
	for _, item := range items {
		manifest.Items[item.ID] = knowledge.ManifestEntry{
			ContentHash: knowledge.HashItem(item),
			Layer:       item.Layer,
			Type:        item.Type,
		}
	}

	commits, err := r.readCommits()
	if err != nil {
		return nil, err
	}
	if len(commits) > 0 {
		manifest.CommitID = commits[len(commits)-1].CommitID
	}

	return manifest, nil
}

// GetItem implements knowledge.Repository.
func (r *Repo) GetItem(ctx context.Context, id string) (*knowledge.Item, error) {
	path := filepath.Join(r.ItemsDir(), id+".json")
	item, err := ReadItemFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, knowledge.ErrItemNotFound
		}
		return nil, err
	}
	if item.ContentHash == "" {
		item.ContentHash = knowledge.HashItem(item)
	}
	return item, nil
}

// GetCommitsSince implements knowledge.Repository.
//
// Returns commits strictly after sinceCommit, oldest first. An empty
// sinceCommit returns the whole feed. If sinceCommit is not present in
// the feed (history compacted), knowledge.ErrCommitNotFound is returned
// so callers can fall back to a full sync.
func (r *Repo) GetCommitsSince(ctx context.Context, sinceCommit string) ([]knowledge.Commit, error) {
	commits, err := r.readCommits()
	if err != nil {
		return nil, err
	}
	if sinceCommit == "" {
		return commits, nil
	}

	for i, c := range commits {
		if c.CommitID == sinceCommit {
			return commits[i+1:], nil
		}
	}
	return nil, knowledge.ErrCommitNotFound
}

// AppendCommit appends a commit to the feed. Used by tests and by tools
// that populate a repository fixture; the bridge itself never calls it.
func (r *Repo) AppendCommit(commit knowledge.Commit) error {
	if err := os.MkdirAll(r.root, 0755); err != nil {
		return fmt.Errorf("failed to create repo directory: %w", err)
	}

	data, err := json.Marshal(commit)
	if err != nil {
		return fmt.Errorf("failed to marshal commit: %w", err)
	}

	f, err := os.OpenFile(r.commitsPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open commit feed: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append commit: %w", err)
	}
	return nil
}

// readAllItems reads every item file under items/.
// Invalid files are skipped with a warning to stderr.
func (r *Repo) readAllItems() ([]*knowledge.Item, error) {
	entries, err := os.ReadDir(r.ItemsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // empty repository is valid
		}
		return nil, fmt.Errorf("failed to read items directory: %w", err)
	}

	var items []*knowledge.Item
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(r.ItemsDir(), entry.Name())
		item, err := ReadItemFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid item file %s: %v\n", entry.Name(), err)
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

// readCommits parses the commit feed, oldest first.
func (r *Repo) readCommits() ([]knowledge.Commit, error) {
	f, err := os.Open(r.commitsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open commit feed: %w", err)
	}
	defer f.Close()

	var commits []knowledge.Commit
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var c knowledge.Commit
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("failed to parse commit feed line: %w", err)
		}
		commits = append(commits, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan commit feed: %w", err)
	}

	return commits, nil
}

// ReadItemFile reads and validates a single item JSON file.
func ReadItemFile(path string) (*knowledge.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var item knowledge.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to parse item file %s: %w", path, err)
	}

	if err := validateItem(&item); err != nil {
		return nil, fmt.Errorf("invalid item file %s: %w", path, err)
	}

	return &item, nil
}

// WriteItemFile writes an item to itemsDir/{id}.json. Fixture helper.
func WriteItemFile(itemsDir string, item *knowledge.Item) error {
	if err := validateItem(item); err != nil {
		return fmt.Errorf("cannot write invalid item: %w", err)
	}

	if err := os.MkdirAll(itemsDir, 0755); err != nil {
		return fmt.Errorf("failed to create items directory: %w", err)
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal item %s: %w", item.ID, err)
	}

	path := filepath.Join(itemsDir, item.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write item file %s: %w", path, err)
	}
	return nil
}

func validateItem(item *knowledge.Item) error {
	if item.ID == "" {
		return fmt.Errorf("id is required")
	}
	if item.Title == "" {
		return fmt.Errorf("title is required")
	}
	if item.Status == "" {
		return fmt.Errorf("status is required")
	}
	if item.Layer == "" {
		return fmt.Errorf("layer is required")
	}
	if item.Type == "" {
		return fmt.Errorf("type is required")
	}
	return nil
}
