// Package sqlite provides a SQLite-backed memory.Store.
//
// The store runs in embedded mode with WAL enabled so the daemon's sync
// runs and the dashboard's reads can proceed concurrently. Pointer
// metadata is stored as a JSON blob alongside indexed columns for the
// fields queries filter on (type, source id, layer, orphaned flag).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/knowmesh/kbridge/internal/knowledge"
	"github.com/knowmesh/kbridge/internal/memory"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is a SQLite-backed memory store.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a memory store at the given path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", memory.ErrUnavailable, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// initSchema creates tables and indexes. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL,  -- JSON blob

		-- Indexed projections of metadata
		meta_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		source_layer TEXT NOT NULL,
		is_orphaned INTEGER NOT NULL DEFAULT 0,

		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_meta_type ON records(meta_type);
	CREATE INDEX IF NOT EXISTS idx_records_source ON records(source_id);
	CREATE INDEX IF NOT EXISTS idx_records_layer ON records(source_layer);
	CREATE INDEX IF NOT EXISTS idx_records_orphaned ON records(is_orphaned);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Add implements memory.Store.
func (s *Store) Add(ctx context.Context, rec *memory.Record) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", memory.ErrInvalidMetadata, err)
	}

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
	INSERT INTO records (
		id, content, metadata, meta_type, source_id, source_layer,
		is_orphaned, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.ExecContext(ctx, query,
		id,
		rec.Content,
		string(metaJSON),
		rec.Metadata.Type,
		rec.Metadata.SourceID,
		string(rec.Metadata.SourceLayer),
		boolToInt(rec.Metadata.IsOrphaned),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert record: %w", err)
	}

	return id, nil
}

// Update implements memory.Store.
func (s *Store) Update(ctx context.Context, rec *memory.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required for update")
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", memory.ErrInvalidMetadata, err)
	}

	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
	UPDATE records SET
		content = ?, metadata = ?, meta_type = ?, source_id = ?,
		source_layer = ?, is_orphaned = ?, updated_at = ?
	WHERE id = ?
	`
	res, err := s.conn.ExecContext(ctx, query,
		rec.Content,
		string(metaJSON),
		rec.Metadata.Type,
		rec.Metadata.SourceID,
		string(rec.Metadata.SourceLayer),
		boolToInt(rec.Metadata.IsOrphaned),
		time.Now().UTC().Format(time.RFC3339Nano),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return memory.ErrRecordNotFound
	}
	return nil
}

// Get implements memory.Store.
func (s *Store) Get(ctx context.Context, id string) (*memory.Record, error) {
	query := `
	SELECT id, content, metadata, created_at, updated_at
	FROM records WHERE id = ?
	`
	row := s.conn.QueryRowContext(ctx, query, id)

	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, memory.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

// Delete implements memory.Store. Deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// ListPointers implements memory.Store.
func (s *Store) ListPointers(ctx context.Context, layer knowledge.Layer) ([]*memory.Record, error) {
	query := `
	SELECT id, content, metadata, created_at, updated_at
	FROM records WHERE meta_type = ?
	`
	args := []interface{}{memory.MetadataTypePointer}

	if layer != "" {
		query += " AND source_layer = ?"
		args = append(args, string(layer))
	}
	query += " ORDER BY id ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pointers: %w", err)
	}
	defer rows.Close()

	var records []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// scanRecord decodes one row, validating metadata at the store boundary.
func scanRecord(scan func(...interface{}) error) (*memory.Record, error) {
	var rec memory.Record
	var metaJSON, createdAt, updatedAt string

	if err := scan(&rec.ID, &rec.Content, &metaJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var meta memory.PointerMetadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrInvalidMetadata, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrInvalidMetadata, err)
	}
	rec.Metadata = &meta

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
