package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store persists SyncState per scope, with checkpoint/rollback and a
// TTL lease that serializes sync runs within a scope.
//
// Checkpoints store the exact serialized bytes of the state so that
// rollback(checkpoint(S)) == S bit-for-bit regardless of what happened
// in between. One checkpoint per scope: taking a new one overwrites the
// previous (a run only ever needs its own pre-run snapshot).
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the state database at the given path.
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
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

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_state (
		scope TEXT PRIMARY KEY,
		data TEXT NOT NULL,          -- serialized SyncState
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		scope TEXT PRIMARY KEY,
		data TEXT NOT NULL,          -- exact pre-run bytes
		taken_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leases (
		scope TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize state schema: %w", err)
	}
	return nil
}

// Load returns the state for a scope. A scope that has never synced gets
// a fresh empty state. A persisted record that fails validation returns
// ErrStateCorrupted.
func (s *Store) Load(ctx context.Context, scope string) (*SyncState, error) {
	var data string
	err := s.conn.QueryRowContext(ctx,
		`SELECT data FROM sync_state WHERE scope = ?`, scope).Scan(&data)
	if err == sql.ErrNoRows {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state for scope %s: %w", scope, err)
	}

	return decodeState([]byte(data))
}

// Save persists the state for a scope. This is the single atomic last
// step of a run; no partial state is ever written.
func (s *Store) Save(ctx context.Context, scope string, st *SyncState) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
	INSERT INTO sync_state (scope, data, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(scope) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, query, scope, string(data),
		time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to save state for scope %s: %w", scope, err)
	}
	return nil
}

// Checkpoint snapshots the currently persisted state bytes for a scope.
// Taken immediately before a run; overwrites any previous checkpoint.
func (s *Store) Checkpoint(ctx context.Context, scope string) error {
	var data string
	err := s.conn.QueryRowContext(ctx,
		`SELECT data FROM sync_state WHERE scope = ?`, scope).Scan(&data)
	if err == sql.ErrNoRows {
		// First run: checkpoint the empty state so rollback restores it.
		raw, merr := json.Marshal(New())
		if merr != nil {
			return fmt.Errorf("%w: %v", ErrCheckpointFailed, merr)
		}
		data = string(raw)
	} else if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointFailed, err)
	}

	query := `
	INSERT INTO checkpoints (scope, data, taken_at) VALUES (?, ?, ?)
	ON CONFLICT(scope) DO UPDATE SET data = excluded.data, taken_at = excluded.taken_at
	`
	if _, err := s.conn.ExecContext(ctx, query, scope, data,
		time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointFailed, err)
	}
	return nil
}

// Rollback restores the scope's state to its checkpoint, bit-for-bit,
// and returns the restored state.
func (s *Store) Rollback(ctx context.Context, scope string) (*SyncState, error) {
	var data string
	err := s.conn.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE scope = ?`, scope).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRollbackFailed, err)
	}

	query := `
	INSERT INTO sync_state (scope, data, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(scope) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, query, scope, data,
		time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRollbackFailed, err)
	}

	return decodeState([]byte(data))
}

// AcquireLease takes the per-scope sync lease for the given holder.
//
// The lease is a mutex with TTL: if a previous holder crashed, the lease
// expires and future runs are not deadlocked. Re-acquiring a lease the
// same holder already owns extends it.
func (s *Store) AcquireLease(ctx context.Context, scope, holder string, ttl time.Duration) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin lease transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	var curHolder, expiresAt string
	err = tx.QueryRowContext(ctx,
		`SELECT holder, expires_at FROM leases WHERE scope = ?`, scope).Scan(&curHolder, &expiresAt)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read lease for scope %s: %w", scope, err)
	}
	if err == nil && curHolder != holder {
		expiry, perr := time.Parse(time.RFC3339Nano, expiresAt)
		if perr == nil && expiry.After(now) {
			return fmt.Errorf("%w: scope %s held by %s until %s", ErrLeaseHeld, scope, curHolder, expiry.Format(time.RFC3339))
		}
	}

	query := `
	INSERT INTO leases (scope, holder, expires_at) VALUES (?, ?, ?)
	ON CONFLICT(scope) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
	`
	if _, err := tx.ExecContext(ctx, query, scope, holder,
		now.Add(ttl).Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to write lease for scope %s: %w", scope, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lease for scope %s: %w", scope, err)
	}
	return nil
}

// ReleaseLease drops the scope's lease if this holder owns it. Releasing
// a lease held by someone else (or no one) is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, scope, holder string) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM leases WHERE scope = ? AND holder = ?`, scope, holder); err != nil {
		return fmt.Errorf("failed to release lease for scope %s: %w", scope, err)
	}
	return nil
}

// decodeState unmarshals and validates persisted bytes, failing closed.
func decodeState(data []byte) (*SyncState, error) {
	var st SyncState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}
	if st.KnowledgeHashes == nil {
		st.KnowledgeHashes = make(map[string]string)
	}
	if st.PointerMapping == nil {
		st.PointerMapping = make(map[string]string)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}
	return &st, nil
}
