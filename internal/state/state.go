// Package state persists the sync engine's bookkeeping: the per-record
// synced metadata, the sync frontier, and the bounded run history.
//
// Storage is an embedded SQLite database opened in WAL mode. The metadata
// table doubles as the frontier's known-ID set: a record id is "known"
// exactly when a synced_meta row exists for it, and a row is only written
// after the record's day shard has been materialized on disk.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite state database.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the state database at path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := state.Open(cfg.DBPath)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
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

	st := &Store{conn: conn, path: path}

	// WAL so the dashboard can read history mid-run.
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return st, nil
}

// Close closes the database connection, checkpointing the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the state tables if they don't exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS synced_meta (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,             -- local calendar date, YYYY-MM-DD
		title TEXT NOT NULL,
		emoji TEXT NOT NULL,
		display_time TEXT NOT NULL,
		category TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		overview_snippet TEXT NOT NULL DEFAULT '',
		action_item_count INTEGER NOT NULL DEFAULT 0,
		event_count INTEGER NOT NULL DEFAULT 0,
		latitude REAL,
		longitude REAL,
		address TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_meta_date ON synced_meta(date);
	CREATE INDEX IF NOT EXISTS idx_meta_category ON synced_meta(category);

	-- Single-row table holding the incremental fetch boundary.
	CREATE TABLE IF NOT EXISTS frontier (
		k TEXT PRIMARY KEY CHECK (k = 'frontier'),
		last_sync TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		type TEXT NOT NULL,
		action TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		api_calls INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON sync_history(timestamp);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize state schema: %w", err)
	}
	return nil
}

// timeToNullString converts an optional timestamp for SQL storage.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullStringToTime parses an optional stored timestamp.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
