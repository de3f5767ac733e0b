package state

import (
	"context"
	"fmt"
	"time"
)

// History retention: entries older than this are pruned on every append.
const historyWindow = 24 * time.Hour

// historyCap bounds the history to the most recent entries after the
// time-window prune.
const historyCap = 100

// Run actions recorded in the history log.
const (
	ActionSync       = "sync"
	ActionFullResync = "full-resync"
	ActionAutoSync   = "auto-sync"
	ActionResync     = "resync"
)

// Run outcome types.
const (
	TypeSuccess   = "success"
	TypeError     = "error"
	TypeCancelled = "cancelled"
)

// HistoryEntry is one audit record of a sync run outcome.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	Count     int       `json:"count"`
	APICalls  int       `json:"api_calls,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// AppendHistory records a run outcome and prunes the log: entries older
// than 24 hours are dropped, then the log is truncated to the newest 100.
func (s *Store) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_history (timestamp, type, action, count, api_calls, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339),
		entry.Type, entry.Action, entry.Count, entry.APICalls, entry.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	cutoff := time.Now().Add(-historyWindow).UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM sync_history WHERE timestamp < ?", cutoff); err != nil {
		return fmt.Errorf("failed to prune aged history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM sync_history WHERE seq NOT IN (
			SELECT seq FROM sync_history ORDER BY timestamp DESC, seq DESC LIMIT ?
		)`, historyCap)
	if err != nil {
		return fmt.Errorf("failed to cap history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

// RecentHistory returns up to limit entries, newest first. limit <= 0
// returns the whole retained log.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = historyCap
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT timestamp, type, action, count, api_calls, error
		FROM sync_history ORDER BY timestamp DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var ts string
		if err := rows.Scan(&ts, &e.Type, &e.Action, &e.Count, &e.APICalls, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			e.Timestamp = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return entries, nil
}
