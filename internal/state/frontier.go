package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LastSync returns the frontier timestamp, or nil when no sync has
// completed yet (or after a full-resync reset).
func (s *Store) LastSync(ctx context.Context) (*time.Time, error) {
	var ns sql.NullString
	err := s.conn.QueryRowContext(ctx,
		"SELECT last_sync FROM frontier WHERE k = 'frontier'").Scan(&ns)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read frontier: %w", err)
	}
	return nullStringToTime(ns), nil
}

// AdvanceLastSync moves the frontier forward to t. The frontier is
// monotonic: if t is not after the stored value, the store is unchanged.
func (s *Store) AdvanceLastSync(ctx context.Context, t time.Time) error {
	current, err := s.LastSync(ctx)
	if err != nil {
		return err
	}
	if current != nil && !t.After(*current) {
		return nil
	}

	query := `
	INSERT INTO frontier (k, last_sync) VALUES ('frontier', ?)
	ON CONFLICT(k) DO UPDATE SET last_sync = excluded.last_sync
	`
	if _, err := s.conn.ExecContext(ctx, query, t.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to advance frontier: %w", err)
	}
	return nil
}

// ResetFrontier clears the frontier timestamp. Callers doing a full
// resync clear the metadata table too, since known ids are part of the
// frontier.
func (s *Store) ResetFrontier(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM frontier"); err != nil {
		return fmt.Errorf("failed to reset frontier: %w", err)
	}
	return nil
}
