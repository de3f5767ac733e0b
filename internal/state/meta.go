package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmcveigh/convosync/internal/api"
)

// snippetLimit caps the overview excerpt stored per record.
const snippetLimit = 150

// Meta is the compact local projection of one synced conversation.
// One row per record id; the set of ids in this table is the frontier's
// known-ID set. Day indices and the aggregate index are rebuilt from Meta
// alone, without the full record body.
type Meta struct {
	ID              string           `json:"id"`
	Date            string           `json:"date"` // YYYY-MM-DD, local zone
	Title           string           `json:"title"`
	Emoji           string           `json:"emoji"`
	Time            string           `json:"time"` // display time, e.g. "3:04 PM"
	Category        string           `json:"category"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	DurationMinutes int              `json:"duration_minutes"`
	OverviewSnippet string           `json:"overview_snippet,omitempty"`
	ActionItemCount int              `json:"action_item_count"`
	EventCount      int              `json:"event_count"`
	Geolocation     *api.Geolocation `json:"geolocation,omitempty"`
}

// MetaFromRecord projects a fetched record into its local metadata row.
// The day bucket uses the configured local zone, not UTC.
func MetaFromRecord(rec *api.ConversationRecord, loc *time.Location) *Meta {
	m := &Meta{
		ID:              rec.ID,
		Date:            rec.LocalDate(loc),
		Title:           rec.Title(),
		Emoji:           rec.Emoji(),
		Time:            rec.StartedAt.In(loc).Format("3:04 PM"),
		Category:        rec.Category(),
		StartedAt:       rec.StartedAt.UTC(),
		FinishedAt:      rec.FinishedAt.UTC(),
		DurationMinutes: rec.DurationMinutes(),
		Geolocation:     rec.Geolocation,
	}
	if rec.Structured != nil {
		m.OverviewSnippet = truncateRunes(rec.Structured.Overview, snippetLimit)
		m.ActionItemCount = len(rec.Structured.ActionItems)
		m.EventCount = len(rec.Structured.Events)
	}
	return m
}

// truncateRunes cuts s to at most n runes including the ellipsis that
// marks dropped text.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// UpsertMeta writes metadata rows in a single transaction. Existing ids
// are overwritten; metadata is last-write-wins because records re-included
// by an incremental run supersede their previous projection.
func (s *Store) UpsertMeta(ctx context.Context, metas []*Meta) error {
	if len(metas) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO synced_meta (
		id, date, title, emoji, display_time, category,
		started_at, finished_at, duration_minutes, overview_snippet,
		action_item_count, event_count, latitude, longitude, address
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		date = excluded.date,
		title = excluded.title,
		emoji = excluded.emoji,
		display_time = excluded.display_time,
		category = excluded.category,
		started_at = excluded.started_at,
		finished_at = excluded.finished_at,
		duration_minutes = excluded.duration_minutes,
		overview_snippet = excluded.overview_snippet,
		action_item_count = excluded.action_item_count,
		event_count = excluded.event_count,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		address = excluded.address
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range metas {
		var lat, lon sql.NullFloat64
		var addr sql.NullString
		if m.Geolocation != nil {
			lat = sql.NullFloat64{Float64: m.Geolocation.Latitude, Valid: true}
			lon = sql.NullFloat64{Float64: m.Geolocation.Longitude, Valid: true}
			addr = sql.NullString{String: m.Geolocation.Address, Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			m.ID, m.Date, m.Title, m.Emoji, m.Time, m.Category,
			m.StartedAt.UTC().Format(time.RFC3339),
			m.FinishedAt.UTC().Format(time.RFC3339),
			m.DurationMinutes, m.OverviewSnippet,
			m.ActionItemCount, m.EventCount,
			lat, lon, addr,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert metadata for %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metadata: %w", err)
	}
	return nil
}

// KnownIDs returns the set of all synced record ids.
func (s *Store) KnownIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT id FROM synced_meta")
	if err != nil {
		return nil, fmt.Errorf("failed to query known ids: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		known[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}
	return known, nil
}

const metaColumns = `id, date, title, emoji, display_time, category,
	started_at, finished_at, duration_minutes, overview_snippet,
	action_item_count, event_count, latitude, longitude, address`

// MetaForDate returns all metadata rows for a local date, ordered by
// start time.
func (s *Store) MetaForDate(ctx context.Context, date string) ([]*Meta, error) {
	query := `SELECT ` + metaColumns + ` FROM synced_meta WHERE date = ? ORDER BY started_at ASC, id ASC`
	rows, err := s.conn.QueryContext(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata for %s: %w", date, err)
	}
	defer rows.Close()
	return scanMetas(rows)
}

// AllMeta returns every metadata row ordered by date then start time.
func (s *Store) AllMeta(ctx context.Context) ([]*Meta, error) {
	query := `SELECT ` + metaColumns + ` FROM synced_meta ORDER BY date ASC, started_at ASC, id ASC`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()
	return scanMetas(rows)
}

// AllDates returns the distinct synced dates in ascending order.
func (s *Store) AllDates(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT DISTINCT date FROM synced_meta ORDER BY date ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dates: %w", err)
	}
	return dates, nil
}

// CountMeta returns the number of synced records.
func (s *Store) CountMeta(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM synced_meta").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count metadata: %w", err)
	}
	return count, nil
}

// ClearMeta removes all metadata rows. Used by full resync together with
// ResetFrontier.
func (s *Store) ClearMeta(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM synced_meta"); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}
	return nil
}

func scanMetas(rows *sql.Rows) ([]*Meta, error) {
	var metas []*Meta
	for rows.Next() {
		var m Meta
		var startedAt, finishedAt string
		var lat, lon sql.NullFloat64
		var addr sql.NullString

		err := rows.Scan(
			&m.ID, &m.Date, &m.Title, &m.Emoji, &m.Time, &m.Category,
			&startedAt, &finishedAt, &m.DurationMinutes, &m.OverviewSnippet,
			&m.ActionItemCount, &m.EventCount, &lat, &lon, &addr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}

		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			m.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339, finishedAt); err == nil {
			m.FinishedAt = t
		}
		if lat.Valid && lon.Valid {
			m.Geolocation = &api.Geolocation{
				Latitude:  lat.Float64,
				Longitude: lon.Float64,
				Address:   addr.String,
			}
		}

		metas = append(metas, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metadata: %w", err)
	}
	return metas, nil
}
