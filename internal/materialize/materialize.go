// Package materialize turns fetched conversation records into the vault's
// markdown documents: one index document per day plus optional content
// documents (overview, action items, events, transcript). Generation is
// deterministic, so re-materializing unchanged data rewrites byte-identical
// files.
package materialize

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/jmcveigh/convosync/internal/api"
	"github.com/jmcveigh/convosync/internal/config"
	"github.com/jmcveigh/convosync/internal/state"
	"github.com/jmcveigh/convosync/internal/vault"
)

// placeholderBody stands in for record details that are known locally but
// whose full body was not part of the current fetch. A full resync
// replaces it with real content.
const placeholderBody = "*(previously synced; run a full resync to restore details)*"

// Materializer writes day documents into a vault folder.
type Materializer struct {
	store   vault.DocumentStore
	folder  string
	toggles config.ContentToggles
	loc     *time.Location
	logger  *log.Logger
}

// New returns a Materializer rooted at folder (e.g. "Conversations")
// inside the given store. A nil logger falls back to stderr.
func New(store vault.DocumentStore, folder string, toggles config.ContentToggles, loc *time.Location, logger *log.Logger) *Materializer {
	if logger == nil {
		logger = log.New(os.Stderr, "[materialize] ", log.LstdFlags)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Materializer{
		store:   store,
		folder:  folder,
		toggles: toggles,
		loc:     loc,
		logger:  logger,
	}
}

// Day is one day's worth of materialization input.
type Day struct {
	// Date is the day bucket, YYYY-MM-DD in the configured zone.
	Date string

	// Records holds the full record bodies fetched this run for this date.
	Records []*api.ConversationRecord

	// Known holds metadata for records previously synced on this date.
	// It may overlap Records by ID; fresh records win.
	Known []*state.Meta

	// AllDates is the sorted list of every known day bucket, including
	// Date itself, used for previous/next navigation.
	AllDates []string
}

// entry pairs a record's metadata with its body, when one is available.
type entry struct {
	meta *state.Meta
	rec  *api.ConversationRecord
}

// WriteDay regenerates all documents for one day. The output set is the
// union of the fresh batch and the previously known records for that date,
// deduplicated by ID, so a partial fetch never erases earlier entries.
// It returns the merged metadata, ready to be persisted.
func (m *Materializer) WriteDay(day Day) ([]*state.Meta, error) {
	entries := m.merge(day)

	folder := m.dayFolder(day.Date)
	if err := m.store.EnsureFolder(folder); err != nil {
		return nil, err
	}

	if m.toggles.Overview {
		if err := m.store.Write(m.docPath(day.Date, suffixOverview), renderOverview(day.Date, entries)); err != nil {
			return nil, err
		}
	}
	if m.toggles.ActionItems {
		if err := m.store.Write(m.docPath(day.Date, suffixActionItems), renderActionItems(day.Date, entries)); err != nil {
			return nil, err
		}
	}
	if m.toggles.Events {
		if err := m.store.Write(m.docPath(day.Date, suffixEvents), renderEvents(day.Date, entries, m.loc)); err != nil {
			return nil, err
		}
	}
	if m.toggles.Transcript {
		if err := m.store.Write(m.docPath(day.Date, suffixTranscript), renderTranscript(day.Date, entries)); err != nil {
			return nil, err
		}
	}

	metas := make([]*state.Meta, len(entries))
	for i, e := range entries {
		metas[i] = e.meta
	}
	if err := m.WriteIndex(day.Date, metas, day.AllDates); err != nil {
		return nil, err
	}

	m.logger.Printf("materialized %s: %d conversation(s)", day.Date, len(entries))
	return metas, nil
}

// WriteIndex regenerates a day's index document from metadata alone. The
// sync engine also calls this for the adjacent days of a newly created day
// bucket, so their previous/next links pick up the neighbor.
func (m *Materializer) WriteIndex(date string, metas []*state.Meta, allDates []string) error {
	sorted := make([]*state.Meta, len(metas))
	copy(sorted, metas)
	sortMetas(sorted)

	if err := m.store.EnsureFolder(m.dayFolder(date)); err != nil {
		return err
	}
	text, err := renderIndex(date, sorted, allDates, m.toggles)
	if err != nil {
		return err
	}
	return m.store.Write(m.docPath(date, ""), text)
}

// merge combines fresh records with previously known metadata, preferring
// the fresh copy when both exist, and returns entries in display order.
func (m *Materializer) merge(day Day) []*entry {
	byID := make(map[string]*entry, len(day.Known)+len(day.Records))
	for _, meta := range day.Known {
		byID[meta.ID] = &entry{meta: meta}
	}
	for _, rec := range day.Records {
		byID[rec.ID] = &entry{meta: state.MetaFromRecord(rec, m.loc), rec: rec}
	}

	entries := make([]*entry, 0, len(byID))
	for _, e := range byID {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].meta, entries[j].meta
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.ID < b.ID
	})
	return entries
}

func sortMetas(metas []*state.Meta) {
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].StartedAt.Equal(metas[j].StartedAt) {
			return metas[i].StartedAt.Before(metas[j].StartedAt)
		}
		return metas[i].ID < metas[j].ID
	})
}

// dayFolder returns the vault-relative folder for a date, e.g.
// "Conversations/2025/04/01".
func (m *Materializer) dayFolder(date string) string {
	if len(date) != 10 {
		return m.folder + "/" + date
	}
	return fmt.Sprintf("%s/%s/%s/%s", m.folder, date[:4], date[5:7], date[8:10])
}

// docPath returns the vault-relative path of a day document. An empty
// suffix addresses the index document.
func (m *Materializer) docPath(date, suffix string) string {
	name := date
	if suffix != "" {
		name += " " + suffix
	}
	return m.dayFolder(date) + "/" + name + ".md"
}
