// Package syncer orchestrates sync runs: it drives the API client page by
// page, filters records against the persisted frontier, hands batches to
// the materializer, rebuilds the aggregate index, and records every run
// outcome in the history log.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jmcveigh/convosync/internal/api"
	"github.com/jmcveigh/convosync/internal/materialize"
	"github.com/jmcveigh/convosync/internal/rollup"
	"github.com/jmcveigh/convosync/internal/state"
)

var (
	// ErrRunInProgress is returned when a sync is requested while another
	// run holds the coordinator. Runs never queue; the caller retries.
	ErrRunInProgress = errors.New("a sync run is already in progress")

	// ErrInvalidDate is returned for a malformed date argument, before any
	// network call is made.
	ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")
)

// ConversationSource is the slice of the API client the coordinator needs.
// *api.Client satisfies it; tests substitute a scripted source.
type ConversationSource interface {
	ForEachPage(ctx context.Context, window api.Window, fn api.PageFunc) error
	RequestCount() int64
}

// ProgressFunc receives a coarse step description and a 0-100 percentage
// after each page fetch and each day's materialization. The percentage is
// a capped ramp, not an exact measure.
type ProgressFunc func(step string, percent int)

// Outcome summarizes a finished run.
type Outcome struct {
	// RecordsSynced is the number of records materialized this run.
	RecordsSynced int

	// StoppedEarly reports that incremental pagination halted on a known
	// unchanged record instead of reaching end-of-stream.
	StoppedEarly bool

	// Cancelled reports cooperative cancellation. A cancelled run is not
	// an error; everything materialized before the cancellation point is
	// kept.
	Cancelled bool

	// APICalls is the number of HTTP attempts the run consumed.
	APICalls int
}

// Config wires a Coordinator.
type Config struct {
	Source       ConversationSource
	Store        *state.Store
	Materializer *materialize.Materializer
	Rollup       *rollup.Builder

	// Location is the zone used for day bucketing.
	Location *time.Location

	// StartDate bounds a full resync, YYYY-MM-DD inclusive. Empty means
	// fetch all history.
	StartDate string

	Logger   *log.Logger
	Progress ProgressFunc
	Events   EventSink
}

// Coordinator runs syncs. At most one run is active at a time; concurrent
// requests fail fast with ErrRunInProgress.
type Coordinator struct {
	source    ConversationSource
	store     *state.Store
	mat       *materialize.Materializer
	rollup    *rollup.Builder
	loc       *time.Location
	startDate string
	logger    *log.Logger
	progress  ProgressFunc
	events    EventSink

	running atomic.Bool
}

// New creates a Coordinator. Logger, Progress and Events may be nil.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	events := cfg.Events
	if events == nil {
		events = nopEvents{}
	}
	progress := cfg.Progress
	if progress == nil {
		progress = func(string, int) {}
	}
	return &Coordinator{
		source:    cfg.Source,
		store:     cfg.Store,
		mat:       cfg.Materializer,
		rollup:    cfg.Rollup,
		loc:       loc,
		startDate: cfg.StartDate,
		logger:    logger,
		progress:  progress,
		events:    events,
	}
}

// plan describes one run's fetch strategy.
type plan struct {
	full        bool       // clear frontier and metadata first
	incremental bool       // apply stop-when-known
	window      api.Window // server-side date bounds
}

// Sync runs an incremental sync: pages are walked newest-first and
// pagination halts on the first known record that hasn't changed since the
// last run.
func (c *Coordinator) Sync(ctx context.Context) (Outcome, error) {
	return c.run(ctx, state.ActionSync, plan{incremental: true})
}

// AutoSync is Sync recorded under the auto-sync action, used by the daemon
// timers.
func (c *Coordinator) AutoSync(ctx context.Context) (Outcome, error) {
	return c.run(ctx, state.ActionAutoSync, plan{incremental: true})
}

// FullResync discards the frontier and all local metadata, then fetches
// every record from the configured start date forward.
func (c *Coordinator) FullResync(ctx context.Context) (Outcome, error) {
	return c.run(ctx, state.ActionFullResync, plan{
		full:   true,
		window: api.Window{StartDate: c.startDate},
	})
}

// ResyncDate re-fetches a single local day, bypassing the frontier. The
// date is validated before any network call.
func (c *Coordinator) ResyncDate(ctx context.Context, date string) (Outcome, error) {
	return c.ResyncRange(ctx, date, date)
}

// ResyncRange re-fetches an inclusive date range, bypassing the frontier.
func (c *Coordinator) ResyncRange(ctx context.Context, first, last string) (Outcome, error) {
	start, err := parseDate(first)
	if err != nil {
		return Outcome{}, err
	}
	end, err := parseDate(last)
	if err != nil {
		return Outcome{}, err
	}
	if end.Before(start) {
		return Outcome{}, fmt.Errorf("%w: range end %s precedes start %s", ErrInvalidDate, last, first)
	}

	// end_date is exclusive on the wire, so the window closes one day
	// after the last requested date.
	return c.run(ctx, state.ActionResync, plan{
		window: api.Window{
			StartDate: start.Format("2006-01-02"),
			EndDate:   end.AddDate(0, 0, 1).Format("2006-01-02"),
		},
	})
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// run holds the single-run guard, executes the plan, and records the
// outcome in the history log.
func (c *Coordinator) run(ctx context.Context, action string, p plan) (Outcome, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Outcome{}, ErrRunInProgress
	}
	defer c.running.Store(false)

	c.events.RunStarted(action)
	c.logger.Printf("Starting %s", action)
	requestsBefore := c.source.RequestCount()

	outcome, err := c.execute(ctx, p)
	outcome.APICalls = int(c.source.RequestCount() - requestsBefore)

	entry := state.HistoryEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Count:     outcome.RecordsSynced,
		APICalls:  outcome.APICalls,
	}
	switch {
	case outcome.Cancelled:
		entry.Type = state.TypeCancelled
	case err != nil:
		entry.Type = state.TypeError
		entry.Error = err.Error()
	default:
		entry.Type = state.TypeSuccess
	}

	// The run context may already be cancelled; the history entry must
	// land regardless.
	if herr := c.store.AppendHistory(context.Background(), entry); herr != nil {
		c.logger.Printf("Failed to record history entry: %v", herr)
	}

	c.progress("Done", 100)
	c.events.RunCompleted(outcome, err)
	switch {
	case outcome.Cancelled:
		c.logger.Printf("%s cancelled: %d record(s) kept, %d API call(s)", action, outcome.RecordsSynced, outcome.APICalls)
	case err != nil:
		c.logger.Printf("%s failed: %v", action, err)
	default:
		c.logger.Printf("%s complete: %d record(s), %d API call(s)", action, outcome.RecordsSynced, outcome.APICalls)
	}
	return outcome, err
}

func (c *Coordinator) execute(ctx context.Context, p plan) (Outcome, error) {
	var out Outcome

	if p.full {
		if err := c.store.ResetFrontier(ctx); err != nil {
			return out, err
		}
		if err := c.store.ClearMeta(ctx); err != nil {
			return out, err
		}
	}

	known := map[string]bool{}
	var lastSync *time.Time
	if p.incremental {
		var err error
		if known, err = c.store.KnownIDs(ctx); err != nil {
			return out, err
		}
		if lastSync, err = c.store.LastSync(ctx); err != nil {
			return out, err
		}
	}

	pages := 0
	err := c.source.ForEachPage(ctx, p.window, func(page []api.ConversationRecord) (bool, error) {
		pages++
		c.events.PageFetched(pages, len(page))
		c.progress(fmt.Sprintf("Fetched page %d", pages), fetchPercent(pages))

		fresh, stop := c.filterPage(page, p, known, lastSync)
		if len(fresh) > 0 {
			if err := c.materializeBatch(ctx, fresh, &out); err != nil {
				return false, err
			}
		}
		if stop {
			out.StoppedEarly = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			out.Cancelled = true
			return out, nil
		}
		return out, fmt.Errorf("sync failed: %w", err)
	}

	c.progress("Rebuilding aggregate index", 90)
	metas, err := c.store.AllMeta(ctx)
	if err != nil {
		return out, err
	}
	if err := c.rollup.Rebuild(metas); err != nil {
		return out, fmt.Errorf("sync failed: %w", err)
	}
	return out, nil
}

// filterPage selects the records to materialize from one page. In
// incremental mode it implements stop-when-known: the first known record
// whose finishedAt is not after the frontier halts pagination, because
// newest-first ordering guarantees everything beyond it is already synced.
// A known record that changed since the last run is re-included.
func (c *Coordinator) filterPage(page []api.ConversationRecord, p plan, known map[string]bool, lastSync *time.Time) ([]*api.ConversationRecord, bool) {
	var fresh []*api.ConversationRecord
	for i := range page {
		rec := &page[i]
		if err := rec.Validate(); err != nil {
			c.logger.Printf("Skipping malformed record: %v", err)
			continue
		}
		if p.incremental && known[rec.ID] {
			if lastSync != nil && !rec.FinishedAt.After(*lastSync) {
				return fresh, true
			}
		}
		fresh = append(fresh, rec)
	}
	return fresh, false
}

// materializeBatch groups one page's records by local date and writes each
// day immediately, so partial progress survives a later page failure.
// Metadata and the frontier advance only after a day is on disk.
func (c *Coordinator) materializeBatch(ctx context.Context, recs []*api.ConversationRecord, out *Outcome) error {
	byDate := map[string][]*api.ConversationRecord{}
	var dates []string
	for _, rec := range recs {
		date := rec.LocalDate(c.loc)
		if _, seen := byDate[date]; !seen {
			dates = append(dates, date)
		}
		byDate[date] = append(byDate[date], rec)
	}
	sort.Strings(dates)

	for _, date := range dates {
		if err := c.materializeDay(ctx, date, byDate[date], out); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) materializeDay(ctx context.Context, date string, recs []*api.ConversationRecord, out *Outcome) error {
	knownMetas, err := c.store.MetaForDate(ctx, date)
	if err != nil {
		return err
	}
	existingDates, err := c.store.AllDates(ctx)
	if err != nil {
		return err
	}
	allDates, isNewDay := insertDate(existingDates, date)

	metas, err := c.mat.WriteDay(materialize.Day{
		Date:     date,
		Records:  recs,
		Known:    knownMetas,
		AllDates: allDates,
	})
	if err != nil {
		return fmt.Errorf("failed to materialize %s: %w", date, err)
	}
	if err := c.store.UpsertMeta(ctx, metas); err != nil {
		return err
	}

	var newest time.Time
	for _, rec := range recs {
		if rec.FinishedAt.After(newest) {
			newest = rec.FinishedAt
		}
	}
	if !newest.IsZero() {
		if err := c.store.AdvanceLastSync(ctx, newest); err != nil {
			return err
		}
	}

	// A brand-new day changes its neighbors' prev/next links. Only their
	// index documents are rewritten; content documents are untouched.
	if isNewDay {
		if err := c.repairNeighbors(ctx, date, allDates); err != nil {
			return err
		}
	}

	out.RecordsSynced += len(recs)
	c.events.DayMaterialized(date, len(recs))
	c.progress(fmt.Sprintf("Materialized %s", date), fetchPercent(len(allDates)))
	return nil
}

// repairNeighbors regenerates the index documents of the days immediately
// before and after a newly created day, from stored metadata alone.
func (c *Coordinator) repairNeighbors(ctx context.Context, date string, allDates []string) error {
	for i, d := range allDates {
		if d != date {
			continue
		}
		for _, j := range []int{i - 1, i + 1} {
			if j < 0 || j >= len(allDates) {
				continue
			}
			neighbor := allDates[j]
			metas, err := c.store.MetaForDate(ctx, neighbor)
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				continue
			}
			if err := c.mat.WriteIndex(neighbor, metas, allDates); err != nil {
				return fmt.Errorf("failed to repair index for %s: %w", neighbor, err)
			}
		}
		return nil
	}
	return nil
}

// fetchPercent is the capped progress ramp used while paginating: it grows
// with activity but never claims completion before finalization.
func fetchPercent(n int) int {
	pct := 10 + n*15
	if pct > 80 {
		pct = 80
	}
	return pct
}

// insertDate returns dates with date added in sorted position, and whether
// the date was missing.
func insertDate(dates []string, date string) ([]string, bool) {
	for _, d := range dates {
		if d == date {
			return dates, false
		}
	}
	out := make([]string, 0, len(dates)+1)
	inserted := false
	for _, d := range dates {
		if !inserted && date < d {
			out = append(out, date)
			inserted = true
		}
		out = append(out, d)
	}
	if !inserted {
		out = append(out, date)
	}
	return out, true
}
