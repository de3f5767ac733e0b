package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcveigh/convosync/internal/api"
	"github.com/jmcveigh/convosync/internal/config"
	"github.com/jmcveigh/convosync/internal/materialize"
	"github.com/jmcveigh/convosync/internal/rollup"
	"github.com/jmcveigh/convosync/internal/state"
	"github.com/jmcveigh/convosync/internal/vault"
)

// fakeSource replays a scripted page sequence. Like the real client it
// checks cancellation before each page and stops when the callback says so.
type fakeSource struct {
	pages      [][]api.ConversationRecord
	calls      atomic.Int64
	lastWindow api.Window

	// afterPage runs after page n (1-based) has been handed to the
	// callback, before the next fetch boundary.
	afterPage func(n int)
}

func (f *fakeSource) ForEachPage(ctx context.Context, window api.Window, fn api.PageFunc) error {
	f.lastWindow = window
	for i, page := range f.pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.calls.Add(1)
		cont, err := fn(page)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		if f.afterPage != nil {
			f.afterPage(i + 1)
		}
	}
	return nil
}

func (f *fakeSource) RequestCount() int64 {
	return f.calls.Load()
}

type fixture struct {
	coord *Coordinator
	store *state.Store
	fs    *vault.FS
	src   *fakeSource
}

func newFixture(t *testing.T, src *fakeSource) *fixture {
	t.Helper()

	st, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.InitSchema(context.Background()))

	fs := vault.NewFS(t.TempDir())
	toggles := config.ContentToggles{Overview: true, ActionItems: true, Events: true, Transcript: true}
	mat := materialize.New(fs, "Conversations", toggles, time.UTC, nil)

	coord := New(Config{
		Source:       src,
		Store:        st,
		Materializer: mat,
		Rollup:       rollup.New(fs, "Conversations", nil),
		Location:     time.UTC,
		StartDate:    "2025-01-01",
	})
	return &fixture{coord: coord, store: st, fs: fs, src: src}
}

func record(id string, finishedAt time.Time) api.ConversationRecord {
	started := finishedAt.Add(-10 * time.Minute)
	return api.ConversationRecord{
		ID:         id,
		CreatedAt:  started,
		StartedAt:  started,
		FinishedAt: finishedAt,
		Structured: &api.Structured{
			Title:    "Conversation " + id,
			Emoji:    "💬",
			Category: "work",
			Overview: "Notes for " + id + ".",
		},
	}
}

func TestSync_StopsOnKnownUnchangedRecord(t *testing.T) {
	frontier := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	// id1 finished before the frontier and is already known; it sits
	// fifth on the first page. Four newer records precede it.
	knownRec := record("id1", frontier.Add(-time.Hour))
	page1 := []api.ConversationRecord{
		record("n4", frontier.Add(4*time.Hour)),
		record("n3", frontier.Add(3*time.Hour)),
		record("n2", frontier.Add(2*time.Hour)),
		record("n1", frontier.Add(1*time.Hour)),
		knownRec,
		record("old1", frontier.Add(-2*time.Hour)),
	}
	page2 := []api.ConversationRecord{record("old2", frontier.Add(-3 * time.Hour))}

	src := &fakeSource{pages: [][]api.ConversationRecord{page1, page2}}
	f := newFixture(t, src)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertMeta(ctx, []*state.Meta{state.MetaFromRecord(&knownRec, time.UTC)}))
	require.NoError(t, f.store.AdvanceLastSync(ctx, frontier))

	out, err := f.coord.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, out.RecordsSynced)
	assert.True(t, out.StoppedEarly)
	assert.EqualValues(t, 1, src.calls.Load(), "must not fetch past the page with the known record")
	assert.False(t, out.Cancelled)

	known, err := f.store.KnownIDs(ctx)
	require.NoError(t, err)
	assert.True(t, known["n1"] && known["n4"])
	assert.False(t, known["old1"], "records past the stop point are not synced")
}

func TestSync_ReincludesChangedKnownRecord(t *testing.T) {
	frontier := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	// Known record edited after the last run: finishedAt moved past the
	// frontier, so it is re-included and pagination continues.
	edited := record("id1", frontier.Add(30*time.Minute))
	stale := record("id1", frontier.Add(-time.Hour))
	unchanged := record("id2", frontier.Add(-2*time.Hour))

	src := &fakeSource{pages: [][]api.ConversationRecord{{edited, unchanged}}}
	f := newFixture(t, src)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertMeta(ctx, []*state.Meta{
		state.MetaFromRecord(&stale, time.UTC),
		state.MetaFromRecord(&unchanged, time.UTC),
	}))
	require.NoError(t, f.store.AdvanceLastSync(ctx, frontier))

	out, err := f.coord.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out.RecordsSynced)
	assert.True(t, out.StoppedEarly)
}

func TestFullResync_Idempotent(t *testing.T) {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	page := []api.ConversationRecord{
		record("c3", base.Add(26*time.Hour)),
		record("c2", base.Add(2*time.Hour)),
		record("c1", base),
	}
	src := &fakeSource{pages: [][]api.ConversationRecord{page}}
	f := newFixture(t, src)
	ctx := context.Background()

	out, err := f.coord.FullResync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, out.RecordsSynced)
	assert.Equal(t, api.Window{StartDate: "2025-01-01"}, src.lastWindow)

	paths, err := f.fs.List("Conversations")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	snapshot := map[string]string{}
	for _, p := range paths {
		text, ok, err := f.fs.Read(p)
		require.NoError(t, err)
		require.True(t, ok)
		snapshot[p] = text
	}

	_, err = f.coord.FullResync(ctx)
	require.NoError(t, err)

	pathsAfter, err := f.fs.List("Conversations")
	require.NoError(t, err)
	require.Equal(t, paths, pathsAfter)
	for _, p := range pathsAfter {
		text, _, err := f.fs.Read(p)
		require.NoError(t, err)
		assert.Equal(t, snapshot[p], text, "%s changed across identical resyncs", p)
	}
}

func TestSync_CancelledMidRun(t *testing.T) {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	pages := make([][]api.ConversationRecord, 5)
	for i := range pages {
		day := base.Add(-time.Duration(i) * 24 * time.Hour)
		pages[i] = []api.ConversationRecord{
			record(fmt.Sprintf("p%d-a", i+1), day.Add(time.Hour)),
			record(fmt.Sprintf("p%d-b", i+1), day),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{pages: pages}
	src.afterPage = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	f := newFixture(t, src)

	out, err := f.coord.Sync(ctx)
	require.NoError(t, err, "cancellation is not an error")
	assert.True(t, out.Cancelled)
	assert.Equal(t, 4, out.RecordsSynced, "pages 1-2 materialized before the cancellation point")
	assert.EqualValues(t, 2, src.calls.Load())

	// Frontier reflects only what was materialized.
	last, lerr := f.store.LastSync(context.Background())
	require.NoError(t, lerr)
	require.NotNil(t, last)
	assert.True(t, last.Equal(base.Add(time.Hour)))

	// The run is logged as cancelled, not as an error.
	entries, herr := f.store.RecentHistory(context.Background(), 10)
	require.NoError(t, herr)
	require.Len(t, entries, 1)
	assert.Equal(t, state.TypeCancelled, entries[0].Type)
	assert.Equal(t, 4, entries[0].Count)
	assert.Empty(t, entries[0].Error)
}

func TestFrontierMonotonicity(t *testing.T) {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{pages: [][]api.ConversationRecord{{record("old", base.Add(-48 * time.Hour))}}}
	f := newFixture(t, src)
	ctx := context.Background()

	require.NoError(t, f.store.AdvanceLastSync(ctx, base))

	// Resync of an old day must not move the frontier backwards.
	_, err := f.coord.ResyncDate(ctx, "2025-03-30")
	require.NoError(t, err)

	last, err := f.store.LastSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.False(t, last.Before(base))
}

func TestResyncDate_WindowAndValidation(t *testing.T) {
	src := &fakeSource{pages: [][]api.ConversationRecord{{record("c1", time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC))}}}
	f := newFixture(t, src)
	ctx := context.Background()

	_, err := f.coord.ResyncDate(ctx, "2025-04-01")
	require.NoError(t, err)
	assert.Equal(t, api.Window{StartDate: "2025-04-01", EndDate: "2025-04-02"}, src.lastWindow)

	_, err = f.coord.ResyncDate(ctx, "April 1st")
	require.ErrorIs(t, err, ErrInvalidDate)
	assert.EqualValues(t, 1, src.calls.Load(), "validation failure must not touch the network")

	_, err = f.coord.ResyncRange(ctx, "2025-04-02", "2025-04-01")
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestRun_RejectsConcurrentRuns(t *testing.T) {
	src := &fakeSource{pages: [][]api.ConversationRecord{{record("c1", time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC))}}}
	f := newFixture(t, src)

	var nested error
	f.coord.events = eventFunc(func() {
		_, nested = f.coord.Sync(context.Background())
	})

	_, err := f.coord.Sync(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, nested, ErrRunInProgress)
}

// eventFunc fires on RunStarted only.
type eventFunc func()

func (f eventFunc) RunStarted(string)           { f() }
func (eventFunc) PageFetched(int, int)          {}
func (eventFunc) DayMaterialized(string, int)   {}
func (eventFunc) RunCompleted(Outcome, error)   {}

func TestSync_RepairsNeighborNavigation(t *testing.T) {
	day1 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	src := &fakeSource{pages: [][]api.ConversationRecord{{record("c1", day1)}}}
	f := newFixture(t, src)
	ctx := context.Background()

	_, err := f.coord.Sync(ctx)
	require.NoError(t, err)

	first, _, err := f.fs.Read("Conversations/2025/04/01/2025-04-01.md")
	require.NoError(t, err)
	assert.NotContains(t, first, "[[2025-04-02]]")

	src.pages = [][]api.ConversationRecord{{record("c2", day2)}}
	_, err = f.coord.Sync(ctx)
	require.NoError(t, err)

	first, ok, err := f.fs.Read("Conversations/2025/04/01/2025-04-01.md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, first, "[[2025-04-02]] →", "older day's index gains a next link")

	second, _, err := f.fs.Read("Conversations/2025/04/02/2025-04-02.md")
	require.NoError(t, err)
	assert.Contains(t, second, "← [[2025-04-01]]")
}

func TestSync_RecordsHistoryOnSuccess(t *testing.T) {
	src := &fakeSource{pages: [][]api.ConversationRecord{{record("c1", time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC))}}}
	f := newFixture(t, src)
	ctx := context.Background()

	out, err := f.coord.Sync(ctx)
	require.NoError(t, err)

	entries, err := f.store.RecentHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, state.TypeSuccess, entries[0].Type)
	assert.Equal(t, state.ActionSync, entries[0].Action)
	assert.Equal(t, out.RecordsSynced, entries[0].Count)
	assert.Equal(t, out.APICalls, entries[0].APICalls)

	// The aggregate index was rebuilt.
	_, ok, err := f.fs.Read("Conversations/Index.md")
	require.NoError(t, err)
	assert.True(t, ok)
}
