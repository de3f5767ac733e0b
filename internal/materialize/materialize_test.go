package materialize

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcveigh/convosync/internal/api"
	"github.com/jmcveigh/convosync/internal/config"
	"github.com/jmcveigh/convosync/internal/state"
	"github.com/jmcveigh/convosync/internal/vault"
)

func allToggles() config.ContentToggles {
	return config.ContentToggles{Overview: true, ActionItems: true, Events: true, Transcript: true}
}

func testMaterializer(t *testing.T, toggles config.ContentToggles) (*Materializer, *vault.FS) {
	t.Helper()
	store := vault.NewFS(t.TempDir())
	m := New(store, "Conversations", toggles, time.UTC, nil)
	return m, store
}

func testRecord(id string, startedAt time.Time, title string) *api.ConversationRecord {
	return &api.ConversationRecord{
		ID:         id,
		CreatedAt:  startedAt,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(15 * time.Minute),
		Structured: &api.Structured{
			Title:    title,
			Emoji:    "📋",
			Category: "work",
			Overview: "A discussion about " + title + ".",
			ActionItems: []api.ActionItem{
				{Description: "Follow up on " + title},
			},
		},
		TranscriptSegments: []api.TranscriptSegment{
			{Speaker: "Alice", Start: 0, Text: "Let's get started."},
			{Speaker: "Bob", Start: 12.5, Text: "Sounds good."},
		},
	}
}

func readDoc(t *testing.T, store *vault.FS, path string) string {
	t.Helper()
	text, ok, err := store.Read(path)
	require.NoError(t, err)
	require.True(t, ok, "document %s should exist", path)
	return text
}

func TestWriteDay_AnchorConsistency(t *testing.T) {
	m, store := testMaterializer(t, allToggles())

	started := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	rec := testRecord("conv-1", started, "Morning standup")

	_, err := m.WriteDay(Day{
		Date:     "2025-04-01",
		Records:  []*api.ConversationRecord{rec},
		AllDates: []string{"2025-04-01"},
	})
	require.NoError(t, err)

	anchor := "9:00 AM - 📋 Morning standup"
	folder := "Conversations/2025/04/01/"

	index := readDoc(t, store, folder+"2025-04-01.md")
	for _, suffix := range []string{"Overview", "Action Items", "Events", "Transcript"} {
		doc := readDoc(t, store, folder+"2025-04-01 "+suffix+".md")
		assert.Contains(t, doc, "## "+anchor+"\n", "%s heading", suffix)
		assert.Contains(t, doc, "<!-- record-id: conv-1 -->", "%s id marker", suffix)
		assert.Contains(t, index, fmt.Sprintf("[[2025-04-01 %s#%s|%s]]", suffix, anchor, suffix))
	}
}

func TestWriteDay_MergesKnownRecords(t *testing.T) {
	m, store := testMaterializer(t, allToggles())

	// A previously synced record that is not part of this batch.
	known := &state.Meta{
		ID:              "conv-old",
		Date:            "2025-04-01",
		Title:           "Earlier chat",
		Emoji:           "💬",
		Time:            "8:00 AM",
		Category:        "personal",
		StartedAt:       time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC),
		FinishedAt:      time.Date(2025, 4, 1, 8, 10, 0, 0, time.UTC),
		DurationMinutes: 10,
	}
	// The same ID arriving fresh must not duplicate.
	fresh := testRecord("conv-1", time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC), "Morning standup")
	staleMeta := state.MetaFromRecord(fresh, time.UTC)

	metas, err := m.WriteDay(Day{
		Date:     "2025-04-01",
		Records:  []*api.ConversationRecord{fresh},
		Known:    []*state.Meta{known, staleMeta},
		AllDates: []string{"2025-04-01"},
	})
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "conv-old", metas[0].ID, "entries sorted by start time")
	assert.Equal(t, "conv-1", metas[1].ID)

	index := readDoc(t, store, "Conversations/2025/04/01/2025-04-01.md")
	assert.Contains(t, index, "Earlier chat")
	assert.Contains(t, index, "conversations: 2")
	assert.Equal(t, 1, strings.Count(index, "Morning standup ("), "no duplicate entry for conv-1")

	// The meta-only record keeps its place with a placeholder body.
	overview := readDoc(t, store, "Conversations/2025/04/01/2025-04-01 Overview.md")
	assert.Contains(t, overview, "## 8:00 AM - 💬 Earlier chat")
	assert.Contains(t, overview, placeholderBody)
	assert.Contains(t, overview, "A discussion about Morning standup.")
}

func TestWriteDay_Idempotent(t *testing.T) {
	m, store := testMaterializer(t, allToggles())

	day := Day{
		Date: "2025-04-01",
		Records: []*api.ConversationRecord{
			testRecord("conv-1", time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC), "Morning standup"),
			testRecord("conv-2", time.Date(2025, 4, 1, 14, 30, 0, 0, time.UTC), "Design review"),
		},
		AllDates: []string{"2025-03-31", "2025-04-01"},
	}

	_, err := m.WriteDay(day)
	require.NoError(t, err)

	paths, err := store.List("Conversations")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	first := make(map[string]string, len(paths))
	for _, p := range paths {
		first[p] = readDoc(t, store, p)
	}

	_, err = m.WriteDay(day)
	require.NoError(t, err)

	for _, p := range paths {
		assert.Equal(t, first[p], readDoc(t, store, p), "%s changed on re-run", p)
	}
}

func TestWriteDay_DisabledTogglesSkipDocuments(t *testing.T) {
	m, store := testMaterializer(t, config.ContentToggles{Overview: true})

	_, err := m.WriteDay(Day{
		Date:     "2025-04-01",
		Records:  []*api.ConversationRecord{testRecord("conv-1", time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC), "Morning standup")},
		AllDates: []string{"2025-04-01"},
	})
	require.NoError(t, err)

	paths, err := store.List("Conversations")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Conversations/2025/04/01/2025-04-01 Overview.md",
		"Conversations/2025/04/01/2025-04-01.md",
	}, paths)

	index := readDoc(t, store, "Conversations/2025/04/01/2025-04-01.md")
	assert.NotContains(t, index, "Transcript")
}

func TestWriteIndex_Navigation(t *testing.T) {
	m, store := testMaterializer(t, allToggles())

	allDates := []string{"2025-03-30", "2025-03-31", "2025-04-01"}
	meta := &state.Meta{
		ID:              "conv-1",
		Date:            "2025-03-31",
		Title:           "Midday walk",
		Emoji:           "🚶",
		Time:            "12:00 PM",
		Category:        "personal",
		StartedAt:       time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC),
		FinishedAt:      time.Date(2025, 3, 31, 12, 30, 0, 0, time.UTC),
		DurationMinutes: 30,
	}

	require.NoError(t, m.WriteIndex("2025-03-31", []*state.Meta{meta}, allDates))

	index := readDoc(t, store, "Conversations/2025/03/31/2025-03-31.md")
	assert.Contains(t, index, "← [[2025-03-30]] | [[2025-04-01]] →")

	// First known day has no previous link.
	require.NoError(t, m.WriteIndex("2025-03-30", nil, allDates))
	first := readDoc(t, store, "Conversations/2025/03/30/2025-03-30.md")
	assert.NotContains(t, first, "←")
	assert.Contains(t, first, "[[2025-03-31]] →")
	assert.Contains(t, first, "*No conversations recorded.*")
}

func TestWriteDay_Frontmatter(t *testing.T) {
	m, store := testMaterializer(t, allToggles())

	rec := testRecord("conv-1", time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC), "Morning standup")
	rec.Geolocation = &api.Geolocation{
		Latitude:  52.5170,
		Longitude: 13.3889,
		Address:   "Unter den Linden 1, 10117 Berlin, Germany",
	}

	_, err := m.WriteDay(Day{
		Date:     "2025-04-01",
		Records:  []*api.ConversationRecord{rec},
		AllDates: []string{"2025-04-01"},
	})
	require.NoError(t, err)

	index := readDoc(t, store, "Conversations/2025/04/01/2025-04-01.md")
	assert.True(t, strings.HasPrefix(index, "---\n"), "frontmatter delimiter")
	assert.Regexp(t, `(?m)^date: "?2025-04-01"?$`, index)
	assert.Contains(t, index, "total_duration_minutes: 15")
	assert.Contains(t, index, "dominant_category: work")
	assert.Contains(t, index, "dominant_location: Berlin")
	assert.Contains(t, index, "- berlin")
	assert.Contains(t, index, "# Tuesday, April 1, 2025")
}

func TestSimplifyLocation(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"Unter den Linden 1, 10117 Berlin, Germany", "Berlin"},
		{"1 Market St, San Francisco, CA, USA", "CA"},
		{"Downtown", "Downtown"},
		{"Main St, Springfield", "Main St"},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.want, SimplifyLocation(tt.address))
		})
	}
}

func TestFormatOffset(t *testing.T) {
	assert.Equal(t, "0:00", formatOffset(0))
	assert.Equal(t, "0:12", formatOffset(12.5))
	assert.Equal(t, "2:05", formatOffset(125))
	assert.Equal(t, "10:00", formatOffset(600))
}
