// Package rollup rebuilds the vault's aggregate index document from synced
// metadata. The rebuild is a full regeneration after every successful sync
// run; it never reads record bodies, only the compact metadata rows, so a
// rebuild over years of history stays cheap.
package rollup

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcveigh/convosync/internal/materialize"
	"github.com/jmcveigh/convosync/internal/state"
	"github.com/jmcveigh/convosync/internal/vault"
)

const (
	// entriesPerGroup caps how many conversations are listed under each
	// category or location heading.
	entriesPerGroup = 5

	// maxLocations caps how many location groups appear.
	maxLocations = 10

	// indexName is the aggregate document, written at the folder root.
	indexName = "Index.md"
)

// Builder writes the aggregate index for a vault folder.
type Builder struct {
	store  vault.DocumentStore
	folder string
	logger *log.Logger
}

// New returns a Builder rooted at folder. A nil logger falls back to stderr.
func New(store vault.DocumentStore, folder string, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.New(os.Stderr, "[rollup] ", log.LstdFlags)
	}
	return &Builder{store: store, folder: folder, logger: logger}
}

// indexFrontmatter heads the aggregate index document.
type indexFrontmatter struct {
	Conversations        int `yaml:"conversations"`
	TotalDurationMinutes int `yaml:"total_duration_minutes"`
	Days                 int `yaml:"days"`
	Tags                 []string `yaml:"tags"`
}

// group is a named bucket of conversations, e.g. one category or one
// location.
type group struct {
	name  string
	metas []*state.Meta
}

// Rebuild regenerates the aggregate index from the full metadata set.
func (b *Builder) Rebuild(metas []*state.Meta) error {
	text, err := render(metas)
	if err != nil {
		return err
	}
	if err := b.store.EnsureFolder(b.folder); err != nil {
		return err
	}
	if err := b.store.Write(b.folder+"/"+indexName, text); err != nil {
		return fmt.Errorf("failed to write aggregate index: %w", err)
	}
	b.logger.Printf("rebuilt aggregate index: %d conversation(s)", len(metas))
	return nil
}

func render(metas []*state.Meta) (string, error) {
	fm := indexFrontmatter{
		Conversations: len(metas),
		Tags:          []string{"conversations", "index"},
	}
	days := map[string]bool{}
	for _, m := range metas {
		fm.TotalDurationMinutes += m.DurationMinutes
		days[m.Date] = true
	}
	fm.Days = len(days)

	fmBytes, err := yaml.Marshal(&fm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal index frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fmBytes)
	b.WriteString("---\n\n")
	b.WriteString("# Conversation Index\n")

	writeGroups(&b, "By Category", byCategory(metas), 0)
	writeGroups(&b, "By Location", byLocation(metas), maxLocations)
	writeMonths(&b, metas)

	return b.String(), nil
}

// writeGroups renders one grouped section. Groups arrive sorted by count
// descending; limit > 0 truncates the group list.
func writeGroups(b *strings.Builder, title string, groups []group, limit int) {
	if len(groups) == 0 {
		return
	}
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}

	fmt.Fprintf(b, "\n## %s\n", title)
	for _, g := range groups {
		fmt.Fprintf(b, "\n### %s (%d)\n\n", g.name, len(g.metas))
		shown := g.metas
		if len(shown) > entriesPerGroup {
			shown = shown[:entriesPerGroup]
		}
		for _, m := range shown {
			fmt.Fprintf(b, "- %s %s ([[%s]], %s)\n", m.Emoji, m.Title, m.Date, m.Time)
		}
		if rest := len(g.metas) - len(shown); rest > 0 {
			fmt.Fprintf(b, "- *and %d more*\n", rest)
		}
	}
}

func writeMonths(b *strings.Builder, metas []*state.Meta) {
	type monthStats struct {
		days  map[string]int
		count int
		mins  int
	}
	months := map[string]*monthStats{}
	for _, m := range metas {
		if len(m.Date) < 7 {
			continue
		}
		key := m.Date[:7]
		ms := months[key]
		if ms == nil {
			ms = &monthStats{days: map[string]int{}}
			months[key] = ms
		}
		ms.days[m.Date]++
		ms.count++
		ms.mins += m.DurationMinutes
	}
	if len(months) == 0 {
		return
	}

	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString("\n## By Month\n")
	for _, key := range keys {
		ms := months[key]
		fmt.Fprintf(b, "\n### %s (%d conversations, %d min)\n\n", monthTitle(key), ms.count, ms.mins)

		dates := make([]string, 0, len(ms.days))
		for d := range ms.days {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		for _, d := range dates {
			n := ms.days[d]
			noun := "conversations"
			if n == 1 {
				noun = "conversation"
			}
			fmt.Fprintf(b, "- [[%s]]: %d %s\n", d, n, noun)
		}
	}
}

func monthTitle(key string) string {
	t, err := time.Parse("2006-01", key)
	if err != nil {
		return key
	}
	return t.Format("January 2006")
}

// byCategory buckets metadata by category, most populous group first,
// entries newest first within each group. Ties break by name so
// regeneration is stable.
func byCategory(metas []*state.Meta) []group {
	return bucket(metas, func(m *state.Meta) string { return m.Category })
}

// byLocation buckets metadata by simplified location; records without a
// geolocation are skipped.
func byLocation(metas []*state.Meta) []group {
	return bucket(metas, func(m *state.Meta) string {
		if m.Geolocation == nil || m.Geolocation.Address == "" {
			return ""
		}
		return materialize.SimplifyLocation(m.Geolocation.Address)
	})
}

func bucket(metas []*state.Meta, keyOf func(*state.Meta) string) []group {
	byKey := map[string][]*state.Meta{}
	for _, m := range metas {
		key := keyOf(m)
		if key == "" {
			continue
		}
		byKey[key] = append(byKey[key], m)
	}

	groups := make([]group, 0, len(byKey))
	for name, members := range byKey {
		sort.Slice(members, func(i, j int) bool {
			if !members[i].StartedAt.Equal(members[j].StartedAt) {
				return members[i].StartedAt.After(members[j].StartedAt)
			}
			return members[i].ID < members[j].ID
		})
		groups = append(groups, group{name: name, metas: members})
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].metas) != len(groups[j].metas) {
			return len(groups[i].metas) > len(groups[j].metas)
		}
		return groups[i].name < groups[j].name
	})
	return groups
}
