package materialize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcveigh/convosync/internal/config"
	"github.com/jmcveigh/convosync/internal/state"
)

// Content document suffixes. A day's documents are named
// "<date>.md", "<date> Overview.md" and so on.
const (
	suffixOverview    = "Overview"
	suffixActionItems = "Action Items"
	suffixEvents      = "Events"
	suffixTranscript  = "Transcript"
)

// dayFrontmatter is the YAML block heading each day index document.
// Field order here is the order in the output.
type dayFrontmatter struct {
	Date                 string   `yaml:"date"`
	Conversations        int      `yaml:"conversations"`
	TotalDurationMinutes int      `yaml:"total_duration_minutes"`
	DominantCategory     string   `yaml:"dominant_category,omitempty"`
	DominantLocation     string   `yaml:"dominant_location,omitempty"`
	Tags                 []string `yaml:"tags"`
}

func renderIndex(date string, metas []*state.Meta, allDates []string, toggles config.ContentToggles) (string, error) {
	fm := buildFrontmatter(date, metas)
	fmBytes, err := yaml.Marshal(&fm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal frontmatter for %s: %w", date, err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fmBytes)
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s\n", dayTitle(date))

	if nav := navLine(date, allDates); nav != "" {
		b.WriteString("\n" + nav + "\n")
	}

	suffixes := enabledSuffixes(toggles)
	if len(suffixes) > 0 {
		b.WriteString("\n## Sections\n\n")
		for _, s := range suffixes {
			fmt.Fprintf(&b, "- [[%s %s|%s]]\n", date, s, s)
		}
	}

	b.WriteString("\n## Conversations\n\n")
	if len(metas) == 0 {
		b.WriteString("*No conversations recorded.*\n")
	}
	for _, m := range metas {
		fmt.Fprintf(&b, "- **%s** %s %s (%d min)", m.Time, m.Emoji, m.Title, m.DurationMinutes)
		for _, s := range suffixes {
			fmt.Fprintf(&b, " · [[%s %s#%s|%s]]", date, s, Anchor(m), s)
		}
		b.WriteString("\n")
		if m.OverviewSnippet != "" {
			fmt.Fprintf(&b, "  %s\n", m.OverviewSnippet)
		}
	}

	return b.String(), nil
}

func buildFrontmatter(date string, metas []*state.Meta) dayFrontmatter {
	fm := dayFrontmatter{
		Date:          date,
		Conversations: len(metas),
	}

	categories := map[string]int{}
	locations := map[string]int{}
	for _, m := range metas {
		fm.TotalDurationMinutes += m.DurationMinutes
		categories[m.Category]++
		if m.Geolocation != nil && m.Geolocation.Address != "" {
			locations[SimplifyLocation(m.Geolocation.Address)]++
		}
	}
	fm.DominantCategory = dominant(categories)
	fm.DominantLocation = dominant(locations)

	tags := map[string]bool{"conversations": true}
	for c := range categories {
		tags[tagify(c)] = true
	}
	for l := range locations {
		tags[tagify(l)] = true
	}
	for t := range tags {
		if t != "" {
			fm.Tags = append(fm.Tags, t)
		}
	}
	sort.Strings(fm.Tags)
	return fm
}

// dominant returns the most frequent key; ties break lexicographically so
// regeneration is stable.
func dominant(counts map[string]int) string {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}

// navLine renders the previous/next day links for a date given the sorted
// list of all known dates. Missing neighbors are simply omitted.
func navLine(date string, allDates []string) string {
	var prev, next string
	for i, d := range allDates {
		if d != date {
			continue
		}
		if i > 0 {
			prev = allDates[i-1]
		}
		if i < len(allDates)-1 {
			next = allDates[i+1]
		}
		break
	}

	var parts []string
	if prev != "" {
		parts = append(parts, fmt.Sprintf("← [[%s]]", prev))
	}
	if next != "" {
		parts = append(parts, fmt.Sprintf("[[%s]] →", next))
	}
	return strings.Join(parts, " | ")
}

func enabledSuffixes(t config.ContentToggles) []string {
	var out []string
	if t.Overview {
		out = append(out, suffixOverview)
	}
	if t.ActionItems {
		out = append(out, suffixActionItems)
	}
	if t.Events {
		out = append(out, suffixEvents)
	}
	if t.Transcript {
		out = append(out, suffixTranscript)
	}
	return out
}

// contentHeader starts every content document: a title and a link back to
// the day index.
func contentHeader(b *strings.Builder, date, suffix string) {
	fmt.Fprintf(b, "# %s · %s\n\n", suffix, dayTitle(date))
	fmt.Fprintf(b, "[[%s|← Back to day]]\n", date)
}

// recordHeading writes the shared anchor heading plus the machine-readable
// ID marker. Every content document carries a heading for every record on
// the day, even when that record has nothing to show in this document, so
// index links never dangle.
func recordHeading(b *strings.Builder, m *state.Meta) {
	fmt.Fprintf(b, "\n## %s\n%s\n\n", Anchor(m), idComment(m.ID))
}

func renderOverview(date string, entries []*entry) string {
	var b strings.Builder
	contentHeader(&b, date, suffixOverview)
	for _, e := range entries {
		recordHeading(&b, e.meta)
		switch {
		case e.rec == nil:
			b.WriteString(placeholderBody + "\n")
		case e.rec.Structured == nil || e.rec.Structured.Overview == "":
			b.WriteString("*No overview recorded.*\n")
		default:
			b.WriteString(strings.TrimSpace(e.rec.Structured.Overview) + "\n")
		}
	}
	return b.String()
}

func renderActionItems(date string, entries []*entry) string {
	var b strings.Builder
	contentHeader(&b, date, suffixActionItems)
	for _, e := range entries {
		recordHeading(&b, e.meta)
		switch {
		case e.rec == nil:
			b.WriteString(placeholderBody + "\n")
		case e.rec.Structured == nil || len(e.rec.Structured.ActionItems) == 0:
			b.WriteString("*No action items.*\n")
		default:
			for _, item := range e.rec.Structured.ActionItems {
				mark := " "
				if item.Completed {
					mark = "x"
				}
				fmt.Fprintf(&b, "- [%s] %s\n", mark, item.Description)
			}
		}
	}
	return b.String()
}

func renderEvents(date string, entries []*entry, loc *time.Location) string {
	var b strings.Builder
	contentHeader(&b, date, suffixEvents)
	for _, e := range entries {
		recordHeading(&b, e.meta)
		switch {
		case e.rec == nil:
			b.WriteString(placeholderBody + "\n")
		case e.rec.Structured == nil || len(e.rec.Structured.Events) == 0:
			b.WriteString("*No events.*\n")
		default:
			for _, ev := range e.rec.Structured.Events {
				fmt.Fprintf(&b, "- **%s** (%s, %d min)", ev.Title, ev.StartsAt.In(loc).Format("3:04 PM"), ev.Duration)
				if ev.Description != "" {
					fmt.Fprintf(&b, ": %s", ev.Description)
				}
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func renderTranscript(date string, entries []*entry) string {
	var b strings.Builder
	contentHeader(&b, date, suffixTranscript)
	for _, e := range entries {
		recordHeading(&b, e.meta)
		switch {
		case e.rec == nil:
			b.WriteString(placeholderBody + "\n")
		case len(e.rec.TranscriptSegments) == 0:
			b.WriteString("*No transcript.*\n")
		default:
			for i, seg := range e.rec.TranscriptSegments {
				speaker := seg.Speaker
				if speaker == "" {
					speaker = "Speaker"
				}
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "**%s** (%s): %s\n", speaker, formatOffset(seg.Start), strings.TrimSpace(seg.Text))
			}
		}
	}
	return b.String()
}
