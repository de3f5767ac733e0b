package materialize

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jmcveigh/convosync/internal/state"
)

// Anchor returns the heading string for one record: "time - emoji title".
// Every document that mentions a record uses this exact string as its
// heading, and every cross-file link targets it. The bytes must match
// across all documents or the links break.
func Anchor(m *state.Meta) string {
	return fmt.Sprintf("%s - %s %s", m.Time, m.Emoji, m.Title)
}

// idComment is a machine-readable marker embedded right after each record
// heading so tooling can re-locate a section even if title or time
// formatting changes.
func idComment(id string) string {
	return fmt.Sprintf("<!-- record-id: %s -->", id)
}

// dayTitle renders a date as the human day header, e.g.
// "Tuesday, April 1, 2025".
func dayTitle(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 2, 2006")
}

// formatOffset renders a transcript offset in seconds as M:SS.
func formatOffset(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// SimplifyLocation reduces a full address to a short display form,
// typically the city segment. "Unter den Linden 1, 10117 Berlin, Germany"
// becomes "Berlin".
func SimplifyLocation(address string) string {
	parts := strings.Split(address, ",")
	var segment string
	if len(parts) >= 3 {
		segment = parts[len(parts)-2]
	} else {
		segment = parts[0]
	}
	segment = strings.TrimSpace(segment)

	// Drop a leading postal code.
	fields := strings.Fields(segment)
	for len(fields) > 1 && isNumericish(fields[0]) {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func isNumericish(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '-' {
			return false
		}
	}
	return len(s) > 0
}

// tagify converts a category or location into a frontmatter tag.
func tagify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	return s
}
