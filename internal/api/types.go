// Package api provides the rate-limited HTTP client and wire types for the
// remote conversation service.
package api

import (
	"fmt"
	"time"
)

// ConversationRecord represents a single conversation as returned by the
// remote API. Records are immutable once fetched: the sync engine never
// mutates them, it only projects them into local documents. Action-item
// edits go through Client.Mutate, not through a record.
type ConversationRecord struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Structured is the summarized payload (title, overview, action items,
	// calendar events). It may be absent for very short recordings.
	Structured *Structured `json:"structured,omitempty"`

	// TranscriptSegments is the ordered transcript, oldest first.
	TranscriptSegments []TranscriptSegment `json:"transcript_segments,omitempty"`

	Geolocation *Geolocation `json:"geolocation,omitempty"`
}

// Structured holds the server-side summary of a conversation.
type Structured struct {
	Title       string          `json:"title"`
	Emoji       string          `json:"emoji"`
	Category    string          `json:"category"`
	Overview    string          `json:"overview"`
	ActionItems []ActionItem    `json:"action_items,omitempty"`
	Events      []CalendarEvent `json:"events,omitempty"`
}

// ActionItem is a single task extracted from a conversation.
type ActionItem struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// CalendarEvent is an event the server extracted from a conversation.
type CalendarEvent struct {
	Title       string    `json:"title"`
	StartsAt    time.Time `json:"starts_at"`
	Duration    int       `json:"duration"` // minutes
	Description string    `json:"description,omitempty"`
}

// TranscriptSegment is one utterance in a conversation transcript.
type TranscriptSegment struct {
	Speaker string  `json:"speaker,omitempty"`
	Start   float64 `json:"start"` // seconds from conversation start
	Text    string  `json:"text"`
}

// Geolocation records where a conversation took place.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Memory is a standalone fact stored by the remote service, managed via
// the /memories endpoints.
type Memory struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that a record carries the fields the sync engine relies on.
func (r *ConversationRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("started_at is required")
	}
	if r.FinishedAt.IsZero() {
		return fmt.Errorf("finished_at is required")
	}
	return nil
}

// Title returns the display title, falling back to a generic label for
// records without a structured payload.
func (r *ConversationRecord) Title() string {
	if r.Structured != nil && r.Structured.Title != "" {
		return r.Structured.Title
	}
	return "Untitled Conversation"
}

// Emoji returns the display emoji, with a fallback for unsummarized records.
func (r *ConversationRecord) Emoji() string {
	if r.Structured != nil && r.Structured.Emoji != "" {
		return r.Structured.Emoji
	}
	return "\U0001F4AC"
}

// Category returns the conversation category, or "other" when missing.
func (r *ConversationRecord) Category() string {
	if r.Structured != nil && r.Structured.Category != "" {
		return r.Structured.Category
	}
	return "other"
}

// DurationMinutes derives the conversation length from its start/finish
// timestamps. Always at least 1 minute so zero-length recordings still
// register in day totals.
func (r *ConversationRecord) DurationMinutes() int {
	mins := int(r.FinishedAt.Sub(r.StartedAt).Round(time.Minute) / time.Minute)
	if mins < 1 {
		return 1
	}
	return mins
}

// LocalDate returns the record's calendar date (YYYY-MM-DD) in the given
// time zone. Day bucketing uses CreatedAt, not StartedAt, matching how the
// remote service groups its own day views.
func (r *ConversationRecord) LocalDate(loc *time.Location) string {
	return r.CreatedAt.In(loc).Format("2006-01-02")
}
