package models

import "time"

// Event represents a calendar event.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID           string    // Store identifier, set only for events fetched from or written to a store
	UID          string    // The iCalendar UID
	Calendar     string    // The calendar the event was fetched from
	Summary      string    // Summary or title of the event
	Description  string    // Detailed description of the event
	Location     string    // Location of the event
	Start        EventTime // Start of the event
	End          EventTime // End of the event
	Organizer    *Person   // Organizer, owned by the source calendar's account
	Creator      *Person   // Creator, owned by the source calendar's account
	Status       string    // e.g. "confirmed", "tentative"
	Transparency string    // "opaque" or "transparent"
	Visibility   string    // "default", "public", "private", "confidential"
	Recurrence   []string  // RRULE, EXRULE, RDATE, EXDATE lines
}

// Person is an organizer or creator of an event.
type Person struct {
	Email       string
	DisplayName string
}

// EventTime is either an all-day date or a specific point in time.
type EventTime struct {
	Date     string // yyyy-mm-dd, set for all-day events
	DateTime string // RFC3339, set for timed events
	TimeZone string // IANA zone name, informational only
}

const dateLayout = "2006-01-02"

// DateTimeOf returns a timed EventTime for t.
func DateTimeOf(t time.Time) EventTime {
	return EventTime{DateTime: t.Format(time.RFC3339)}
}

// DateOf returns an all-day EventTime for the date of t.
func DateOf(t time.Time) EventTime {
	return EventTime{Date: t.Format(dateLayout)}
}

// IsZero reports whether neither a date nor a date-time is set.
func (t EventTime) IsZero() bool {
	return t.Date == "" && t.DateTime == ""
}

// AllDay reports whether t is a date without a time of day.
func (t EventTime) AllDay() bool {
	return t.Date != "" && t.DateTime == ""
}

// Time parses t into a time.Time. All-day values resolve to midnight UTC.
func (t EventTime) Time() (time.Time, error) {
	if t.AllDay() {
		return time.Parse(dateLayout, t.Date)
	}
	return time.Parse(time.RFC3339, t.DateTime)
}

// String returns the canonical form of t used for identity comparisons.
// Timed values are rendered in UTC so the same instant written with different
// offsets compares equal; unparseable values are kept verbatim.
func (t EventTime) String() string {
	switch {
	case t.IsZero():
		return ""
	case t.AllDay():
		return t.Date
	}
	parsed, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return t.DateTime
	}
	return parsed.UTC().Format(time.RFC3339)
}

// Equal reports whether t and o denote the same date or instant.
func (t EventTime) Equal(o EventTime) bool {
	return t.String() == o.String()
}

// Key identifies an occurrence: two events are the same occurrence iff their keys are equal.
type Key struct {
	Summary string
	Start   string
	End     string
}

// Key returns the identity key of e.
func (e Event) Key() Key {
	return Key{Summary: e.Summary, Start: e.Start.String(), End: e.End.String()}
}

// Valid reports whether e carries a summary, a start and an end.
func (e Event) Valid() bool {
	return e.Summary != "" && !e.Start.IsZero() && !e.End.IsZero()
}

// Clone returns a copy of e that shares no mutable state with it.
func (e Event) Clone() Event {
	c := e
	if e.Organizer != nil {
		p := *e.Organizer
		c.Organizer = &p
	}
	if e.Creator != nil {
		p := *e.Creator
		c.Creator = &p
	}
	if e.Recurrence != nil {
		c.Recurrence = append([]string(nil), e.Recurrence...)
	}
	return c
}
