package analytics

import "time"

// Clock returns the current time. Aggregators take one so "today" can be
// pinned in tests.
type Clock func() time.Time

// DayWindow is the half-open interval [Start, End) covering one calendar day.
type DayWindow struct {
	Start time.Time
	End   time.Time
}

// DayWindowAt returns the calendar day containing t in loc. End is the
// midnight that starts the next day, so days shortened or lengthened by a
// DST transition are still covered exactly.
func DayWindowAt(t time.Time, loc *time.Location) DayWindow {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return DayWindow{Start: start, End: start.AddDate(0, 0, 1)}
}

// Contains reports whether t falls inside the window.
func (w DayWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
