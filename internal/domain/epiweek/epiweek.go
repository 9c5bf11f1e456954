// Package epiweek maps calendar dates to epidemiological weeks.
//
// A week starts on Policy.WeekStart. Week 1 of epi-year Y is the week that
// contains the first Policy.Anchor weekday of January Y, so a date late in
// December can belong to week 1 of the following year and a date early in
// January can belong to the last week (52 or 53) of the previous one. The
// default policy is the MMWR convention used for Caribbean surveillance
// (Sunday start, Wednesday anchor: week 1 is the first week with at least
// four days in January).
package epiweek

import (
	"fmt"
	"strings"
	"time"
)

// Policy selects the week convention.
type Policy struct {
	WeekStart time.Weekday
	Anchor    time.Weekday
	// Location decides which calendar day an instant falls on. Nil means UTC.
	Location *time.Location
}

var (
	// MMWR weeks run Sunday to Saturday; week 1 holds the first Wednesday.
	MMWR = Policy{WeekStart: time.Sunday, Anchor: time.Wednesday}
	// ISO weeks run Monday to Sunday; week 1 holds the first Thursday.
	ISO = Policy{WeekStart: time.Monday, Anchor: time.Thursday}
)

// Week is one epi-week. Start is midnight UTC of the first civil day.
type Week struct {
	Year   int       `json:"year"`
	Number int       `json:"week"`
	Start  time.Time `json:"start"`
}

// End returns the last civil day of the week.
func (w Week) End() time.Time { return w.Start.AddDate(0, 0, 6) }

// Contains reports whether the civil date of d (in d's own location) lies
// within the week.
func (w Week) Contains(d time.Time) bool {
	day := civil(d)
	return !day.Before(w.Start) && !day.After(w.End())
}

// Before orders weeks chronologically.
func (w Week) Before(o Week) bool { return w.Start.Before(o.Start) }

// String returns the week label, e.g. "2024-W01". Labels sort
// lexicographically in chronological order.
func (w Week) String() string { return fmt.Sprintf("%04d-W%02d", w.Year, w.Number) }

// ParseLabel parses a label produced by Week.String into (year, number).
func ParseLabel(s string) (year, number int, err error) {
	if _, err := fmt.Sscanf(s, "%4d-W%2d", &year, &number); err != nil {
		return 0, 0, fmt.Errorf("invalid epi-week label %q: %w", s, err)
	}
	if number < 1 || number > 53 {
		return 0, 0, fmt.Errorf("invalid epi-week label %q: week out of range", s)
	}
	return year, number, nil
}

// Calendar computes epi-weeks under a fixed policy. It holds no mutable
// state and is safe for concurrent use.
type Calendar struct {
	policy Policy
	loc    *time.Location
}

func New(p Policy) *Calendar {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{policy: p, loc: loc}
}

// Policy returns the calendar's policy.
func (c *Calendar) Policy() Policy { return c.policy }

// Location returns the location used to resolve calendar days.
func (c *Calendar) Location() *time.Location { return c.loc }

// Of returns the epi-week containing t.
func (c *Calendar) Of(t time.Time) Week {
	day := civil(t.In(c.loc))
	start := day.AddDate(0, 0, -daysFrom(c.policy.WeekStart, day.Weekday()))
	anchor := start.AddDate(0, 0, daysFrom(c.policy.WeekStart, c.policy.Anchor))
	year := anchor.Year()
	first := c.firstWeekStart(year)
	return Week{
		Year:   year,
		Number: int(start.Sub(first).Hours()/24)/7 + 1,
		Start:  start,
	}
}

// OfDate returns the epi-week of d's calendar date as written, without
// converting d to the calendar's location. Use it for date-only values such
// as an onset date stored at midnight UTC.
func (c *Calendar) OfDate(d time.Time) Week {
	return c.Of(time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, c.loc))
}

// Next returns the week after w.
func (c *Calendar) Next(w Week) Week {
	return c.Of(time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day()+7, 12, 0, 0, 0, c.loc))
}

// Span returns every week from the week of from to the week of to,
// inclusive and in order. Arguments may be given in either order.
func (c *Calendar) Span(from, to time.Time) []Week {
	first, last := c.Of(from), c.Of(to)
	if last.Before(first) {
		first, last = last, first
	}
	var weeks []Week
	for w := first; !last.Before(w); w = c.Next(w) {
		weeks = append(weeks, w)
	}
	return weeks
}

// StartOf returns midnight, in the calendar's location, of the week's first day.
func (c *Calendar) StartOf(w Week) time.Time {
	return time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day(), 0, 0, 0, 0, c.loc)
}

// EndOf returns midnight, in the calendar's location, of the day after the
// week's last day. It is the exclusive upper bound of the week.
func (c *Calendar) EndOf(w Week) time.Time {
	return time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day()+7, 0, 0, 0, 0, c.loc)
}

func (c *Calendar) firstWeekStart(year int) time.Time {
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	firstAnchor := jan1.AddDate(0, 0, daysFrom(jan1.Weekday(), c.policy.Anchor))
	return firstAnchor.AddDate(0, 0, -daysFrom(c.policy.WeekStart, c.policy.Anchor))
}

// daysFrom returns how many days forward from weekday a lies weekday b.
func daysFrom(a, b time.Weekday) int {
	return (int(b) - int(a) + 7) % 7
}

func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
