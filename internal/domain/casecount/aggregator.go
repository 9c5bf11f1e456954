// Package casecount tabulates notified cases by diagnosis and epi-week.
package casecount

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/ehr/surveillance/internal/domain/epiweek"
)

const (
	// Undiagnosed labels the row of cases without a diagnosis.
	Undiagnosed = "Undiagnosed"
	// AllStatuses labels a table that is not restricted to one status.
	AllStatuses = "All"
)

const dateLayout = "2006-01-02"

// Query selects the cases to count. End defaults to Start; Status "" counts
// every status.
type Query struct {
	Start  time.Time  `json:"start"`
	End    *time.Time `json:"end,omitempty"`
	Status string     `json:"status,omitempty"`
}

// Row holds the per-week counts of one diagnosis.
type Row struct {
	Diagnosis string         `json:"diagnosis"`
	Counts    map[string]int `json:"counts"`
	Total     int            `json:"total"`
}

// Table is the case-count report. Start is the first day covered and End
// the day after the last one. Weeks lists every column label in order.
type Table struct {
	Start      string         `json:"start"`
	End        string         `json:"end"`
	Status     string         `json:"status"`
	Weeks      []string       `json:"weeks"`
	Rows       []Row          `json:"rows"`
	WeekTotals map[string]int `json:"week_totals"`
	Total      int            `json:"total"`
}

// Count returns the cell for diagnosis and week, or 0.
func (t *Table) Count(diagnosis, week string) int {
	for _, r := range t.Rows {
		if r.Diagnosis == diagnosis {
			return r.Counts[week]
		}
	}
	return 0
}

// Tabulate buckets cases by diagnosis and by the epi-week of their onset,
// or of their notification when the onset is unknown. Every week in weeks
// appears in the table even when empty. A case outside weeks adds its own
// week instead of being dropped.
func Tabulate(cal *epiweek.Calendar, weeks []epiweek.Week, cases []Case) *Table {
	seed := lo.Map(weeks, func(w epiweek.Week, _ int) string { return w.String() })

	t := &Table{
		Status:     AllStatuses,
		Rows:       []Row{},
		WeekTotals: zeroed(seed),
	}
	if len(weeks) > 0 {
		t.Start = weeks[0].Start.Format(dateLayout)
		t.End = weeks[len(weeks)-1].End().AddDate(0, 0, 1).Format(dateLayout)
	}

	// Cases without a diagnosis group under the empty key so a pathology
	// that happens to be named like the label keeps its own row.
	byDiagnosis := lo.GroupBy(cases, func(c Case) string { return c.Diagnosis })
	names := lo.Keys(byDiagnosis)
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == "") != (names[j] == "") {
			return names[j] == ""
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		group := byDiagnosis[name]
		counts := zeroed(seed)
		perWeek := lo.CountValuesBy(group, func(c Case) string { return weekOf(cal, c) })
		for label, n := range perWeek {
			counts[label] += n
			t.WeekTotals[label] += n
		}
		t.Rows = append(t.Rows, Row{Diagnosis: lo.Ternary(name == "", Undiagnosed, name), Counts: counts, Total: len(group)})
	}

	t.Weeks = lo.Keys(t.WeekTotals)
	sort.Strings(t.Weeks)
	for _, r := range t.Rows {
		for _, w := range t.Weeks {
			if _, ok := r.Counts[w]; !ok {
				r.Counts[w] = 0
			}
		}
	}
	t.Total = lo.Sum(lo.Values(t.WeekTotals))
	return t
}

func weekOf(cal *epiweek.Calendar, c Case) string {
	if c.DateOnset != nil {
		return cal.OfDate(*c.DateOnset).String()
	}
	return cal.Of(c.DateNotified).String()
}

func zeroed(labels []string) map[string]int {
	return lo.SliceToMap(labels, func(l string) (string, int) { return l, 0 })
}
