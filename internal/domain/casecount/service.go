package casecount

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/surveillance/internal/domain/epiweek"
	"github.com/ehr/surveillance/internal/platform/apperr"
)

// StatusLabeler resolves a status value to its display label. ok is false
// for unknown statuses.
type StatusLabeler func(status string) (label string, ok bool)

type Service struct {
	src    Source
	cal    *epiweek.Calendar
	labels StatusLabeler
	log    zerolog.Logger
}

func NewService(src Source, cal *epiweek.Calendar, labels StatusLabeler) *Service {
	return &Service{src: src, cal: cal, labels: labels, log: zerolog.Nop()}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.log = l }

// Calendar returns the calendar used to bucket cases.
func (s *Service) Calendar() *epiweek.Calendar { return s.cal }

// CaseCount counts the cases notified from the start of q.Start's epi-week
// to the end of q.End's epi-week.
func (s *Service) CaseCount(ctx context.Context, q Query) (*Table, error) {
	if q.Start.IsZero() {
		return nil, apperr.Required("start")
	}
	start, end := s.day(q.Start), s.day(q.Start)
	if q.End != nil && !q.End.IsZero() {
		end = s.day(*q.End)
	}
	if end.Before(start) {
		return nil, apperr.Invalid("end", "is before start")
	}

	status := AllStatuses
	if q.Status != "" {
		label, ok := s.labels(q.Status)
		if !ok {
			return nil, apperr.Invalid("status", fmt.Sprintf("%q is not a known status", q.Status))
		}
		status = label
	}

	weeks := s.cal.Span(start, end)
	from, to := s.cal.StartOf(weeks[0]), s.cal.EndOf(weeks[len(weeks)-1])
	cases, err := s.src.Cases(ctx, from, to, q.Status)
	if err != nil {
		return nil, fmt.Errorf("load cases: %w", err)
	}

	t := Tabulate(s.cal, weeks, cases)
	t.Status = status
	s.log.Debug().
		Str("from", t.Start).
		Str("to", t.End).
		Str("status", status).
		Int("cases", len(cases)).
		Int("weeks", len(t.Weeks)).
		Msg("case count tabulated")
	return t, nil
}

// day places the calendar date of d at noon in the calendar's location, so
// a date parsed as midnight UTC keeps its day.
func (s *Service) day(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, s.cal.Location())
}
