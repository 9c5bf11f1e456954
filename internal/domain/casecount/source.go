package casecount

import (
	"context"
	"time"
)

// Case is the slice of a notification the aggregator needs.
type Case struct {
	Diagnosis    string
	DateOnset    *time.Time
	DateNotified time.Time
}

// Source fetches the cases reported in [from, to), optionally restricted to
// one status ("" for all). Results are ordered by diagnosis name, then onset.
type Source interface {
	Cases(ctx context.Context, from, to time.Time, status string) ([]Case, error)
}
