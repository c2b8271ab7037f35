package run

import (
	"context"
	"time"
)

// Store persists finished runs with their trace and audit trail.
// Implementations may be in-memory, SQLite, PostgreSQL or any other backend.
type Store interface {
	// Save persists a run. It fails with ErrRunExists if the ID is taken.
	Save(ctx context.Context, run *Run) error

	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (*Run, error)

	// List returns runs matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Run, error)

	// Delete removes a run by ID.
	Delete(ctx context.Context, id string) error
}

// ListFilter specifies criteria for listing runs.
type ListFilter struct {
	// States filters by final state (empty means all).
	States []State

	// IRHash filters by artifact hash.
	IRHash string

	// FromTime filters runs started after this time.
	FromTime time.Time

	// Limit is the maximum number of runs to return (0 = no limit).
	Limit int
}

// Matches reports whether r satisfies the filter.
func (f ListFilter) Matches(r *Run) bool {
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if r.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.IRHash != "" && r.IRHash != f.IRHash {
		return false
	}
	if !f.FromTime.IsZero() && r.StartTime.Before(f.FromTime) {
		return false
	}
	return true
}

// Summary aggregates stored runs.
type Summary struct {
	TotalRuns       int64         `json:"total_runs"`
	CompletedRuns   int64         `json:"completed_runs"`
	FailedRuns      int64         `json:"failed_runs"`
	AverageDuration time.Duration `json:"average_duration"`
}

// SummaryProvider is implemented by stores that can aggregate runs.
type SummaryProvider interface {
	Summary(ctx context.Context, filter ListFilter) (Summary, error)
}

// Summarize aggregates runs that match filter.
func Summarize(runs []*Run, filter ListFilter) Summary {
	var s Summary
	var total time.Duration
	for _, r := range runs {
		if !filter.Matches(r) {
			continue
		}
		s.TotalRuns++
		switch r.State {
		case StateCompleted:
			s.CompletedRuns++
		case StateFailed:
			s.FailedRuns++
		default:
			continue
		}
		total += r.Duration()
	}
	if finished := s.CompletedRuns + s.FailedRuns; finished > 0 {
		s.AverageDuration = total / time.Duration(finished)
	}
	return s
}
