// Package run defines routine runs, their per-run context and the
// persistence interface for finished runs.
package run

import (
	"time"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/policy"
	"github.com/felixgeelhaar/apl/domain/trace"
)

// State is the routine invocation state.
type State string

const (
	StatePending    State = "pending"
	StateEvaluating State = "evaluating"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Mode selects simulated or live proxies.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeLive      Mode = "live"
)

// Run is the outcome of one top-level routine invocation.
type Run struct {
	ID        string         `json:"id"`
	Program   string         `json:"program,omitempty"`
	IRHash    string         `json:"ir_hash"`
	Routine   string         `json:"routine"`
	Mode      Mode           `json:"mode"`
	Args      map[string]any `json:"args,omitempty"`
	State     State          `json:"state"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitempty"`

	Trace []trace.Record           `json:"trace"`
	Audit []capability.AuditRecord `json:"audit"`
	// Budget is the spend state of parameterized grants, if any.
	Budget *policy.BudgetSnapshot `json:"budget,omitempty"`
}

// Duration returns the run duration, or zero while running.
func (r *Run) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Succeeded reports whether the run completed.
func (r *Run) Succeeded() bool {
	return r.State == StateCompleted
}
