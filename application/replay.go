package application

import (
	"context"
	"fmt"
	"reflect"

	"github.com/felixgeelhaar/apl/domain/ir"
	"github.com/felixgeelhaar/apl/domain/run"
	"github.com/felixgeelhaar/apl/domain/trace"
)

// Divergence is one difference between a recorded run and its replay.
type Divergence struct {
	Seq      int    `json:"seq"`
	StepID   string `json:"step_id,omitempty"`
	Field    string `json:"field"`
	Recorded any    `json:"recorded"`
	Replayed any    `json:"replayed"`
}

func (d Divergence) String() string {
	return fmt.Sprintf("#%d %s: %s recorded %v, replayed %v", d.Seq, d.StepID, d.Field, d.Recorded, d.Replayed)
}

// ReplayReport compares a recorded run with a fresh run of the same
// artifact and arguments.
type ReplayReport struct {
	Recorded    *run.Run     `json:"-"`
	Replayed    *run.Run     `json:"-"`
	Divergences []Divergence `json:"divergences,omitempty"`
}

// Deterministic reports whether the replay matched the recording.
func (r *ReplayReport) Deterministic() bool {
	return len(r.Divergences) == 0
}

// Replay reruns prev against exe and reports where the traces differ.
// Timestamps and attempt counts are not compared. The executable must be
// built from the artifact prev ran against.
func (e *Engine) Replay(ctx context.Context, exe *Executable, prev *run.Run) (*ReplayReport, error) {
	if prev.IRHash != exe.art.Hash {
		return nil, &ir.HashMismatchError{Recorded: prev.IRHash, Computed: exe.art.Hash}
	}

	// A failed replay is compared like any other; only cancellation aborts.
	next, err := e.Run(ctx, exe, prev.Routine, prev.Args)
	if next == nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	report := &ReplayReport{Recorded: prev, Replayed: next}
	report.Divergences = diffTraces(prev.Trace, next.Trace)
	if prev.State != next.State {
		report.Divergences = append(report.Divergences, Divergence{
			Seq:      -1,
			Field:    "state",
			Recorded: prev.State,
			Replayed: next.State,
		})
	}
	return report, nil
}

func diffTraces(a, b []trace.Record) []Divergence {
	var out []Divergence
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		if i >= len(a) || i >= len(b) {
			d := Divergence{Seq: i, Field: "record"}
			if i < len(a) {
				d.StepID = a[i].StepID
				d.Recorded = a[i].StepID
			} else {
				d.StepID = b[i].StepID
				d.Replayed = b[i].StepID
			}
			out = append(out, d)
			continue
		}
		out = append(out, diffRecord(i, a[i], b[i])...)
	}
	return out
}

func diffRecord(seq int, a, b trace.Record) []Divergence {
	fields := []struct {
		name string
		x, y any
	}{
		{"step_id", a.StepID, b.StepID},
		{"kind", a.Kind, b.Kind},
		{"capability_result", a.CapabilityResult, b.CapabilityResult},
		{"tool_invoked", a.ToolInvoked, b.ToolInvoked},
		{"arguments", a.Arguments, b.Arguments},
		{"output_summary", a.OutputSummary, b.OutputSummary},
		{"status", a.Status, b.Status},
	}
	var out []Divergence
	for _, f := range fields {
		if reflect.DeepEqual(f.x, f.y) {
			continue
		}
		out = append(out, Divergence{Seq: seq, StepID: a.StepID, Field: f.name, Recorded: f.x, Replayed: f.y})
	}
	return out
}
