package application

import (
	"context"
	"errors"
	"testing"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/ir"
	"github.com/felixgeelhaar/apl/domain/run"
	"github.com/felixgeelhaar/apl/domain/trace"
	"github.com/felixgeelhaar/apl/infrastructure/storage/memory"
)

func TestReplay_Deterministic(t *testing.T) {
	t.Parallel()

	store := memory.NewRunStore()
	e, err := NewEngineWithOptions(
		WithRunStore(store),
		WithAllow(capability.Allowlist{"storage": {Allowed: true}}),
	)
	if err != nil {
		t.Fatalf("NewEngineWithOptions() error = %v", err)
	}
	exe := load(t, e, keeperSource)

	first, err := e.Run(context.Background(), exe, "keeper.save", map[string]any{"note": "hello"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	stored, err := store.Get(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	report, err := e.Replay(context.Background(), exe, stored)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if !report.Deterministic() {
		t.Errorf("Divergences = %v, want none", report.Divergences)
	}
	if report.Replayed.ID == first.ID {
		t.Error("replay reused the recorded run id")
	}
}

func TestReplay_DetectsDivergence(t *testing.T) {
	t.Parallel()

	allowed := newTestEngine(t, WithAllow(capability.Allowlist{"storage": {Allowed: true}}))
	exe := load(t, allowed, keeperSource)
	recorded, err := allowed.Run(context.Background(), exe, "keeper.save", map[string]any{"note": "hello"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	denied := newTestEngine(t)
	report, err := denied.Replay(context.Background(), exe, recorded)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if report.Deterministic() {
		t.Fatal("Deterministic() = true, want divergence after revoking storage")
	}

	fields := make(map[string]bool)
	for _, d := range report.Divergences {
		fields[d.Field] = true
	}
	for _, f := range []string{"capability_result", "status", "state"} {
		if !fields[f] {
			t.Errorf("divergent fields = %v, want %s", fields, f)
		}
	}
}

func TestReplay_HashMismatch(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	exe := load(t, e, keeperSource)

	_, err := e.Replay(context.Background(), exe, &run.Run{IRHash: "sha256:other", Routine: "keeper.save"})
	var he *ir.HashMismatchError
	if !errors.As(err, &he) {
		t.Fatalf("Replay() error = %v, want *ir.HashMismatchError", err)
	}
	if he.Computed != exe.Artifact().Hash {
		t.Errorf("Computed = %s, want %s", he.Computed, exe.Artifact().Hash)
	}
}

func TestDiffTraces(t *testing.T) {
	t.Parallel()

	a := []trace.Record{{StepID: "a.r@3", Status: trace.StatusOK}, {StepID: "a.r@4"}}
	b := []trace.Record{{StepID: "a.r@3", Status: trace.StatusFailed}}

	got := diffTraces(a, b)
	if len(got) != 2 {
		t.Fatalf("diffTraces() = %v, want 2 divergences", got)
	}
	if got[0].Field != "status" || got[1].Field != "record" || got[1].StepID != "a.r@4" {
		t.Errorf("diffTraces() = %v", got)
	}
}
