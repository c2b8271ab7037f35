package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/apl/domain/run"
)

// ErrNondeterministic is returned when a replay diverges from its recording.
var ErrNondeterministic = errors.New("replay diverged from recorded run")

type replayOptions struct {
	tracePath string
	runID     string
	allow     []string
}

func (a *App) newReplayCmd() *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Rerun a recorded run and compare traces",
		Long: `Rerun a recorded run against the same program or artifact and report
every step whose outcome differs. Timestamps and attempt counts are not
compared.

The recording comes from a --trace-out file or, with --run-id, from the
configured trace store.

Examples:
  apl replay keeper.apl --trace run.json --allow storage
  apl replay -c apl.yaml support.ir.json --run-id 3f2a...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.replay(cmd.Context(), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.tracePath, "trace", "", "Recorded run written by run --trace-out")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Recorded run ID in the configured trace store")
	cmd.Flags().StringArrayVar(&opts.allow, "allow", nil, "Grant a capability (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("trace", "run-id")
	cmd.MarkFlagsOneRequired("trace", "run-id")

	return cmd
}

func (a *App) replay(ctx context.Context, opts *replayOptions, file string) error {
	rt, err := a.openRuntime(ctx, runtimeFlags{allow: opts.allow})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	prev, err := loadRecordedRun(ctx, rt, opts)
	if err != nil {
		return err
	}

	exe, err := loadExecutable(ctx, rt.engine, file)
	if err != nil {
		return err
	}

	report, err := rt.engine.Replay(ctx, exe, prev)
	if err != nil {
		return err
	}

	if report.Deterministic() {
		_, _ = fmt.Fprintf(a.stdout, "Replay of %s matched (%d steps)\n", prev.ID, len(prev.Trace))
		return nil
	}
	_, _ = fmt.Fprintf(a.stdout, "Replay of %s diverged at %d points\n", prev.ID, len(report.Divergences))
	for _, d := range report.Divergences {
		_, _ = fmt.Fprintf(a.stdout, "  %s\n", d)
	}
	return ErrNondeterministic
}

func loadRecordedRun(ctx context.Context, rt *runtime, opts *replayOptions) (*run.Run, error) {
	if opts.runID != "" {
		if rt.runs == nil {
			return nil, errors.New("--run-id needs a trace backend in the configuration")
		}
		return rt.runs.Get(ctx, opts.runID)
	}

	f, err := os.Open(opts.tracePath) // #nosec G304 -- path is an operator-supplied CLI argument
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r run.Run
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", opts.tracePath, err)
	}
	return &r, nil
}
