package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/run"
	"github.com/felixgeelhaar/apl/infrastructure/security/audit"
)

// errNoTraceBackend is returned by history commands without a trace store.
var errNoTraceBackend = errors.New("no trace backend configured (set trace.backend)")

type auditOptions struct {
	logPath    string
	jsonOutput bool
}

func (a *App) newAuditCmd() *cobra.Command {
	opts := &auditOptions{}

	cmd := &cobra.Command{
		Use:   "audit <run-id>",
		Short: "Show the capability audit trail of a run",
		Long: `Show every capability decision recorded for a run, in order.

The trail is read from the configured trace backend, or from a JSON lines
audit log with --log.

Examples:
  apl audit -c apl.yaml 3f2a...
  apl audit --log audit.jsonl 3f2a...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, err := a.loadTrail(cmd.Context(), opts, args[0])
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return encodeJSON(a.stdout, trail)
			}
			if len(trail) == 0 {
				_, _ = fmt.Fprintf(a.stdout, "No audit records for %s\n", args[0])
				return nil
			}
			for _, rec := range trail {
				verdict := "allowed"
				if !rec.Allowed {
					verdict = "denied (" + rec.Reason + ")"
				}
				_, _ = fmt.Fprintf(a.stdout, "%s  %-24s %-16s %s\n",
					rec.Timestamp.Format(time.RFC3339Nano), rec.StepID, rec.Capability, verdict)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.logPath, "log", "", "Read a JSON lines audit log instead of the trace backend")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output records as JSON")

	return cmd
}

func (a *App) loadTrail(ctx context.Context, opts *auditOptions, runID string) ([]capability.AuditRecord, error) {
	if opts.logPath != "" {
		f, err := os.Open(opts.logPath) // #nosec G304 -- path is an operator-supplied CLI argument
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		return audit.ReadTrail(f, runID)
	}

	rt, err := a.openRuntime(ctx, runtimeFlags{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = rt.Close(ctx) }()

	if rt.audits == nil {
		return nil, errNoTraceBackend
	}
	return rt.audits.Trail(ctx, runID)
}

type runsOptions struct {
	states []string
	hash   string
	limit  int
}

func (a *App) newRunsCmd() *cobra.Command {
	opts := &runsOptions{}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Long: `List runs from the configured trace backend, newest first, followed by
a summary of their outcomes.

Example:
  apl runs -c apl.yaml --state failed --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := a.openRuntime(ctx, runtimeFlags{})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(ctx) }()

			if rt.runs == nil {
				return errNoTraceBackend
			}

			filter := run.ListFilter{IRHash: opts.hash, Limit: opts.limit}
			for _, s := range opts.states {
				filter.States = append(filter.States, run.State(s))
			}
			runs, err := rt.runs.List(ctx, filter)
			if err != nil {
				return err
			}

			for _, r := range runs {
				_, _ = fmt.Fprintf(a.stdout, "%s  %-10s %-24s %s  %s\n",
					r.ID, r.State, r.Routine, r.StartTime.Format(time.RFC3339), r.Duration())
			}
			s := run.Summarize(runs, run.ListFilter{})
			_, _ = fmt.Fprintf(a.stdout, "%d runs, %d completed, %d failed, average %s\n",
				s.TotalRuns, s.CompletedRuns, s.FailedRuns, s.AverageDuration)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.states, "state", nil, "Filter by final state (completed, failed)")
	cmd.Flags().StringVar(&opts.hash, "ir-hash", "", "Filter by artifact hash")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "Maximum runs to list")

	return cmd
}
