package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/apl/application"
	"github.com/felixgeelhaar/apl/domain/policy"
	"github.com/felixgeelhaar/apl/domain/run"
)

// runOptions holds options for the run command.
type runOptions struct {
	allow      []string
	args       []string
	live       bool
	strict     bool
	traceOut   string
	timeout    time.Duration
	jsonOutput bool
}

// newRunCmd creates the run command.
func (a *App) newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <file> [agent.routine]",
		Short: "Run a routine of a program or artifact",
		Long: `Run one routine of a program source file or a compiled artifact (.json).

Capabilities are granted only when the program declares them and the
operator allows them. Without --live every tool call is answered by
deterministic simulated fixtures.

The routine may be omitted when the program has exactly one.

Examples:
  # Simulated run with a storage grant
  apl run keeper.apl keeper.save --allow storage --arg note=hello

  # Parameterized grant and JSON arguments
  apl run pay.apl billing.charge --allow "payments:limit=100" --arg amount=25

  # Live run recording the full trace
  apl run -c apl.yaml --live support.ir.json support.triage --trace-out run.json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			routine := ""
			if len(args) > 1 {
				routine = args[1]
			}
			return a.runRoutine(cmd.Context(), opts, args[0], routine)
		},
	}

	cmd.Flags().StringArrayVar(&opts.allow, "allow", nil, "Grant a capability: name, name=false or name:limit=10 (repeatable)")
	cmd.Flags().StringArrayVar(&opts.args, "arg", nil, "Routine argument key=value; values are parsed as JSON when possible (repeatable)")
	cmd.Flags().BoolVar(&opts.live, "live", false, "Call real integrations instead of simulated fixtures")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Reject lines that would become fallback model calls")
	cmd.Flags().StringVar(&opts.traceOut, "trace-out", "", "Write the run with its trace and audit trail as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Cancel the run after this duration")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func (a *App) runRoutine(ctx context.Context, opts *runOptions, file, routine string) error {
	args, err := parseArgs(opts.args)
	if err != nil {
		return err
	}

	rt, err := a.openRuntime(ctx, runtimeFlags{allow: opts.allow, live: opts.live, strict: opts.strict})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	exe, err := loadExecutable(ctx, rt.engine, file)
	if err != nil {
		return err
	}
	if routine == "" {
		routine, err = soleRoutine(exe)
		if err != nil {
			return err
		}
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	r, runErr := rt.engine.Run(ctx, exe, routine, args)
	if r == nil {
		return runErr
	}

	if opts.traceOut != "" {
		if err := a.writeOutput(opts.traceOut, func(w io.Writer) error {
			return encodeJSON(w, r)
		}); err != nil {
			return fmt.Errorf("write trace: %w", err)
		}
	}

	if opts.jsonOutput {
		if err := encodeJSON(a.stdout, runSummary(r)); err != nil {
			return err
		}
	} else {
		a.printRun(r)
	}

	if runErr != nil {
		return fmt.Errorf("run %s failed: %w", r.ID, runErr)
	}
	return nil
}

func (a *App) printRun(r *run.Run) {
	_, _ = fmt.Fprintf(a.stdout, "Run %s\n", r.State)
	_, _ = fmt.Fprintf(a.stdout, "  Run ID: %s\n", r.ID)
	_, _ = fmt.Fprintf(a.stdout, "  Routine: %s\n", r.Routine)
	_, _ = fmt.Fprintf(a.stdout, "  Mode: %s\n", r.Mode)
	_, _ = fmt.Fprintf(a.stdout, "  IR hash: %s\n", r.IRHash)
	_, _ = fmt.Fprintf(a.stdout, "  Steps: %d\n", len(r.Trace))
	_, _ = fmt.Fprintf(a.stdout, "  Duration: %s\n", r.Duration())

	for _, rec := range r.Audit {
		verdict := "allowed"
		if !rec.Allowed {
			verdict = "denied: " + rec.Reason
		}
		_, _ = fmt.Fprintf(a.stdout, "  Capability %s at %s: %s\n", rec.Capability, rec.StepID, verdict)
	}
	if r.Budget != nil {
		a.printBudget(r.Budget)
	}

	switch r.State {
	case run.StateCompleted:
		_, _ = fmt.Fprintf(a.stdout, "  Result: %s\n", formatJSON(r.Result))
	case run.StateFailed:
		_, _ = fmt.Fprintf(a.stdout, "  Error: %s\n", r.Error)
	}
}

func (a *App) printBudget(b *policy.BudgetSnapshot) {
	names := make([]string, 0, len(b.Limits))
	for name := range b.Limits {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(a.stdout, "  Budget %s: %s of %s spent\n", name,
			strconv.FormatFloat(b.Consumed[name], 'f', -1, 64),
			strconv.FormatFloat(b.Limits[name], 'f', -1, 64))
	}
	for _, name := range b.Exhausted {
		_, _ = fmt.Fprintf(a.stdout, "  Budget %s exhausted\n", name)
	}
}

// runSummary is the --json view of a run; the full trace goes to
// --trace-out.
func runSummary(r *run.Run) map[string]any {
	out := map[string]any{
		"run_id":   r.ID,
		"routine":  r.Routine,
		"mode":     r.Mode,
		"ir_hash":  r.IRHash,
		"state":    r.State,
		"steps":    len(r.Trace),
		"duration": r.Duration().String(),
	}
	if r.Result != nil {
		out["result"] = r.Result
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.Budget != nil {
		out["budget"] = r.Budget
	}
	return out
}

// parseArgs turns key=value flags into routine arguments. Values that are
// valid JSON keep their type; anything else is a string.
func parseArgs(entries []string) (map[string]any, error) {
	args := make(map[string]any, len(entries))
	for _, entry := range entries {
		key, raw, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q: want key=value", entry)
		}

		var v any
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil || dec.More() {
			v = raw
		}
		args[key] = v
	}
	return args, nil
}

func soleRoutine(exe *application.Executable) (string, error) {
	routines := exe.Routines()
	if len(routines) != 1 {
		return "", fmt.Errorf("%w: name one of %s", run.ErrUnknownRoutine, strings.Join(routines, ", "))
	}
	return routines[0], nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatJSON formats a value for display.
func formatJSON(v any) string {
	var buf bytes.Buffer
	if err := encodeJSON(&buf, v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSpace(buf.String())
}
