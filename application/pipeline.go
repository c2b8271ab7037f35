package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/apl/domain/run"
	"github.com/felixgeelhaar/apl/infrastructure/export/n8n"
	"github.com/felixgeelhaar/apl/infrastructure/logging"
)

// PipelineRequest describes one author, compile, export and run pass.
type PipelineRequest struct {
	Brief string
	// Source skips authoring when set.
	Source   string
	Attempts int
	// Routine limits the run stage to one "agent.routine"; empty runs
	// every routine in artifact order.
	Routine string
	// Args are passed to every routine run. Parameters missing from Args
	// are bound to none.
	Args map[string]any
	N8N  n8n.Options
}

// PipelineResult holds everything a pipeline pass produced.
type PipelineResult struct {
	// Authored is nil when the request carried source.
	Authored    *Authored
	Source      string
	Compilation *Compilation
	// Workflow is nil and WorkflowWarning set when the program has
	// nothing to export.
	Workflow        *n8n.Workflow
	WorkflowWarning string
	Runs            []*run.Run
}

// Failed returns the runs that did not complete.
func (r *PipelineResult) Failed() []*run.Run {
	var out []*run.Run
	for _, rr := range r.Runs {
		if rr.State != run.StateCompleted {
			out = append(out, rr)
		}
	}
	return out
}

// Pipeline authors a program from req.Brief (or takes req.Source),
// compiles it, exports its n8n workflow and runs its routines. Run
// failures are recorded in the result, not returned.
func (e *Engine) Pipeline(ctx context.Context, d Drafter, req PipelineRequest) (*PipelineResult, error) {
	res := &PipelineResult{Source: req.Source}

	if strings.TrimSpace(req.Source) == "" {
		if d == nil {
			return nil, fmt.Errorf("%w: no drafter for brief", ErrAuthoring)
		}
		authored, err := e.Author(ctx, d, req.Brief, req.Attempts)
		if err != nil {
			return nil, err
		}
		res.Authored = authored
		res.Source = authored.Source
		res.Compilation = authored.Compilation
	} else {
		c, err := e.Compile(ctx, req.Source)
		if err != nil {
			return nil, err
		}
		res.Compilation = c
	}

	wf, err := n8n.Export(res.Compilation.Program, req.N8N)
	if err != nil {
		res.WorkflowWarning = err.Error()
	} else {
		res.Workflow = wf
	}

	exe, err := e.Load(res.Compilation)
	if err != nil {
		return nil, err
	}

	routines := exe.Routines()
	if req.Routine != "" {
		routines = []string{req.Routine}
	}
	for _, routine := range routines {
		args, err := routineArgs(exe, routine, req.Args)
		if err != nil {
			return nil, err
		}
		r, err := e.Run(ctx, exe, routine, args)
		if r == nil {
			return nil, err
		}
		res.Runs = append(res.Runs, r)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
	}

	logging.Info().
		Add(logging.Component("pipeline")).
		Add(logging.Hash(res.Compilation.Artifact.Hash)).
		Add(logging.Count("runs", len(res.Runs))).
		Add(logging.Count("failed", len(res.Failed()))).
		Msg("pipeline finished")
	return res, nil
}

// routineArgs picks the parameters of routine from args and binds the
// missing ones to none.
func routineArgs(exe *Executable, routine string, args map[string]any) (map[string]any, error) {
	agent, name, _ := strings.Cut(routine, ".")
	entry := exe.art.Entry(agent, name)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", run.ErrUnknownRoutine, routine)
	}
	out := make(map[string]any, len(entry.Outputs))
	for _, p := range entry.Outputs {
		out[p] = args[p]
	}
	return out, nil
}
