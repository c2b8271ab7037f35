package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/ir"
	"github.com/felixgeelhaar/apl/domain/run"
	"github.com/felixgeelhaar/apl/domain/tool"
	"github.com/felixgeelhaar/apl/domain/trace"
	"github.com/felixgeelhaar/apl/infrastructure/compiler"
	"github.com/felixgeelhaar/apl/infrastructure/logging"
	"github.com/felixgeelhaar/apl/infrastructure/observability"
	"github.com/felixgeelhaar/apl/infrastructure/statemachine"
)

// EnvPrefix marks a string argument resolved from the environment at
// invocation time.
const EnvPrefix = "env:"

// dispatcher executes the routines of one run. Steps run strictly one at
// a time; a sub-agent call runs to completion before its caller resumes.
type dispatcher struct {
	engine *Engine
	exe    *Executable
	rc     *run.Context
}

// frame holds the variables of one routine invocation.
type frame struct {
	vars     expr.Vars
	guards   map[string]bool
	returned bool
	result   any
}

// enabled reports whether every guard of n evaluated to the required
// outcome. A guard that never ran disables the node.
func (f *frame) enabled(n *ir.Node) bool {
	for _, g := range n.Guards {
		outcome, ok := f.guards[g.Node]
		if !ok || outcome != g.When {
			return false
		}
	}
	return true
}

func (d *dispatcher) routine(ctx context.Context, agent, name string, args map[string]any) (any, error) {
	key := agent + "." + name
	machine, err := statemachine.NewRoutineMachine()
	if err != nil {
		return nil, fmt.Errorf("failed to create state machine: %w", err)
	}
	interp := statemachine.NewInterpreter(machine, statemachine.NewContext(d.rc.ID, key, d.rc.Now))
	interp.Start()
	defer interp.Stop()

	fail := func(err error) (any, error) {
		_ = interp.Fail(err)
		return nil, err
	}

	f := &frame{vars: make(expr.Vars), guards: make(map[string]bool)}
	entry := d.exe.art.Entry(agent, name)
	for _, p := range entry.Outputs {
		v, ok := args[p]
		if !ok {
			return fail(&run.ArgumentError{Routine: key, Param: p})
		}
		f.vars[p] = expr.Normalize(v)
	}

	if err := interp.Begin(); err != nil {
		return nil, err
	}

	for _, id := range d.exe.orders[key] {
		n := d.exe.nodes[id]
		if n.Kind == ir.KindEntry {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("run cancelled before step %s: %w", id, err))
		}
		if f.returned && n.Kind != ir.KindPostcondition {
			continue
		}
		if !f.enabled(n) {
			d.rc.Trace.Append(d.record(n, trace.StatusSkipped))
			continue
		}
		if err := interp.Step(id); err != nil {
			return fail(err)
		}

		start := time.Now()
		err := d.step(ctx, n, f)
		if d.engine.metrics != nil {
			status := trace.StatusOK
			if err != nil {
				status = trace.StatusFailed
			}
			d.engine.metrics.RecordStep(ctx, string(n.Kind), string(status), time.Since(start))
		}
		if err != nil {
			logging.Error().
				Add(logging.RunID(d.rc.ID)).
				Add(logging.StepID(id)).
				Add(logging.Kind(string(n.Kind))).
				Add(logging.ErrorField(err)).
				Msg("step failed")
			return fail(err)
		}
	}

	if err := interp.Complete(); err != nil {
		return nil, err
	}
	return f.result, nil
}

func (d *dispatcher) record(n *ir.Node, status trace.Status) trace.Record {
	return trace.Record{
		StepID:  n.ID,
		Kind:    string(n.Kind),
		Agent:   n.Agent,
		Routine: n.Routine,
		Status:  status,
	}
}

func (d *dispatcher) step(ctx context.Context, n *ir.Node, f *frame) error {
	logging.Debug().
		Add(logging.RunID(d.rc.ID)).
		Add(logging.StepID(n.ID)).
		Add(logging.Kind(string(n.Kind))).
		Msg("step started")

	switch n.Kind {
	case ir.KindPrecondition, ir.KindPostcondition:
		return d.condition(n, f)
	case ir.KindAssign, ir.KindBind, ir.KindReturn, ir.KindGuard:
		return d.value(n, f)
	case ir.KindAssert:
		return d.assert(n, f)
	case ir.KindCallAgent:
		return d.callAgent(ctx, n, f)
	}
	if n.Kind.Invokes() {
		return d.invoke(ctx, n, f)
	}
	return &ir.ValidationError{NodeID: n.ID, Pos: n.SourceRef, Message: fmt.Sprintf("cannot execute node kind %q", n.Kind)}
}

// eval evaluates the expression of n, attributing failures to the node.
func (d *dispatcher) eval(n *ir.Node, src string, f *frame) (any, error) {
	v, err := expr.EvalString(src, f.vars)
	if err != nil {
		var ee *expr.EvaluationError
		if errors.As(err, &ee) && ee.StepID == "" {
			ee.StepID = n.ID
		}
		rec := d.record(n, trace.StatusFailed)
		rec.Error = err.Error()
		d.rc.Trace.Append(rec)
		return nil, err
	}
	return v, nil
}

func (d *dispatcher) value(n *ir.Node, f *frame) error {
	v, err := d.eval(n, n.Expr, f)
	if err != nil {
		return err
	}

	switch n.Kind {
	case ir.KindGuard:
		f.guards[n.ID] = expr.Truthy(v)
		v = f.guards[n.ID]
	case ir.KindReturn:
		f.vars[compiler.ResultVar] = v
		f.result = v
		f.returned = true
	default:
		for _, out := range n.Outputs {
			f.vars[out] = v
		}
	}

	rec := d.record(n, trace.StatusOK)
	rec.OutputSummary = trace.Summarize(v)
	d.rc.Trace.Append(rec)
	return nil
}

func (d *dispatcher) condition(n *ir.Node, f *frame) error {
	if n.Kind == ir.KindPostcondition {
		if _, ok := f.vars[compiler.ResultVar]; !ok {
			f.vars[compiler.ResultVar] = f.result
		}
	}
	v, err := d.eval(n, n.Expr, f)
	if err != nil {
		return err
	}
	if expr.Truthy(v) {
		rec := d.record(n, trace.StatusOK)
		rec.OutputSummary = trace.Summarize(true)
		d.rc.Trace.Append(rec)
		return nil
	}

	kind := run.Precondition
	if n.Kind == ir.KindPostcondition {
		kind = run.Postcondition
	}
	rec := d.record(n, trace.StatusFailed)
	rec.Condition = n.Expr
	err = &run.ConditionError{Kind: kind, StepID: n.ID, Condition: n.Expr, Pos: n.SourceRef}
	rec.Error = err.Error()
	d.rc.Trace.Append(rec)
	return err
}

func (d *dispatcher) assert(n *ir.Node, f *frame) error {
	v, err := d.eval(n, n.Expr, f)
	if err != nil {
		return err
	}
	if expr.Truthy(v) {
		rec := d.record(n, trace.StatusOK)
		rec.OutputSummary = trace.Summarize(true)
		d.rc.Trace.Append(rec)
		return nil
	}

	err = &run.AssertionError{StepID: n.ID, Condition: n.Expr, Pos: n.SourceRef}
	rec := d.record(n, trace.StatusFailed)
	rec.Condition = n.Expr
	rec.Error = err.Error()
	d.rc.Trace.Append(rec)
	return err
}

// arguments evaluates the inputs of n in declaration order.
func (d *dispatcher) arguments(n *ir.Node, f *frame) (map[string]any, error) {
	args := make(map[string]any, len(n.Inputs))
	for _, in := range n.Inputs {
		v, err := d.eval(n, in.Expr, f)
		if err != nil {
			return nil, err
		}
		args[in.Name] = v
	}
	return args, nil
}

// authorize consults the capability manager for every tag of n before
// any input is evaluated. Once every tag is granted, the amount input alone
// is evaluated so spend limits apply.
func (d *dispatcher) authorize(ctx context.Context, n *ir.Node, f *frame) (trace.Record, error) {
	rec := d.record(n, trace.StatusOK)
	if len(n.CapabilityTags) == 0 {
		return rec, nil
	}
	rec.CapabilityChecked = append([]string(nil), n.CapabilityTags...)

	for _, c := range n.CapabilityTags {
		if !d.rc.Capabilities.IsGranted(c) {
			err := d.checkCapabilities(ctx, n, &rec, nil)
			return rec, err
		}
	}

	var params capability.Params
	for _, in := range n.Inputs {
		if in.Name != capability.ParamAmount {
			continue
		}
		v, err := d.eval(n, in.Expr, f)
		if err != nil {
			return rec, err
		}
		switch amount := v.(type) {
		case int64, float64:
			params = capability.Params{capability.ParamAmount: expr.FormatValue(amount)}
		}
	}
	err := d.checkCapabilities(ctx, n, &rec, params)
	return rec, err
}

// checkCapabilities records a check for every tag of n and stops at the
// first denial.
func (d *dispatcher) checkCapabilities(ctx context.Context, n *ir.Node, rec *trace.Record, params capability.Params) error {
	for _, c := range n.CapabilityTags {
		decision := d.rc.Capabilities.Check(ctx, n.ID, c, params)
		logging.Debug().
			Add(logging.RunID(d.rc.ID)).
			Add(logging.StepID(n.ID)).
			Add(logging.Capability(c)).
			Add(logging.Allowed(decision.Allowed)).
			Msg("capability checked")
		if decision.Allowed {
			continue
		}

		if d.engine.metrics != nil {
			d.engine.metrics.RecordDenial(ctx, c)
		}
		err := &capability.Violation{StepID: n.ID, Capability: c, Reason: decision.Reason, Pos: n.SourceRef}
		rec.CapabilityResult = decision.Result()
		rec.Status = trace.StatusFailed
		rec.Error = err.Error()
		d.rc.Trace.Append(*rec)
		return err
	}
	rec.CapabilityResult = capability.Allow().Result()
	return nil
}

// resolveEnv replaces top-level env:NAME string arguments with their
// values. The trace keeps the references.
func (d *dispatcher) resolveEnv(n *ir.Node, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, k := range sortedKeys(args) {
		v := args[k]
		if s, ok := v.(string); ok && strings.HasPrefix(s, EnvPrefix) {
			name := strings.TrimPrefix(s, EnvPrefix)
			val, ok := d.rc.Env(name)
			if !ok {
				return nil, fmt.Errorf("step %s argument %s: %w: %s", n.ID, k, run.ErrUnsetEnv, name)
			}
			v = val
		}
		out[k] = v
	}
	return out, nil
}

func (d *dispatcher) invoke(ctx context.Context, n *ir.Node, f *frame) error {
	rec, err := d.authorize(ctx, n, f)
	if err != nil {
		return err
	}
	args, err := d.arguments(n, f)
	if err != nil {
		return err
	}
	rec.Arguments = args

	fail := func(err error) error {
		rec.Status = trace.StatusFailed
		rec.Error = err.Error()
		d.rc.Trace.Append(rec)
		return err
	}

	key := n.Tool.Key()
	p, ok := d.exe.Proxy(key)
	if !ok {
		return fail(fmt.Errorf("step %s: %w: %s", n.ID, tool.ErrToolNotFound, key))
	}
	resolved, err := d.resolveEnv(n, args)
	if err != nil {
		return fail(err)
	}
	if err := p.Descriptor().CheckArgs(resolved); err != nil {
		return fail(&tool.InvocationError{StepID: n.ID, Tool: key, Operation: n.Tool.Operation, Err: err})
	}

	invoked := key
	if n.Tool.Operation != "" {
		invoked += "." + n.Tool.Operation
	}
	rec.ToolInvoked = invoked

	ctx, span := observability.StartSpan(ctx, d.engine.tracer, "apl.step",
		observability.AttrRunID.String(d.rc.ID),
		observability.AttrStepID.String(n.ID),
		observability.AttrStepKind.String(string(n.Kind)),
		observability.AttrTool.String(invoked),
	)
	result, attempts, err := d.engine.executor.Invoke(ctx, p, tool.Invocation{
		StepID:    n.ID,
		Agent:     n.Agent,
		Routine:   n.Routine,
		Operation: n.Tool.Operation,
		Args:      resolved,
	}, n.Retry)
	span.SetAttributes(observability.AttrAttempts.Int(attempts))
	observability.EndSpan(span, err)

	rec.Attempts = attempts
	if err != nil {
		return fail(err)
	}
	v, err := result.Value()
	if err != nil {
		return fail(&tool.InvocationError{StepID: n.ID, Tool: key, Operation: n.Tool.Operation, Attempts: attempts, Err: err})
	}

	for _, out := range n.Outputs {
		f.vars[out] = v
	}
	rec.OutputSummary = trace.Summarize(v)
	d.rc.Trace.Append(rec)

	logging.Debug().
		Add(logging.RunID(d.rc.ID)).
		Add(logging.StepID(n.ID)).
		Add(logging.Tool(invoked)).
		Add(logging.Attempts(attempts)).
		Add(logging.Duration(result.Duration)).
		Msg("step finished")
	return nil
}

// callAgent runs a composed routine synchronously.
func (d *dispatcher) callAgent(ctx context.Context, n *ir.Node, f *frame) error {
	rec, err := d.authorize(ctx, n, f)
	if err != nil {
		return err
	}
	args, err := d.arguments(n, f)
	if err != nil {
		return err
	}

	agent, routine, _ := strings.Cut(n.Call, ".")
	v, err := d.routine(ctx, agent, routine, args)
	rec.Arguments = args
	if err != nil {
		rec.Status = trace.StatusFailed
		rec.Error = err.Error()
		d.rc.Trace.Append(rec)
		return fmt.Errorf("step %s: call %s: %w", n.ID, n.Call, err)
	}

	for _, out := range n.Outputs {
		f.vars[out] = v
	}
	rec.OutputSummary = trace.Summarize(v)
	d.rc.Trace.Append(rec)
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
