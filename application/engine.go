// Package application wires the compile pipeline and the runtime
// dispatcher into a single engine.
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/ir"
	"github.com/felixgeelhaar/apl/domain/run"
	"github.com/felixgeelhaar/apl/domain/syntax"
	"github.com/felixgeelhaar/apl/domain/tool"
	domaintrace "github.com/felixgeelhaar/apl/domain/trace"
	"github.com/felixgeelhaar/apl/infrastructure/compiler"
	"github.com/felixgeelhaar/apl/infrastructure/logging"
	"github.com/felixgeelhaar/apl/infrastructure/observability"
	"github.com/felixgeelhaar/apl/infrastructure/parser"
	"github.com/felixgeelhaar/apl/infrastructure/proxy"
	"github.com/felixgeelhaar/apl/infrastructure/resilience"
	"github.com/felixgeelhaar/apl/infrastructure/resolver"
	"github.com/felixgeelhaar/apl/infrastructure/storage/memory"
)

// Engine compiles programs and runs their routines. An engine is safe for
// concurrent runs: each run gets its own context, grant set and trace.
type Engine struct {
	resolver   *resolver.Resolver
	overrides  resolver.Overrides
	factory    tool.Factory
	mode       run.Mode
	executor   *resilience.Executor
	allow      capability.Allowlist
	auditSinks []capability.AuditSink
	runs       run.Store
	strict     bool
	maxUnroll  int
	now        func() time.Time
	env        run.EnvLookup
	newID      func() string
	tracer     trace.Tracer
	metrics    *observability.Metrics
}

// EngineConfig contains configuration for the engine.
type EngineConfig struct {
	// Resolver resolves bindings and tool references. Defaults to an empty
	// in-memory registry.
	Resolver *resolver.Resolver

	// Overrides replace registered endpoints for this engine's runs.
	Overrides resolver.Overrides

	// Factory builds proxies. Defaults to simulated fixtures.
	Factory tool.Factory

	// Mode is recorded on runs. Defaults to simulated.
	Mode run.Mode

	Executor *resilience.Executor

	// Allow is the operator allow-list. Nothing is granted without it.
	Allow capability.Allowlist

	AuditSinks []capability.AuditSink

	// Runs persists finished runs when set.
	Runs run.Store

	// Strict rejects lines that would otherwise become model calls.
	Strict bool

	MaxLoopUnroll int

	Clock func() time.Time
	Env   run.EnvLookup
	IDs   func() string

	Tracer  trace.Tracer
	Metrics *observability.Metrics
}

// NewEngine creates a new engine with the given configuration.
func NewEngine(config EngineConfig) (*Engine, error) {
	e := &Engine{
		resolver:   config.Resolver,
		overrides:  config.Overrides,
		factory:    config.Factory,
		mode:       config.Mode,
		executor:   config.Executor,
		allow:      config.Allow,
		auditSinks: config.AuditSinks,
		runs:       config.Runs,
		strict:     config.Strict,
		maxUnroll:  config.MaxLoopUnroll,
		now:        config.Clock,
		env:        config.Env,
		newID:      config.IDs,
		tracer:     config.Tracer,
		metrics:    config.Metrics,
	}

	if e.resolver == nil {
		e.resolver = resolver.New(memory.NewToolRegistry())
	}
	if e.factory == nil {
		e.factory = proxy.NewSimulated()
	}
	if e.mode == "" {
		e.mode = run.ModeSimulated
	}
	if e.mode != run.ModeSimulated && e.mode != run.ModeLive {
		return nil, fmt.Errorf("unknown run mode %q", e.mode)
	}
	if e.executor == nil {
		e.executor = resilience.NewDefaultExecutor()
	}
	if e.allow == nil {
		e.allow = capability.Allowlist{}
	}
	if e.maxUnroll <= 0 {
		e.maxUnroll = compiler.DefaultMaxLoopUnroll
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.tracer == nil {
		e.tracer = tracenoop.NewTracerProvider().Tracer(observability.InstrumentationName)
	}

	return e, nil
}

// Resolver returns the engine's resolver.
func (e *Engine) Resolver() *resolver.Resolver {
	return e.resolver
}

// Compilation is the outcome of compiling one source file.
type Compilation struct {
	Program  *syntax.Program
	Artifact *ir.Artifact

	// Descriptors holds the resolved descriptor of every tool the artifact
	// invokes, keyed by "namespace.name".
	Descriptors map[string]tool.Descriptor

	Diagnostics []syntax.Diagnostic
}

// Parse parses source without checking it.
func (e *Engine) Parse(source string) (*syntax.Program, error) {
	return parser.New(parser.WithStrict(e.strict)).Parse(source)
}

// Compile parses, checks and compiles source. Any error blocks artifact
// generation.
func (e *Engine) Compile(ctx context.Context, source string) (*Compilation, error) {
	ctx, span := observability.StartSpan(ctx, e.tracer, "apl.compile")
	c, err := e.compile(ctx, source)
	observability.EndSpan(span, err)
	if err != nil {
		logging.Error().
			Add(logging.Component("compiler")).
			Add(logging.ErrorField(err)).
			Msg("compile failed")
		return nil, err
	}

	for _, d := range c.Diagnostics {
		logging.Warn().
			Add(logging.Component("compiler")).
			Add(logging.StepID(d.StepID)).
			Add(logging.Str("code", d.Code)).
			Msg(d.Message)
	}
	logging.Debug().
		Add(logging.Hash(c.Artifact.Hash)).
		Add(logging.Count("nodes", len(c.Artifact.Nodes))).
		Msg("program compiled")
	return c, nil
}

func (e *Engine) compile(ctx context.Context, source string) (*Compilation, error) {
	_, span := observability.StartSpan(ctx, e.tracer, "apl.parse")
	prog, err := e.Parse(source)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	_, span = observability.StartSpan(ctx, e.tracer, "apl.check")
	checked, err := compiler.Check(prog)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	c := compiler.New(e.resolver.Binder(e.overrides), compiler.WithMaxLoopUnroll(e.maxUnroll))
	res, err := c.Compile(ctx, checked)
	if err != nil {
		return nil, err
	}
	return &Compilation{
		Program:     prog,
		Artifact:    res.Artifact,
		Descriptors: res.Descriptors,
		Diagnostics: res.Diagnostics,
	}, nil
}

// Load builds an executable from a fresh compilation, reusing the
// descriptors resolved at compile time.
func (e *Engine) Load(c *Compilation) (*Executable, error) {
	proxies := make(map[string]tool.Proxy, len(c.Descriptors))
	for key, ref := range c.Artifact.ToolRefs() {
		d, ok := c.Descriptors[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", tool.ErrToolNotFound, ref.Key())
		}
		p, err := e.factory.NewProxy(d)
		if err != nil {
			return nil, fmt.Errorf("proxy for %s: %w", key, err)
		}
		proxies[key] = p
	}
	return newExecutable(c.Artifact, proxies)
}

// Prepare builds an executable from an artifact the engine did not just
// compile. The hash is recomputed and compared before anything else.
func (e *Engine) Prepare(ctx context.Context, art *ir.Artifact) (*Executable, error) {
	if err := art.Verify(); err != nil {
		return nil, err
	}
	if err := art.Validate(); err != nil {
		return nil, err
	}
	proxies, err := e.resolver.Proxies(ctx, art, e.overrides, e.factory)
	if err != nil {
		return nil, err
	}
	return newExecutable(art, proxies)
}

// Run invokes routine ("agent.routine") of exe with args. The returned run
// carries the trace up to the last evaluated step and, on failure, the
// terminal error, which is also returned.
func (e *Engine) Run(ctx context.Context, exe *Executable, routine string, args map[string]any) (*run.Run, error) {
	agent, name, ok := strings.Cut(routine, ".")
	if !ok || exe.art.Entry(agent, name) == nil {
		return nil, fmt.Errorf("%w: %s", run.ErrUnknownRoutine, routine)
	}

	id := e.newID()
	opts := []capability.ManagerOption{capability.WithClock(e.now)}
	for _, sink := range e.auditSinks {
		opts = append(opts, capability.WithAuditSink(sink))
	}
	caps := capability.NewManager(id, opts...)
	caps.Grant(exe.art.CapabilityManifest, e.allow)

	rc := run.NewContext(id, caps, domaintrace.New(id, domaintrace.WithClock(e.now)), e.now, e.env)
	rc.Mode = e.mode

	r := &run.Run{
		ID:        id,
		Program:   exe.art.Program,
		IRHash:    exe.art.Hash,
		Routine:   routine,
		Mode:      e.mode,
		Args:      args,
		State:     run.StatePending,
		StartTime: e.now(),
	}

	ctx, span := observability.StartSpan(ctx, e.tracer, "apl.run",
		observability.AttrRunID.String(id),
		observability.AttrIRHash.String(exe.art.Hash),
		observability.AttrRoutine.String(routine),
		observability.AttrMode.String(string(e.mode)),
	)

	logging.Info().
		Add(logging.RunID(id)).
		Add(logging.Routine(routine)).
		Add(logging.Hash(exe.art.Hash)).
		Add(logging.Str("mode", string(e.mode))).
		Msg("run started")

	d := &dispatcher{engine: e, exe: exe, rc: rc}
	result, err := d.routine(ctx, agent, name, args)

	r.EndTime = e.now()
	r.Trace = rc.Trace.Records()
	r.Audit = caps.Trail()
	if budget := caps.Budget(); !budget.Empty() {
		r.Budget = &budget
	}
	if err != nil {
		r.State = run.StateFailed
		r.Error = err.Error()
		logging.Error().
			Add(logging.RunID(id)).
			Add(logging.Routine(routine)).
			Add(logging.ErrorField(err)).
			Msg("run failed")
	} else {
		r.State = run.StateCompleted
		r.Result = result
		logging.Info().
			Add(logging.RunID(id)).
			Add(logging.Routine(routine)).
			Add(logging.Count("steps", len(r.Trace))).
			Add(logging.Duration(r.Duration())).
			Msg("run completed")
	}
	observability.EndSpan(span, err)

	if sinkErr := caps.SinkErr(); sinkErr != nil {
		logging.Warn().Add(logging.RunID(id)).Add(logging.ErrorField(sinkErr)).Msg("audit sink failed")
	}
	if e.metrics != nil {
		e.metrics.RecordRun(ctx, string(e.mode), string(r.State))
	}
	if e.runs != nil {
		if saveErr := e.runs.Save(context.WithoutCancel(ctx), r); saveErr != nil {
			logging.Warn().Add(logging.RunID(id)).Add(logging.ErrorField(saveErr)).Msg("failed to persist run")
			if err == nil {
				err = fmt.Errorf("persist run: %w", saveErr)
			} else {
				err = errors.Join(err, fmt.Errorf("persist run: %w", saveErr))
			}
		}
	}
	return r, err
}
