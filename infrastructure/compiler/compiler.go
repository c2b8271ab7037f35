// Package compiler checks parsed programs and lowers them into sealed IR
// artifacts.
package compiler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	apl "github.com/felixgeelhaar/apl"
	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/ir"
	"github.com/felixgeelhaar/apl/domain/syntax"
	"github.com/felixgeelhaar/apl/domain/tool"
)

// DefaultMaxLoopUnroll bounds the iterations a single loop may unroll to.
const DefaultMaxLoopUnroll = 64

// Binder resolves one agent binding to a registered descriptor. Failures
// are *tool.UnresolvedBindError.
type Binder interface {
	Bind(ctx context.Context, agent string, b syntax.Binding) (tool.Descriptor, error)
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithMaxLoopUnroll sets the loop unroll bound.
func WithMaxLoopUnroll(n int) Option {
	return func(c *Compiler) {
		c.maxUnroll = n
	}
}

// WithGenerator sets the generator tag recorded in artifacts.
func WithGenerator(g string) Option {
	return func(c *Compiler) {
		c.generator = g
	}
}

// Compiler lowers checked programs into IR.
type Compiler struct {
	binder    Binder
	maxUnroll int
	generator string
}

// New creates a compiler that resolves bindings through binder.
func New(binder Binder, opts ...Option) *Compiler {
	c := &Compiler{
		binder:    binder,
		maxUnroll: DefaultMaxLoopUnroll,
		generator: apl.Generator,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the output of a successful compile.
type Result struct {
	Artifact *ir.Artifact

	// Descriptors holds the descriptor of every tool the artifact invokes,
	// keyed by "namespace.name".
	Descriptors map[string]tool.Descriptor

	Diagnostics []syntax.Diagnostic
}

// Compile resolves the program's bindings, lowers every routine and seals
// the artifact. Unresolved bindings fail before any lowering happens.
func (c *Compiler) Compile(ctx context.Context, checked *Checked) (*Result, error) {
	prog := checked.Program
	l := &lowering{
		c:       c,
		checked: checked,
		bound:   make(map[string]tool.Descriptor),
		descs:   make(map[string]tool.Descriptor),
		edges:   make(map[ir.Edge]bool),
		art: &ir.Artifact{
			IRVersion: ir.Version,
			Generator: c.generator,
			Program:   prog.Name,
			Nodes:     []ir.Node{},
			Edges:     []ir.Edge{},
		},
	}

	for _, a := range prog.Agents {
		for _, b := range a.Bindings {
			d, err := c.bind(ctx, a.Name, b)
			if err != nil {
				return nil, err
			}
			l.bound[a.Name+"."+b.Alias] = d
		}
	}

	for _, a := range prog.Agents {
		for _, r := range a.Routines {
			if err := l.routine(a, r); err != nil {
				return nil, err
			}
		}
	}
	for _, n := range l.art.Nodes {
		if n.Kind != ir.KindCallAgent {
			continue
		}
		agent, routine, _ := strings.Cut(n.Call, ".")
		l.edge(n.ID, EntryID(agent, routine), ir.EdgeCall)
	}

	manifest := make(capability.Manifest)
	for _, a := range prog.Agents {
		manifest = manifest.Merge(checked.Declared[a.Name])
	}
	l.art.CapabilityManifest = manifest

	if err := l.art.Validate(); err != nil {
		return nil, err
	}
	if err := l.art.Seal(); err != nil {
		return nil, err
	}
	return &Result{
		Artifact:    l.art,
		Descriptors: l.descs,
		Diagnostics: append([]syntax.Diagnostic(nil), checked.Diagnostics...),
	}, nil
}

func (c *Compiler) bind(ctx context.Context, agent string, b syntax.Binding) (tool.Descriptor, error) {
	if c.binder == nil {
		return tool.Descriptor{}, &tool.UnresolvedBindError{Alias: b.Alias, Agent: agent, Target: b.Target(), Pos: b.Pos}
	}
	return c.binder.Bind(ctx, agent, b)
}

type lowering struct {
	c       *Compiler
	checked *Checked
	bound   map[string]tool.Descriptor
	descs   map[string]tool.Descriptor
	art     *ir.Artifact
	edges   map[ir.Edge]bool

	agent *syntax.Agent
	prev  string
}

// block carries the guards and loop iteration indices enclosing a step.
type block struct {
	guards []ir.GuardRef
	suffix []int
}

func (b block) id(stepID string) string {
	if len(b.suffix) == 0 {
		return stepID
	}
	parts := make([]string, len(b.suffix))
	for i, n := range b.suffix {
		parts[i] = strconv.Itoa(n)
	}
	return stepID + "#" + strings.Join(parts, ".")
}

func (b block) guarded(g ir.GuardRef) block {
	return block{guards: append(append([]ir.GuardRef(nil), b.guards...), g), suffix: b.suffix}
}

func (b block) iteration(i int) block {
	return block{guards: b.guards, suffix: append(append([]int(nil), b.suffix...), i)}
}

func (l *lowering) edge(from, to string, kind ir.EdgeKind) {
	e := ir.Edge{From: from, To: to, Kind: kind}
	if l.edges[e] {
		return
	}
	l.edges[e] = true
	l.art.Edges = append(l.art.Edges, e)
}

func (l *lowering) emit(n ir.Node) {
	l.art.Nodes = append(l.art.Nodes, n)
	if l.prev != "" {
		l.edge(l.prev, n.ID, ir.EdgeSeq)
	}
	for _, r := range n.Refs {
		l.edge(r.Node, n.ID, ir.EdgeData)
	}
	for _, in := range n.Inputs {
		for _, r := range in.Refs {
			l.edge(r.Node, n.ID, ir.EdgeData)
		}
	}
	for _, g := range n.Guards {
		l.edge(g.Node, n.ID, ir.EdgeGuard)
	}
	l.prev = n.ID
}

func (l *lowering) node(id string, kind ir.Kind, r *syntax.Routine, pos syntax.Pos, blk block) ir.Node {
	return ir.Node{
		ID:        id,
		Kind:      kind,
		Agent:     l.agent.Name,
		Routine:   r.Name,
		SourceRef: pos,
		Guards:    blk.guards,
	}
}

func (l *lowering) refs(id string, n expr.Node, s *scope) ([]ir.Ref, error) {
	var refs []ir.Ref
	for _, name := range expr.Names(n) {
		producers, ok := s.lookup(name)
		if !ok {
			return nil, &ir.ValidationError{NodeID: id, Pos: n.Position(), Message: "variable " + name + " is read before it is produced"}
		}
		for _, p := range producers {
			refs = append(refs, ir.Ref{Var: name, Node: p})
		}
	}
	return refs, nil
}

func (l *lowering) routine(a *syntax.Agent, r *syntax.Routine) error {
	l.agent = a
	l.prev = ""

	entry := l.node(EntryID(a.Name, r.Name), ir.KindEntry, r, r.Pos, block{})
	params := append(append([]string(nil), a.Params...), r.Params...)
	if len(params) > 0 {
		entry.Outputs = params
	}
	l.emit(entry)

	s := newScope()
	for _, p := range params {
		s.define(p, entry.ID)
	}

	if r.Precondition != nil {
		if err := l.condition(PreconditionID(a.Name, r.Name), ir.KindPrecondition, r, r.Precondition, s); err != nil {
			return err
		}
	}
	s, err := l.steps(r, r.Body, s, block{})
	if err != nil {
		return err
	}
	if r.Postcondition != nil {
		if _, ok := s.lookup(ResultVar); !ok {
			s.define(ResultVar)
		}
		if err := l.condition(PostconditionID(a.Name, r.Name), ir.KindPostcondition, r, r.Postcondition, s); err != nil {
			return err
		}
	}
	return nil
}

func (l *lowering) condition(id string, kind ir.Kind, r *syntax.Routine, cond *syntax.Condition, s *scope) error {
	n := l.node(id, kind, r, cond.Pos, block{})
	n.Expr = expr.Format(cond.Expr)
	refs, err := l.refs(id, cond.Expr, s)
	if err != nil {
		return err
	}
	n.Refs = refs
	l.emit(n)
	return nil
}

func (l *lowering) steps(r *syntax.Routine, steps []*syntax.Step, s *scope, blk block) (*scope, error) {
	for _, step := range steps {
		var err error
		if s, err = l.step(r, step, s, blk); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (l *lowering) step(r *syntax.Routine, step *syntax.Step, s *scope, blk block) (*scope, error) {
	id := blk.id(step.ID)

	switch step.Kind {
	case syntax.StepAssign, syntax.StepAssert, syntax.StepReturn, syntax.StepIf:
		n := l.node(id, exprKinds[step.Kind], r, step.Pos, blk)
		n.Expr = expr.Format(step.Expr)
		refs, err := l.refs(id, step.Expr, s)
		if err != nil {
			return nil, err
		}
		n.Refs = refs
		switch step.Kind {
		case syntax.StepAssign:
			n.Outputs = []string{step.Target}
		case syntax.StepReturn:
			n.Outputs = []string{ResultVar}
		}
		l.emit(n)

		switch step.Kind {
		case syntax.StepAssign:
			s.define(step.Target, id)
		case syntax.StepReturn:
			s.define(ResultVar, id)
		case syntax.StepIf:
			then, err := l.steps(r, step.Then, s.clone(), blk.guarded(ir.GuardRef{Node: id, When: true}))
			if err != nil {
				return nil, err
			}
			els, err := l.steps(r, step.Else, s.clone(), blk.guarded(ir.GuardRef{Node: id, When: false}))
			if err != nil {
				return nil, err
			}
			return merge(then, els), nil
		}
		return s, nil

	case syntax.StepFor:
		return l.loop(r, step, s, blk)

	case syntax.StepCall, syntax.StepFallback:
		return l.call(r, step, s, blk)
	}
	return nil, &ir.ValidationError{NodeID: id, Pos: step.Pos, Message: fmt.Sprintf("unknown step kind %q", step.Kind)}
}

func (l *lowering) loop(r *syntax.Routine, step *syntax.Step, s *scope, blk block) (*scope, error) {
	loop := step.Loop
	count := iterations(loop)
	switch {
	case count < 0:
		return nil, &ir.ValidationError{NodeID: blk.id(step.ID), Pos: step.Pos, Message: "loop bound is not a compile-time literal"}
	case count > int64(l.c.maxUnroll):
		return nil, &ir.ValidationError{NodeID: blk.id(step.ID), Pos: step.Pos,
			Message: fmt.Sprintf("loop unrolls to %d iterations, limit is %d", count, l.c.maxUnroll)}
	}

	outer := s
	for i := 0; i < int(count); i++ {
		iblk := blk.iteration(i)
		bind := l.node(iblk.id(step.ID), ir.KindBind, r, step.Pos, blk)
		bind.Outputs = []string{loop.Var}
		if loop.Range != nil {
			bind.Expr = strconv.FormatInt(loop.Range.Start+int64(i), 10)
		} else {
			item := loop.Items[i]
			bind.Expr = expr.Format(item)
			refs, err := l.refs(bind.ID, item, s)
			if err != nil {
				return nil, err
			}
			bind.Refs = refs
		}
		l.emit(bind)

		body := s.clone()
		body.define(loop.Var, bind.ID)
		after, err := l.steps(r, step.Then, body, iblk)
		if err != nil {
			return nil, err
		}
		after.restore(loop.Var, outer)
		s = after
	}
	return s, nil
}

func (l *lowering) call(r *syntax.Routine, step *syntax.Step, s *scope, blk block) (*scope, error) {
	a := l.agent
	id := blk.id(step.ID)
	target, err := classify(l.checked.Program, a, step)
	if err != nil {
		return nil, err
	}

	n := l.node(id, ir.KindTool, r, step.Pos, blk)
	n.Retry = step.Retry
	n.Fallback = step.Kind == syntax.StepFallback
	params := target.params()
	required := append([]string(nil), step.Requires...)

	switch target.kind {
	case calleePrimitive:
		n.Kind = primitiveKinds[step.Call.Name]
		n.Tool = &ir.ToolRef{Namespace: target.desc.Namespace, Name: target.desc.Name}
		l.descs[target.desc.Key()] = target.desc
		required = append(required, target.desc.RequiredCapabilities()...)
	case calleeBuiltin:
		n.Tool = &ir.ToolRef{Namespace: target.desc.Namespace, Name: target.desc.Name}
		l.descs[target.desc.Key()] = target.desc
		required = append(required, target.desc.RequiredCapabilities()...)
	case calleeBinding:
		d := l.bound[a.Name+"."+target.binding.Alias]
		if !d.AllowsOperation(step.Call.Name) {
			return nil, &syntax.NameError{StepID: step.ID, Name: step.Call.Callee(), Agent: a.Name, Pos: step.Call.Pos,
				Message: "operation not offered by " + d.Key()}
		}
		n.Tool = &ir.ToolRef{
			Namespace: target.binding.Namespace,
			Name:      target.binding.Name,
			Operation: step.Call.Name,
			Alias:     target.binding.Alias,
		}
		l.descs[d.Key()] = d
		params = d.ParamNames()
		required = append(required, d.RequiredCapabilities()...)
	case calleeAgent:
		n.Kind = ir.KindCallAgent
		n.Call = target.agent.Name + "." + target.routine.Name
	}

	if err := requireCapabilities(l.checked.Effective[a.Name], a, step, required); err != nil {
		return nil, err
	}
	n.CapabilityTags = sortedUnique(required)

	names, err := argNames(a, step, params)
	if err != nil {
		return nil, err
	}
	for i, arg := range step.Call.Args {
		refs, err := l.refs(id, arg.Value, s)
		if err != nil {
			return nil, err
		}
		n.Inputs = append(n.Inputs, ir.Input{Name: names[i], Expr: expr.Format(arg.Value), Refs: refs})
	}
	if step.Target != "" {
		n.Outputs = []string{step.Target}
	}
	l.emit(n)

	if step.Target != "" {
		s.define(step.Target, id)
	}
	return s, nil
}

var exprKinds = map[syntax.StepKind]ir.Kind{
	syntax.StepAssign: ir.KindAssign,
	syntax.StepAssert: ir.KindAssert,
	syntax.StepReturn: ir.KindReturn,
	syntax.StepIf:     ir.KindGuard,
}

var primitiveKinds = map[string]ir.Kind{
	tool.PrimitiveCallLLM: ir.KindCallLLM,
	tool.PrimitiveFetch:   ir.KindFetch,
	tool.PrimitiveStore:   ir.KindStore,
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
