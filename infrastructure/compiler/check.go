package compiler

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/syntax"
)

// ResultVar is bound to the return value inside a postcondition.
const ResultVar = "result"

// Checked is a program that passed name resolution and the static
// capability check.
type Checked struct {
	Program *syntax.Program

	// Declared holds each agent's own capability declarations.
	Declared map[string]capability.Manifest

	// Effective holds each agent's declarations merged with those of every
	// agent it composes, transitively.
	Effective map[string]capability.Manifest

	Diagnostics []syntax.Diagnostic
}

// Check resolves names and verifies that every effectful step is covered by
// a capability reaching its call site. It never consults tool state.
func Check(prog *syntax.Program) (*Checked, error) {
	c := &checker{
		prog: prog,
		out: &Checked{
			Program:   prog,
			Declared:  make(map[string]capability.Manifest),
			Effective: make(map[string]capability.Manifest),
		},
	}
	if err := c.declarations(); err != nil {
		return nil, err
	}
	for _, a := range prog.Agents {
		c.out.Effective[a.Name] = c.effective(a.Name, make(map[string]bool))
	}
	for _, a := range prog.Agents {
		if err := c.agent(a); err != nil {
			return nil, err
		}
	}
	return c.out, nil
}

type checker struct {
	prog *syntax.Program
	out  *Checked
}

func (c *checker) declarations() error {
	seen := make(map[string]bool)
	for _, a := range c.prog.Agents {
		if seen[a.Name] {
			return &syntax.NameError{Name: a.Name, Agent: a.Name, Pos: a.Pos, Message: "duplicate agent"}
		}
		seen[a.Name] = true

		m := make(capability.Manifest)
		for _, d := range a.Capabilities {
			m = m.Merge(capability.Manifest{d.Name: capability.Params(d.Params)})
		}
		c.out.Declared[a.Name] = m
	}
	for _, a := range c.prog.Agents {
		for _, u := range a.Uses {
			if c.prog.Agent(u.Agent) == nil {
				return &syntax.NameError{Name: u.Agent, Agent: a.Name, Pos: u.Pos, Message: "uses unknown agent"}
			}
		}
	}
	return nil
}

func (c *checker) effective(name string, visiting map[string]bool) capability.Manifest {
	m := c.out.Declared[name].Clone()
	if m == nil {
		m = make(capability.Manifest)
	}
	visiting[name] = true
	for _, u := range c.prog.Agent(name).Uses {
		if visiting[u.Agent] {
			continue
		}
		m = m.Merge(c.effective(u.Agent, visiting))
	}
	return m
}

func (c *checker) agent(a *syntax.Agent) error {
	vars := variableNames(a)
	aliases := make(map[string]bool)
	for _, b := range a.Bindings {
		switch {
		case aliases[b.Alias]:
			return &syntax.NameError{Name: b.Alias, Agent: a.Name, Pos: b.Pos, Message: "duplicate binding alias"}
		case vars[b.Alias]:
			return &syntax.NameError{Name: b.Alias, Agent: a.Name, Pos: b.Pos, Message: "binding alias collides with variable"}
		case a.Composes(b.Alias):
			return &syntax.NameError{Name: b.Alias, Agent: a.Name, Pos: b.Pos, Message: "binding alias collides with composed agent"}
		}
		aliases[b.Alias] = true
	}

	routines := make(map[string]bool)
	for _, r := range a.Routines {
		if routines[r.Name] {
			return &syntax.NameError{Name: r.Name, Agent: a.Name, Pos: r.Pos, Message: "duplicate routine"}
		}
		routines[r.Name] = true
		if err := c.routine(a, r); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) routine(a *syntax.Agent, r *syntax.Routine) error {
	s := newScope()
	entry := EntryID(a.Name, r.Name)
	for _, p := range append(append([]string(nil), a.Params...), r.Params...) {
		if _, dup := s.lookup(p); dup {
			return &syntax.NameError{StepID: entry, Name: p, Agent: a.Name, Pos: r.Pos, Message: "duplicate parameter"}
		}
		s.define(p, entry)
	}

	if r.Precondition != nil {
		if err := c.expr(a, PreconditionID(a.Name, r.Name), r.Precondition.Expr, s); err != nil {
			return err
		}
	}
	if _, err := c.steps(a, r.Body, s); err != nil {
		return err
	}
	if r.Postcondition != nil {
		post := s.clone()
		post.define(ResultVar, returnMarker)
		if err := c.expr(a, PostconditionID(a.Name, r.Name), r.Postcondition.Expr, post); err != nil {
			return err
		}
	}
	return nil
}

// returnMarker stands in for the producer of the result variable.
const returnMarker = "return"

func (c *checker) steps(a *syntax.Agent, steps []*syntax.Step, s *scope) (*scope, error) {
	for _, step := range steps {
		var err error
		if s, err = c.step(a, step, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (c *checker) step(a *syntax.Agent, step *syntax.Step, s *scope) (*scope, error) {
	switch step.Kind {
	case syntax.StepAssign:
		if err := c.expr(a, step.ID, step.Expr, s); err != nil {
			return nil, err
		}
		s.define(step.Target, step.ID)

	case syntax.StepAssert, syntax.StepReturn:
		if err := c.expr(a, step.ID, step.Expr, s); err != nil {
			return nil, err
		}

	case syntax.StepIf:
		if err := c.expr(a, step.ID, step.Expr, s); err != nil {
			return nil, err
		}
		then, err := c.steps(a, step.Then, s.clone())
		if err != nil {
			return nil, err
		}
		els, err := c.steps(a, step.Else, s.clone())
		if err != nil {
			return nil, err
		}
		return merge(then, els), nil

	case syntax.StepFor:
		loop := step.Loop
		for _, item := range loop.Items {
			if err := c.expr(a, step.ID, item, s); err != nil {
				return nil, err
			}
		}
		if loop.Iterable != nil {
			if err := c.expr(a, step.ID, loop.Iterable, s); err != nil {
				return nil, err
			}
		}
		body := s.clone()
		body.define(loop.Var, step.ID)
		after, err := c.steps(a, step.Then, body)
		if err != nil {
			return nil, err
		}
		if iterations(loop) <= 0 {
			return s, nil
		}
		after.restore(loop.Var, s)
		return after, nil

	case syntax.StepCall, syntax.StepFallback:
		if err := c.call(a, step, s); err != nil {
			return nil, err
		}
		if step.Target != "" {
			s.define(step.Target, step.ID)
		}
		if step.Kind == syntax.StepFallback {
			c.out.Diagnostics = append(c.out.Diagnostics, syntax.Diagnostic{
				Code:     syntax.CodeFallbackModelCall,
				Severity: syntax.SeverityWarning,
				StepID:   step.ID,
				Pos:      step.Pos,
				Message:  fmt.Sprintf("line matches no statement form, compiled as call_llm(prompt=%q)", step.Text),
			})
		}

	default:
		return nil, fmt.Errorf("step %s: unknown step kind %q", step.ID, step.Kind)
	}
	return s, nil
}

func (c *checker) call(a *syntax.Agent, step *syntax.Step, s *scope) error {
	for _, arg := range step.Call.Args {
		if err := c.expr(a, step.ID, arg.Value, s); err != nil {
			return err
		}
	}
	target, err := classify(c.prog, a, step)
	if err != nil {
		return err
	}
	names, err := argNames(a, step, target.params())
	if err != nil {
		return err
	}
	if err := target.checkArgs(a, step, names); err != nil {
		return err
	}

	required := append([]string(nil), step.Requires...)
	if target.kind == calleePrimitive || target.kind == calleeBuiltin {
		required = append(required, target.desc.RequiredCapabilities()...)
	}
	return requireCapabilities(c.out.Effective[a.Name], a, step, required)
}

func requireCapabilities(effective capability.Manifest, a *syntax.Agent, step *syntax.Step, required []string) error {
	if missing := effective.Missing(required); len(missing) > 0 {
		return &capability.CapabilityError{StepID: step.ID, Capability: missing[0], Agent: a.Name, Pos: step.Pos}
	}
	return nil
}

// expr validates n against the evaluable grammar and resolves every
// variable it reads, including template slots.
func (c *checker) expr(a *syntax.Agent, stepID string, n expr.Node, s *scope) error {
	if err := expr.Validate(n); err != nil {
		var ee *expr.EvaluationError
		if errors.As(err, &ee) {
			ee.StepID = stepID
		}
		return err
	}
	for _, name := range expr.Names(n) {
		if _, ok := s.lookup(name); !ok {
			return &syntax.NameError{StepID: stepID, Name: name, Agent: a.Name, Pos: n.Position(), Message: "undeclared variable"}
		}
	}
	return nil
}

// variableNames collects every name an agent binds as a variable.
func variableNames(a *syntax.Agent) map[string]bool {
	vars := make(map[string]bool)
	for _, p := range a.Params {
		vars[p] = true
	}
	for _, r := range a.Routines {
		for _, p := range r.Params {
			vars[p] = true
		}
		syntax.Walk(r.Body, func(s *syntax.Step) {
			if s.Target != "" {
				vars[s.Target] = true
			}
			if s.Loop != nil {
				vars[s.Loop.Var] = true
			}
		})
	}
	return vars
}

// iterations returns the statically known iteration count of a loop, or
// -1 when the bound is not a literal.
func iterations(l *syntax.Loop) int64 {
	switch {
	case l.Range != nil:
		return l.Range.Count()
	case l.Iterable != nil:
		return -1
	default:
		return int64(len(l.Items))
	}
}

// PreconditionID is the id of a routine's precondition node.
func PreconditionID(agent, routine string) string {
	return agent + "." + routine + "@pre"
}

// PostconditionID is the id of a routine's postcondition node.
func PostconditionID(agent, routine string) string {
	return agent + "." + routine + "@post"
}

// EntryID is the id of a routine's entry node.
func EntryID(agent, routine string) string {
	return agent + "." + routine + "@entry"
}
