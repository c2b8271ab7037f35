// Package syntax defines the positioned syntax tree produced by the parser.
// A Program is immutable once parsed.
package syntax

import (
	"fmt"

	"github.com/felixgeelhaar/apl/domain/expr"
)

// Pos is a 1-based line and column.
type Pos = expr.Pos

// Program is the top-level unit of one source file.
type Program struct {
	Name   string
	Meta   map[string]string
	Agents []*Agent
	Pos    Pos
}

// Version returns the program's declared version tag, if any.
func (p *Program) Version() string {
	return p.Meta["version"]
}

// Agent returns the agent with the given name, or nil.
func (p *Program) Agent(name string) *Agent {
	for _, a := range p.Agents {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Agent is a named collection of routines, capability declarations and
// external bindings.
type Agent struct {
	Name         string
	Params       []string
	Bindings     []Binding
	Capabilities []CapabilityDecl
	Uses         []Use
	Routines     []*Routine
	Pos          Pos
}

// Routine returns the routine with the given name, or nil.
func (a *Agent) Routine(name string) *Routine {
	for _, r := range a.Routines {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Binding returns the binding declared under alias.
func (a *Agent) Binding(alias string) (Binding, bool) {
	for _, b := range a.Bindings {
		if b.Alias == alias {
			return b, true
		}
	}
	return Binding{}, false
}

// Composes reports whether the agent declares `uses name`.
func (a *Agent) Composes(name string) bool {
	for _, u := range a.Uses {
		if u.Agent == name {
			return true
		}
	}
	return false
}

// Binding maps an alias to an external tool namespace and name.
type Binding struct {
	Namespace string
	Name      string
	Alias     string
	Pos       Pos
}

// Target returns "namespace.name".
func (b Binding) Target() string {
	return b.Namespace + "." + b.Name
}

// CapabilityDecl is a `capability NAME(params)` declaration.
type CapabilityDecl struct {
	Name   string
	Params map[string]string
	Pos    Pos
}

// Use is a `uses AGENT` sub-agent composition.
type Use struct {
	Agent string
	Pos   Pos
}

// Routine is a named sequence of steps.
type Routine struct {
	Name          string
	Params        []string
	Precondition  *Condition
	Postcondition *Condition
	Trigger       *Trigger
	Body          []*Step
	Pos           Pos
}

// Condition is a precondition or postcondition expression.
type Condition struct {
	Expr expr.Node
	Pos  Pos
}

// Trigger is external trigger metadata attached through a comment such as
// `# n8n: trigger webhook path="/x" method="POST"`.
type Trigger struct {
	Platform string
	Type     string
	Config   map[string]string
	Pos      Pos
}

// StepKind discriminates the step variants.
type StepKind string

const (
	StepAssign   StepKind = "assign"
	StepCall     StepKind = "call"
	StepAssert   StepKind = "assert"
	StepReturn   StepKind = "return"
	StepIf       StepKind = "if"
	StepFor      StepKind = "for"
	StepFallback StepKind = "fallback"
)

// Step is one statement of a routine body.
type Step struct {
	// ID is stable for a given source: "<agent>.<routine>@<line>".
	ID   string
	Kind StepKind
	Pos  Pos

	// Target is the variable receiving the result, if any.
	Target string

	// Expr is the expression of assign, assert, return and if steps.
	Expr expr.Node

	// Call is set for call and fallback steps.
	Call *Call

	// Requires lists explicit `requires capability.X` annotations.
	Requires []string

	// Retry is the number of extra attempts for a failed invocation.
	Retry int

	Then []*Step
	Else []*Step
	Loop *Loop

	// Text is the trimmed source line.
	Text string
}

// StepID builds the identifier of a step at the given line.
func StepID(agent, routine string, line int) string {
	return fmt.Sprintf("%s.%s@%d", agent, routine, line)
}

// Call is an invocation: a primitive (`store`), a binding operation
// (`crm.lookup`) or a sub-agent routine (`helper.run`).
type Call struct {
	// Receiver is the alias, namespace or agent before the dot; empty for
	// bare primitives.
	Receiver string
	// Name is the primitive or operation name.
	Name string
	Args []Arg
	Pos  Pos
}

// Callee returns the dotted call name.
func (c *Call) Callee() string {
	if c.Receiver == "" {
		return c.Name
	}
	return c.Receiver + "." + c.Name
}

// Arg is a call argument. Name is empty for positional arguments.
type Arg struct {
	Name  string
	Value expr.Node
	Pos   Pos
}

// Loop is a bounded `for` loop. Exactly one of Items or Range is set.
type Loop struct {
	Var   string
	Items []expr.Node
	Range *Range
	// Iterable holds the original iterable expression when it is neither a
	// list literal nor a literal range.
	Iterable expr.Node
	Pos      Pos
}

// Range is `range(start, end)` with literal bounds.
type Range struct {
	Start int64
	End   int64
}

// Count returns the number of iterations of a range.
func (r Range) Count() int64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Walk visits steps depth-first in source order.
func Walk(steps []*Step, fn func(*Step)) {
	for _, s := range steps {
		fn(s)
		Walk(s.Then, fn)
		Walk(s.Else, fn)
	}
}
