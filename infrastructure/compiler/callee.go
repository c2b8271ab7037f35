package compiler

import (
	"fmt"

	"github.com/felixgeelhaar/apl/domain/syntax"
	"github.com/felixgeelhaar/apl/domain/tool"
)

type calleeKind int

const (
	calleePrimitive calleeKind = iota
	calleeBuiltin
	calleeBinding
	calleeAgent
)

// callee is a statically classified call target. Dispatch on ns.method is
// decided here, once, never by attribute lookup at run time.
type callee struct {
	kind    calleeKind
	desc    tool.Descriptor // primitive and builtin
	binding syntax.Binding
	agent   *syntax.Agent
	routine *syntax.Routine
}

// params returns the parameter order positional arguments map onto, if
// statically known.
func (c callee) params() []string {
	switch c.kind {
	case calleePrimitive, calleeBuiltin:
		return c.desc.ParamNames()
	case calleeAgent:
		return append(append([]string(nil), c.agent.Params...), c.routine.Params...)
	}
	return nil
}

func classify(prog *syntax.Program, a *syntax.Agent, step *syntax.Step) (callee, error) {
	call := step.Call
	nameErr := func(msg string) error {
		return &syntax.NameError{StepID: step.ID, Name: call.Callee(), Agent: a.Name, Pos: call.Pos, Message: msg}
	}

	if call.Receiver == "" {
		d, ok := tool.Primitive(call.Name)
		if !ok {
			return callee{}, nameErr("unknown primitive")
		}
		return callee{kind: calleePrimitive, desc: d}, nil
	}
	if b, ok := a.Binding(call.Receiver); ok {
		return callee{kind: calleeBinding, binding: b}, nil
	}
	if tool.IsBuiltinNamespace(call.Receiver) {
		d, ok := tool.Builtin(call.Receiver, call.Name)
		if !ok {
			return callee{}, nameErr(fmt.Sprintf("unknown %s operation", call.Receiver))
		}
		return callee{kind: calleeBuiltin, desc: d}, nil
	}
	if sub := prog.Agent(call.Receiver); sub != nil {
		if !a.Composes(sub.Name) {
			return callee{}, nameErr("agent is not composed via uses")
		}
		r := sub.Routine(call.Name)
		if r == nil {
			return callee{}, nameErr("unknown routine")
		}
		return callee{kind: calleeAgent, agent: sub, routine: r}, nil
	}
	return callee{}, nameErr("unknown callee")
}

// argNames maps each argument to its parameter name. Positional arguments
// take the callee's parameter order; surplus ones are named argN.
func argNames(a *syntax.Agent, step *syntax.Step, params []string) ([]string, error) {
	names := make([]string, len(step.Call.Args))
	seen := make(map[string]bool, len(names))
	for i, arg := range step.Call.Args {
		name := arg.Name
		if name == "" {
			if i < len(params) {
				name = params[i]
			} else {
				name = fmt.Sprintf("arg%d", i)
			}
		}
		if seen[name] {
			return nil, &syntax.NameError{StepID: step.ID, Name: name, Agent: a.Name, Pos: arg.Pos, Message: "duplicate argument"}
		}
		seen[name] = true
		names[i] = name
	}
	return names, nil
}

// checkArgs enforces a statically known parameter list: every required
// parameter is passed and no unknown one is.
func checkArgs(a *syntax.Agent, step *syntax.Step, names []string, params []string, required func(string) bool) error {
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p] = true
	}
	passed := make(map[string]bool, len(names))
	for i, n := range names {
		if !known[n] {
			return &syntax.NameError{StepID: step.ID, Name: n, Agent: a.Name, Pos: step.Call.Args[i].Pos, Message: "unknown argument to " + step.Call.Callee()}
		}
		passed[n] = true
	}
	for _, p := range params {
		if required(p) && !passed[p] {
			return &syntax.NameError{StepID: step.ID, Name: p, Agent: a.Name, Pos: step.Call.Pos, Message: "missing required argument to " + step.Call.Callee()}
		}
	}
	return nil
}

func (c callee) checkArgs(a *syntax.Agent, step *syntax.Step, names []string) error {
	switch c.kind {
	case calleePrimitive, calleeBuiltin:
		req := make(map[string]bool)
		for _, p := range c.desc.Params {
			req[p.Name] = p.Required
		}
		return checkArgs(a, step, names, c.desc.ParamNames(), func(p string) bool { return req[p] })
	case calleeAgent:
		return checkArgs(a, step, names, c.params(), func(string) bool { return true })
	}
	return nil
}
