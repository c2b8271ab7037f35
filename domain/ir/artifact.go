// Package ir defines the portable intermediate representation emitted by
// the compiler: a DAG of nodes and edges with capability annotations and a
// provenance hash.
package ir

import (
	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/syntax"
)

// Version is the IR format version. Consumers accept artifacts sharing the
// major version.
const Version = "1.0"

// Kind discriminates IR nodes.
type Kind string

const (
	KindEntry         Kind = "entry"
	KindPrecondition  Kind = "precondition"
	KindAssign        Kind = "assign"
	KindCallLLM       Kind = "call_llm"
	KindFetch         Kind = "fetch"
	KindStore         Kind = "store"
	KindTool          Kind = "tool"
	KindAssert        Kind = "assert"
	KindGuard         Kind = "guard"
	KindBind          Kind = "bind"
	KindCallAgent     Kind = "call_agent"
	KindReturn        Kind = "return"
	KindPostcondition Kind = "postcondition"
)

// IsValid reports whether k is a known node kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindEntry, KindPrecondition, KindAssign, KindCallLLM, KindFetch, KindStore,
		KindTool, KindAssert, KindGuard, KindBind, KindCallAgent, KindReturn, KindPostcondition:
		return true
	default:
		return false
	}
}

// Invokes reports whether nodes of kind k call through a proxy.
func (k Kind) Invokes() bool {
	switch k {
	case KindCallLLM, KindFetch, KindStore, KindTool:
		return true
	default:
		return false
	}
}

// EdgeKind discriminates IR edges.
type EdgeKind string

const (
	EdgeSeq   EdgeKind = "seq"
	EdgeData  EdgeKind = "data"
	EdgeGuard EdgeKind = "guard"
	EdgeCall  EdgeKind = "call"
)

// Ref points an input at the node that produced a variable.
type Ref struct {
	Var  string `json:"var"`
	Node string `json:"node"`
}

// Input is a named node input. Expr is canonical expression text; literals
// are expressions with no refs.
type Input struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
	Refs []Ref  `json:"refs,omitempty"`
}

// ToolRef names the proxy a node invokes.
type ToolRef struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Operation string `json:"operation,omitempty"`
	Alias     string `json:"alias,omitempty"`
}

// Key returns "namespace.name".
func (t ToolRef) Key() string {
	return t.Namespace + "." + t.Name
}

// GuardRef makes a node conditional on a guard node's outcome.
type GuardRef struct {
	Node string `json:"node"`
	When bool   `json:"when"`
}

// SourceRef is the source position a node was lowered from.
type SourceRef = syntax.Pos

// Node is one IR step.
type Node struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	Agent          string    `json:"agent"`
	Routine        string    `json:"routine"`
	Inputs         []Input   `json:"inputs,omitempty"`
	Outputs        []string  `json:"outputs,omitempty"`
	CapabilityTags []string  `json:"capability_tags,omitempty"`
	SourceRef      SourceRef `json:"source_ref"`

	// Expr is the condition or value expression of assign, assert, guard,
	// return, precondition and postcondition nodes.
	Expr string `json:"expr,omitempty"`
	// Refs resolves the variables read by Expr.
	Refs []Ref `json:"refs,omitempty"`

	Tool   *ToolRef   `json:"tool,omitempty"`
	Call   string     `json:"call,omitempty"`
	Guards []GuardRef `json:"guards,omitempty"`
	Retry  int        `json:"retry,omitempty"`
	// Fallback marks a model call synthesized from an unrecognized line.
	Fallback bool `json:"fallback,omitempty"`
}

// Edge is a dependency between two nodes.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Artifact is an immutable compiled program.
type Artifact struct {
	IRVersion          string              `json:"ir_version"`
	Generator          string              `json:"generator,omitempty"`
	Program            string              `json:"program,omitempty"`
	Nodes              []Node              `json:"nodes"`
	Edges              []Edge              `json:"edges"`
	CapabilityManifest capability.Manifest `json:"capability_manifest"`
	Hash               string              `json:"ir_hash"`
}

// Node returns the node with id, or nil.
func (a *Artifact) Node(id string) *Node {
	for i := range a.Nodes {
		if a.Nodes[i].ID == id {
			return &a.Nodes[i]
		}
	}
	return nil
}

// Entry returns the entry node of agent.routine, or nil.
func (a *Artifact) Entry(agent, routine string) *Node {
	for i := range a.Nodes {
		n := &a.Nodes[i]
		if n.Kind == KindEntry && n.Agent == agent && n.Routine == routine {
			return n
		}
	}
	return nil
}

// Routines returns the "agent.routine" keys of all compiled routines in
// artifact order.
func (a *Artifact) Routines() []string {
	var out []string
	for _, n := range a.Nodes {
		if n.Kind == KindEntry {
			out = append(out, n.Agent+"."+n.Routine)
		}
	}
	return out
}

// RoutineNodes returns the nodes of one routine in artifact order.
func (a *Artifact) RoutineNodes(agent, name string) []Node {
	var out []Node
	for _, n := range a.Nodes {
		if n.Agent == agent && n.Routine == name {
			out = append(out, n)
		}
	}
	return out
}

// ToolRefs returns the distinct tools invoked by the artifact, keyed by
// "namespace.name".
func (a *Artifact) ToolRefs() map[string]ToolRef {
	out := make(map[string]ToolRef)
	for _, n := range a.Nodes {
		if n.Tool != nil {
			out[n.Tool.Key()] = *n.Tool
		}
	}
	return out
}
