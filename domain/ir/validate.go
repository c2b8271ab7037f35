package ir

import (
	"container/heap"
	"fmt"

	"github.com/felixgeelhaar/apl/domain/expr"
)

// Validate checks structural invariants: unique ids, known kinds, refs to
// earlier nodes of the same routine, resolvable sub-routine calls and an
// acyclic edge set.
func (a *Artifact) Validate() error {
	index := make(map[string]int, len(a.Nodes))
	entries := make(map[string]bool)

	for i, n := range a.Nodes {
		if n.ID == "" {
			return &ValidationError{Message: fmt.Sprintf("node %d has no id", i)}
		}
		if _, dup := index[n.ID]; dup {
			return &ValidationError{NodeID: n.ID, Pos: n.SourceRef, Message: "duplicate node id"}
		}
		index[n.ID] = i
		if !n.Kind.IsValid() {
			return &ValidationError{NodeID: n.ID, Pos: n.SourceRef, Message: fmt.Sprintf("unknown kind %q", n.Kind)}
		}
		if n.Kind == KindEntry {
			key := n.Agent + "." + n.Routine
			if entries[key] {
				return &ValidationError{NodeID: n.ID, Pos: n.SourceRef, Message: "routine " + key + " has two entry nodes"}
			}
			entries[key] = true
		}
	}

	for i, n := range a.Nodes {
		if err := a.validateNode(i, n, index); err != nil {
			return err
		}
		if n.Kind == KindCallAgent && !entries[n.Call] {
			return &ValidationError{NodeID: n.ID, Pos: n.SourceRef, Message: "call target " + n.Call + " has no entry"}
		}
	}

	for _, e := range a.Edges {
		if _, ok := index[e.From]; !ok {
			return &ValidationError{Message: fmt.Sprintf("edge from unknown node %s", e.From)}
		}
		if _, ok := index[e.To]; !ok {
			return &ValidationError{Message: fmt.Sprintf("edge to unknown node %s", e.To)}
		}
		if e.From == e.To {
			return &ValidationError{NodeID: e.From, Message: "self-referencing edge"}
		}
	}

	if _, err := TopoOrder(a.Nodes, a.Edges); err != nil {
		return err
	}
	return nil
}

func (a *Artifact) validateNode(i int, n Node, index map[string]int) error {
	fail := func(format string, args ...any) error {
		return &ValidationError{NodeID: n.ID, Pos: n.SourceRef, Message: fmt.Sprintf(format, args...)}
	}

	checkRefs := func(refs []Ref) error {
		for _, r := range refs {
			j, ok := index[r.Node]
			if !ok {
				return fail("reference to unknown node %s", r.Node)
			}
			if j >= i {
				return fail("variable %s is read before node %s produces it", r.Var, r.Node)
			}
			p := a.Nodes[j]
			if p.Agent != n.Agent || p.Routine != n.Routine {
				return fail("reference to node %s of another routine", r.Node)
			}
		}
		return nil
	}
	checkExpr := func(src string) error {
		if _, err := expr.Parse(src); err != nil {
			return fail("malformed expression %q: %v", src, err)
		}
		return nil
	}

	if err := checkRefs(n.Refs); err != nil {
		return err
	}
	for _, in := range n.Inputs {
		if err := checkExpr(in.Expr); err != nil {
			return err
		}
		if err := checkRefs(in.Refs); err != nil {
			return err
		}
	}
	for _, g := range n.Guards {
		j, ok := index[g.Node]
		if !ok || j >= i || a.Nodes[j].Kind != KindGuard {
			return fail("guard %s must be an earlier guard node", g.Node)
		}
	}

	switch n.Kind {
	case KindAssign, KindAssert, KindGuard, KindReturn, KindPrecondition, KindPostcondition, KindBind:
		if n.Expr == "" {
			return fail("%s node has no expression", n.Kind)
		}
		if err := checkExpr(n.Expr); err != nil {
			return err
		}
	case KindCallLLM, KindFetch, KindStore, KindTool:
		if n.Tool == nil {
			return fail("%s node has no tool reference", n.Kind)
		}
	case KindCallAgent:
		if n.Call == "" {
			return fail("call node has no target")
		}
	}
	return nil
}

// TopoOrder returns node ids in a topological order of edges. Ties are
// broken by position in nodes, so an already ordered artifact keeps its
// order.
func TopoOrder(nodes []Node, edges []Edge) ([]string, error) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}
	indeg := make([]int, len(nodes))
	out := make([][]int, len(nodes))
	for _, e := range edges {
		from, okF := index[e.From]
		to, okT := index[e.To]
		if !okF || !okT {
			continue
		}
		out[from] = append(out[from], to)
		indeg[to]++
	}

	ready := &intHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	order := make([]string, 0, len(nodes))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, nodes[i].ID)
		for _, j := range out[i] {
			indeg[j]--
			if indeg[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}
	if len(order) != len(nodes) {
		for i, d := range indeg {
			if d > 0 {
				return nil, &ValidationError{NodeID: nodes[i].ID, Pos: nodes[i].SourceRef, Message: "dependency cycle"}
			}
		}
	}
	return order, nil
}

type intHeap []int

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
