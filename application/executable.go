package application

import (
	"slices"

	"github.com/felixgeelhaar/apl/domain/ir"
	"github.com/felixgeelhaar/apl/domain/tool"
)

// Executable is a verified artifact with one proxy per invoked tool. It is
// read-only and may be shared by concurrent runs.
type Executable struct {
	art     *ir.Artifact
	proxies map[string]tool.Proxy
	nodes   map[string]*ir.Node
	orders  map[string][]string
}

func newExecutable(art *ir.Artifact, proxies map[string]tool.Proxy) (*Executable, error) {
	x := &Executable{
		art:     art,
		proxies: proxies,
		nodes:   make(map[string]*ir.Node, len(art.Nodes)),
		orders:  make(map[string][]string),
	}
	for i := range art.Nodes {
		n := &art.Nodes[i]
		if err := checkTags(n, proxies); err != nil {
			return nil, err
		}
		x.nodes[n.ID] = n
	}
	for _, n := range art.Nodes {
		if n.Kind != ir.KindEntry {
			continue
		}
		order, err := ir.TopoOrder(art.RoutineNodes(n.Agent, n.Routine), art.Edges)
		if err != nil {
			return nil, err
		}
		x.orders[n.Agent+"."+n.Routine] = order
	}
	return x, nil
}

// checkTags rejects an invoking node whose capability tags do not cover
// what its tool requires, so a resealed artifact cannot skip a check.
func checkTags(n *ir.Node, proxies map[string]tool.Proxy) error {
	if !n.Kind.Invokes() {
		return nil
	}
	if n.Tool == nil {
		return &ir.ValidationError{NodeID: n.ID, Pos: n.SourceRef, Message: "invoking node without a tool"}
	}
	p, ok := proxies[n.Tool.Key()]
	if !ok {
		return &ir.ValidationError{NodeID: n.ID, Pos: n.SourceRef, Message: "no proxy for " + n.Tool.Key()}
	}
	for _, c := range p.Descriptor().RequiredCapabilities() {
		if !slices.Contains(n.CapabilityTags, c) {
			return &ir.ValidationError{NodeID: n.ID, Pos: n.SourceRef,
				Message: "capability " + c + " required by " + n.Tool.Key() + " is not tagged"}
		}
	}
	return nil
}

// Artifact returns the artifact being executed.
func (x *Executable) Artifact() *ir.Artifact {
	return x.art
}

// Routines returns the runnable "agent.routine" names.
func (x *Executable) Routines() []string {
	return x.art.Routines()
}

// Proxy returns the proxy for "namespace.name".
func (x *Executable) Proxy(key string) (tool.Proxy, bool) {
	p, ok := x.proxies[key]
	return p, ok
}
