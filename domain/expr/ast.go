// Package expr implements the restricted expression language used by
// routine steps: the lexer, the parser, canonical formatting and the
// evaluator.
//
// The parser accepts a slightly larger grammar than the evaluator so that
// disallowed constructs (attribute access, subscripts, arbitrary calls)
// are reported as evaluation errors with a position instead of as syntax
// errors.
package expr

// Node is an expression tree node.
type Node interface {
	Position() Pos
	node()
}

// Literal is a scalar constant: nil, bool, int64, float64 or string.
type Literal struct {
	Value any
	// Slots lists the {{name}} template slots of a string literal in order
	// of appearance.
	Slots []string
	Pos   Pos
}

// Ident references a bound variable.
type Ident struct {
	Name string
	Pos  Pos
}

// List is a list literal.
type List struct {
	Elems []Node
	Pos   Pos
}

// Map is a map literal. Keys must evaluate to strings.
type Map struct {
	Keys   []Node
	Values []Node
	Pos    Pos
}

// Unary is a prefix operation: "-" or "not".
type Unary struct {
	Op  string
	X   Node
	Pos Pos
}

// Binary is an infix operation.
type Binary struct {
	Op  string
	X   Node
	Y   Node
	Pos Pos
}

// Call is a function call. Only len(x) is evaluable.
type Call struct {
	Func Node
	Args []Node
	Pos  Pos
}

// Attr is attribute access (x.name). Never evaluable.
type Attr struct {
	X    Node
	Name string
	Pos  Pos
}

// Index is a subscript (x[i]). Never evaluable.
type Index struct {
	X     Node
	Index Node
	Pos   Pos
}

func (n *Literal) Position() Pos { return n.Pos }
func (n *Ident) Position() Pos   { return n.Pos }
func (n *List) Position() Pos    { return n.Pos }
func (n *Map) Position() Pos     { return n.Pos }
func (n *Unary) Position() Pos   { return n.Pos }
func (n *Binary) Position() Pos  { return n.Pos }
func (n *Call) Position() Pos    { return n.Pos }
func (n *Attr) Position() Pos    { return n.Pos }
func (n *Index) Position() Pos   { return n.Pos }

func (*Literal) node() {}
func (*Ident) node()   {}
func (*List) node()    {}
func (*Map) node()     {}
func (*Unary) node()   {}
func (*Binary) node()  {}
func (*Call) node()    {}
func (*Attr) node()    {}
func (*Index) node()   {}

// Inspect walks the tree depth-first, calling fn for each node. If fn
// returns false the children of that node are skipped.
func Inspect(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *List:
		for _, e := range n.Elems {
			Inspect(e, fn)
		}
	case *Map:
		for i := range n.Keys {
			Inspect(n.Keys[i], fn)
			Inspect(n.Values[i], fn)
		}
	case *Unary:
		Inspect(n.X, fn)
	case *Binary:
		Inspect(n.X, fn)
		Inspect(n.Y, fn)
	case *Call:
		Inspect(n.Func, fn)
		for _, a := range n.Args {
			Inspect(a, fn)
		}
	case *Attr:
		Inspect(n.X, fn)
	case *Index:
		Inspect(n.X, fn)
		Inspect(n.Index, fn)
	}
}

// Names returns the variables an expression reads, including template
// slots, in order of first appearance. The callee of a call is not a read.
func Names(n Node) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	Inspect(n, func(n Node) bool {
		switch n := n.(type) {
		case *Ident:
			add(n.Name)
		case *Literal:
			for _, s := range n.Slots {
				add(s)
			}
		case *Call:
			if _, ok := n.Func.(*Ident); ok {
				for _, a := range n.Args {
					for _, name := range Names(a) {
						add(name)
					}
				}
				return false
			}
		}
		return true
	})
	return names
}
