package expr

import "fmt"

// Validate reports the first construct in n that lies outside the
// evaluable grammar. Accepted: literals, variables, list and map literals,
// arithmetic, comparison, boolean and membership operators, and len(x).
func Validate(n Node) error {
	var err *EvaluationError
	Inspect(n, func(n Node) bool {
		if err != nil {
			return false
		}
		switch n := n.(type) {
		case *Attr:
			err = evalErrorf(n, "attribute access .%s is not allowed", n.Name)
		case *Index:
			err = evalErrorf(n, "subscript access is not allowed")
		case *Call:
			id, ok := n.Func.(*Ident)
			switch {
			case !ok:
				err = evalErrorf(n, "call of %s is not allowed", Format(n.Func))
			case id.Name != "len":
				err = evalErrorf(n, "call to %s is not allowed", id.Name)
			case len(n.Args) != 1:
				err = evalErrorf(n, "len takes exactly one argument, got %d", len(n.Args))
			}
		case *Literal:
			for _, s := range n.Slots {
				if !IsIdent(s) {
					err = evalErrorf(n, "template slot {{%s}} is not a variable name", s)
					break
				}
			}
		}
		return err == nil
	})
	if err != nil {
		err.Expr = Format(n)
		return err
	}
	return nil
}

// Checked parses src and validates it against the evaluable grammar.
func Checked(src string) (Node, error) {
	n, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	if err := Validate(n); err != nil {
		return nil, err
	}
	return n, nil
}
