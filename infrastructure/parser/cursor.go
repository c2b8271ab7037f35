package parser

import (
	"fmt"
	"strconv"

	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/syntax"
)

// cursor walks the tokens of one line.
type cursor struct {
	toks []expr.Token
	i    int
}

func (c *cursor) peek() expr.Token {
	return c.toks[c.i]
}

func (c *cursor) peekAt(n int) expr.Token {
	if c.i+n >= len(c.toks) {
		return c.toks[len(c.toks)-1]
	}
	return c.toks[c.i+n]
}

func (c *cursor) next() expr.Token {
	t := c.toks[c.i]
	if t.Kind != expr.TokenEOF {
		c.i++
	}
	return t
}

func (c *cursor) expect(op string) error {
	t := c.next()
	if !t.Is(op) {
		return errorf(t.Pos, "expected %q, found %s", op, describe(t))
	}
	return nil
}

func (c *cursor) end() error {
	if t := c.peek(); t.Kind != expr.TokenEOF {
		return errorf(t.Pos, "unexpected %s", describe(t))
	}
	return nil
}

func (c *cursor) ident(what string) (string, error) {
	t := c.next()
	if t.Kind != expr.TokenIdent || expr.Keywords[t.Text] {
		return "", errorf(t.Pos, "expected %s, found %s", what, describe(t))
	}
	return t.Text, nil
}

// scalar reads a literal value (string, number, bool or bare word) as text.
func (c *cursor) scalar() (string, error) {
	t := c.next()
	switch t.Kind {
	case expr.TokenString:
		return t.Str, nil
	case expr.TokenInt, expr.TokenFloat, expr.TokenIdent:
		return t.Text, nil
	case expr.TokenOp:
		if t.Text == "-" {
			n := c.next()
			if n.Kind == expr.TokenInt || n.Kind == expr.TokenFloat {
				return "-" + n.Text, nil
			}
		}
	}
	return "", errorf(t.Pos, "expected a literal value, found %s", describe(t))
}

// keyValues reads `(k=v, ...)`.
func (c *cursor) keyValues() (map[string]string, error) {
	if err := c.expect("("); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if c.peek().Is(")") {
		c.next()
		return out, nil
	}
	for {
		keyTok := c.peek()
		key, err := c.ident("parameter name")
		if err != nil {
			return nil, err
		}
		if _, dup := out[key]; dup {
			return nil, errorf(keyTok.Pos, "duplicate parameter %q", key)
		}
		if err := c.expect("="); err != nil {
			return nil, err
		}
		if out[key], err = c.scalar(); err != nil {
			return nil, err
		}
		t := c.next()
		if t.Is(")") {
			return out, nil
		}
		if !t.Is(",") {
			return nil, errorf(t.Pos, "expected \",\" or \")\", found %s", describe(t))
		}
	}
}

// params reads `(a, b, ...)`.
func (c *cursor) params() ([]string, error) {
	if err := c.expect("("); err != nil {
		return nil, err
	}
	var names []string
	seen := make(map[string]bool)
	if c.peek().Is(")") {
		c.next()
		return names, nil
	}
	for {
		t := c.peek()
		name, err := c.ident("parameter name")
		if err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, errorf(t.Pos, "duplicate parameter %q", name)
		}
		seen[name] = true
		names = append(names, name)
		t = c.next()
		if t.Is(")") {
			return names, nil
		}
		if !t.Is(",") {
			return nil, errorf(t.Pos, "expected \",\" or \")\", found %s", describe(t))
		}
	}
}

// binding reads `ns.tool as alias`.
func (c *cursor) binding() (syntax.Binding, error) {
	start := c.peek()
	first, err := c.ident("tool namespace")
	if err != nil {
		return syntax.Binding{}, err
	}
	path := []string{first}
	for c.peek().Is(".") {
		c.next()
		seg, err := c.ident("tool name")
		if err != nil {
			return syntax.Binding{}, err
		}
		path = append(path, seg)
	}
	if len(path) < 2 {
		return syntax.Binding{}, errorf(start.Pos, "binding target must be namespace.name, found %q", first)
	}
	if !c.peek().Is("as") {
		return syntax.Binding{}, errorf(c.peek().Pos, "expected \"as\" after binding target")
	}
	c.next()
	alias, err := c.ident("binding alias")
	if err != nil {
		return syntax.Binding{}, err
	}
	ns := path[0]
	for _, seg := range path[1 : len(path)-1] {
		ns += "." + seg
	}
	return syntax.Binding{Namespace: ns, Name: path[len(path)-1], Alias: alias, Pos: start.Pos}, nil
}

// integer reads an integer literal.
func (c *cursor) integer(what string) (int64, error) {
	neg := false
	if c.peek().Is("-") {
		c.next()
		neg = true
	}
	t := c.next()
	if t.Kind != expr.TokenInt {
		return 0, errorf(t.Pos, "expected %s, found %s", what, describe(t))
	}
	v, err := strconv.ParseInt(t.Text, 10, 64)
	if err != nil {
		return 0, errorf(t.Pos, "%s out of range", what)
	}
	if neg {
		v = -v
	}
	return v, nil
}

// expr reads one expression.
func (c *cursor) expr() (expr.Node, error) {
	n, next, err := expr.ParseAt(c.toks, c.i)
	if err != nil {
		return nil, toParseError(err, c.peek().Pos)
	}
	c.i = next
	return n, nil
}

func describe(t expr.Token) string {
	if t.Kind == expr.TokenEOF {
		return "end of line"
	}
	return fmt.Sprintf("%q", t.Text)
}
