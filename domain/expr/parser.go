package expr

import (
	"fmt"
	"strconv"
)

// Keywords are reserved and cannot be used as variable names.
var Keywords = map[string]bool{
	"program": true, "agent": true, "binds": true, "as": true, "capability": true,
	"uses": true, "def": true, "end": true, "precondition": true, "postcondition": true,
	"step": true, "requires": true, "retry": true, "if": true, "else": true, "for": true,
	"in": true, "return": true, "assert": true, "and": true, "or": true, "not": true,
	"true": true, "false": true, "none": true, "True": true, "False": true, "None": true,
}

const (
	precLowest = iota
	precOr
	precAnd
	precNot
	precCompare
	precAdd
	precMul
	precUnary
	precPostfix
)

// MaxDepth bounds how deeply expressions may nest.
const MaxDepth = 256

var binaryPrec = map[string]int{
	"or": precOr, "and": precAnd,
	"==": precCompare, "!=": precCompare, "<": precCompare, "<=": precCompare,
	">": precCompare, ">=": precCompare, "in": precCompare, "not in": precCompare,
	"+": precAdd, "-": precAdd,
	"*": precMul, "/": precMul, "%": precMul,
}

// Parse parses a complete expression.
func Parse(src string) (Node, error) {
	toks, _, err := Lex(src, 1, 1)
	if err != nil {
		return nil, err
	}
	n, next, err := ParseAt(toks, 0)
	if err != nil {
		return nil, err
	}
	if toks[next].Kind != TokenEOF {
		return nil, unexpected(toks[next])
	}
	return n, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return n
}

// ParseAt parses one expression from toks starting at index i and returns
// the index of the first token after it. The token slice must end with a
// TokenEOF token.
func ParseAt(toks []Token, i int) (Node, int, error) {
	p := &parser{toks: toks, pos: i}
	n, err := p.parseExpr(precLowest)
	if err != nil {
		return nil, i, err
	}
	return n, p.pos, nil
}

type parser struct {
	toks  []Token
	pos   int
	depth int
}

func (p *parser) peek() Token {
	return p.toks[p.pos]
}

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if t.Kind != TokenEOF {
		p.pos++
	}
	return t
}

// binaryOp returns the operator at the cursor, if any, and how many tokens it spans.
func (p *parser) binaryOp() (string, int) {
	t := p.peek()
	switch {
	case t.Kind == TokenOp:
		if _, ok := binaryPrec[t.Text]; ok {
			return t.Text, 1
		}
	case t.Is("and"), t.Is("or"), t.Is("in"):
		return t.Text, 1
	case t.Is("not"):
		if p.pos+1 < len(p.toks) && p.toks[p.pos+1].Is("in") {
			return "not in", 2
		}
	}
	return "", 0
}

func (p *parser) parseExpr(minPrec int) (Node, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > MaxDepth {
		return nil, &SyntaxError{
			Pos:     p.peek().Pos,
			Message: fmt.Sprintf("expression nested more than %d levels deep", MaxDepth),
		}
	}

	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, width := p.binaryOp()
		if width == 0 {
			return left, nil
		}
		prec := binaryPrec[op]
		if prec <= minPrec {
			return left, nil
		}
		pos := p.peek().Pos
		p.pos += width
		right, err := p.parseExpr(prec)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, X: left, Y: right, Pos: pos}
	}
}

func (p *parser) parseUnary() (Node, error) {
	t := p.peek()
	switch {
	case t.Is("not"):
		p.next()
		x, err := p.parseExpr(precNot)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "not", X: x, Pos: t.Pos}, nil
	case t.Kind == TokenOp && t.Text == "-":
		p.next()
		x, err := p.parseExpr(precMul)
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(*Literal); ok {
			switch v := lit.Value.(type) {
			case int64:
				return &Literal{Value: -v, Pos: t.Pos}, nil
			case float64:
				return &Literal{Value: -v, Pos: t.Pos}, nil
			}
		}
		return &Unary{Op: "-", X: x, Pos: t.Pos}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Kind != TokenOp {
			return x, nil
		}
		switch t.Text {
		case "(":
			p.next()
			args, err := p.parseList(")")
			if err != nil {
				return nil, err
			}
			x = &Call{Func: x, Args: args, Pos: t.Pos}
		case ".":
			p.next()
			name := p.next()
			if name.Kind != TokenIdent {
				return nil, unexpected(name)
			}
			x = &Attr{X: x, Name: name.Text, Pos: t.Pos}
		case "[":
			p.next()
			idx, err := p.parseExpr(precLowest)
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			x = &Index{X: x, Index: idx, Pos: t.Pos}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.Kind {
	case TokenInt:
		v, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.Pos, Message: "integer literal out of range"}
		}
		return &Literal{Value: v, Pos: t.Pos}, nil
	case TokenFloat:
		v, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.Pos, Message: "invalid float literal"}
		}
		return &Literal{Value: v, Pos: t.Pos}, nil
	case TokenString:
		return &Literal{Value: t.Str, Slots: Slots(t.Str), Pos: t.Pos}, nil
	case TokenIdent:
		switch t.Text {
		case "true", "True":
			return &Literal{Value: true, Pos: t.Pos}, nil
		case "false", "False":
			return &Literal{Value: false, Pos: t.Pos}, nil
		case "none", "None":
			return &Literal{Value: nil, Pos: t.Pos}, nil
		}
		if Keywords[t.Text] {
			return nil, &SyntaxError{Pos: t.Pos, Message: fmt.Sprintf("unexpected keyword %q", t.Text)}
		}
		return &Ident{Name: t.Text, Pos: t.Pos}, nil
	case TokenOp:
		switch t.Text {
		case "(":
			x, err := p.parseExpr(precLowest)
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		case "[":
			elems, err := p.parseList("]")
			if err != nil {
				return nil, err
			}
			return &List{Elems: elems, Pos: t.Pos}, nil
		case "{":
			return p.parseMap(t.Pos)
		}
	}
	return nil, unexpected(t)
}

func (p *parser) parseList(closer string) ([]Node, error) {
	var elems []Node
	if p.peek().Is(closer) {
		p.next()
		return elems, nil
	}
	for {
		e, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		t := p.next()
		if t.Is(closer) {
			return elems, nil
		}
		if !t.Is(",") {
			return nil, unexpected(t)
		}
		if p.peek().Is(closer) {
			p.next()
			return elems, nil
		}
	}
}

func (p *parser) parseMap(pos Pos) (Node, error) {
	m := &Map{Pos: pos}
	if p.peek().Is("}") {
		p.next()
		return m, nil
	}
	for {
		k, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		v, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, k)
		m.Values = append(m.Values, v)
		t := p.next()
		if t.Is("}") {
			return m, nil
		}
		if !t.Is(",") {
			return nil, unexpected(t)
		}
		if p.peek().Is("}") {
			p.next()
			return m, nil
		}
	}
}

func (p *parser) expect(op string) error {
	t := p.next()
	if !t.Is(op) {
		return &SyntaxError{Pos: t.Pos, Message: fmt.Sprintf("expected %q, found %s", op, describe(t))}
	}
	return nil
}

func unexpected(t Token) error {
	return &SyntaxError{Pos: t.Pos, Message: "unexpected " + describe(t)}
}

func describe(t Token) string {
	if t.Kind == TokenEOF {
		return "end of line"
	}
	return fmt.Sprintf("%s %q", t.Kind, t.Text)
}
