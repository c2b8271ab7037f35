package expr

import (
	"strconv"
	"strings"
)

// Format renders n in canonical form: single spaces around binary
// operators, no redundant parentheses, double-quoted strings. Parsing the
// result yields an equivalent tree.
func Format(n Node) string {
	var b strings.Builder
	format(&b, n, precLowest)
	return b.String()
}

func format(b *strings.Builder, n Node, parent int) {
	switch n := n.(type) {
	case *Literal:
		b.WriteString(FormatValue(n.Value))
	case *Ident:
		b.WriteString(n.Name)
	case *List:
		b.WriteByte('[')
		for i, e := range n.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			format(b, e, precLowest)
		}
		b.WriteByte(']')
	case *Map:
		b.WriteByte('{')
		for i := range n.Keys {
			if i > 0 {
				b.WriteString(", ")
			}
			format(b, n.Keys[i], precLowest)
			b.WriteString(": ")
			format(b, n.Values[i], precLowest)
		}
		b.WriteByte('}')
	case *Unary:
		prec := precUnary
		if n.Op == "not" {
			prec = precNot
		}
		open(b, prec, parent)
		b.WriteString(n.Op)
		if n.Op == "not" {
			b.WriteByte(' ')
		}
		format(b, n.X, prec)
		closeParen(b, prec, parent)
	case *Binary:
		prec := binaryPrec[n.Op]
		open(b, prec, parent)
		format(b, n.X, prec-1)
		b.WriteByte(' ')
		b.WriteString(n.Op)
		b.WriteByte(' ')
		format(b, n.Y, prec)
		closeParen(b, prec, parent)
	case *Call:
		format(b, n.Func, precPostfix)
		b.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			format(b, a, precLowest)
		}
		b.WriteByte(')')
	case *Attr:
		format(b, n.X, precPostfix)
		b.WriteByte('.')
		b.WriteString(n.Name)
	case *Index:
		format(b, n.X, precPostfix)
		b.WriteByte('[')
		format(b, n.Index, precLowest)
		b.WriteByte(']')
	}
}

// open writes "(" when a node of precedence prec appears where only
// tighter-binding nodes may appear without grouping.
func open(b *strings.Builder, prec, parent int) {
	if prec <= parent {
		b.WriteByte('(')
	}
}

func closeParen(b *strings.Builder, prec, parent int) {
	if prec <= parent {
		b.WriteByte(')')
	}
}

// FormatValue renders a scalar literal value.
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "none"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return s
	case string:
		return strconv.Quote(v)
	default:
		return Stringify(v)
	}
}
