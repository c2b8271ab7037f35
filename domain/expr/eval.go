package expr

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Env resolves variable names during evaluation.
type Env interface {
	Lookup(name string) (any, bool)
}

// Vars is a map-backed Env.
type Vars map[string]any

// Lookup implements Env.
func (v Vars) Lookup(name string) (any, bool) {
	val, ok := v[name]
	return val, ok
}

// Eval validates and evaluates n against env. Any construct outside the
// accepted grammar yields an *EvaluationError without being evaluated.
func Eval(n Node, env Env) (any, error) {
	if err := Validate(n); err != nil {
		return nil, err
	}
	v, err := eval(n, env)
	if err != nil {
		if ee, ok := err.(*EvaluationError); ok && ee.Expr == "" {
			ee.Expr = Format(n)
		}
		return nil, err
	}
	return v, nil
}

// EvalString parses, validates and evaluates src.
func EvalString(src string, env Env) (any, error) {
	n, err := Parse(src)
	if err != nil {
		return nil, &EvaluationError{Expr: src, Message: err.Error()}
	}
	return Eval(n, env)
}

func eval(n Node, env Env) (any, error) {
	switch n := n.(type) {
	case *Literal:
		if s, ok := n.Value.(string); ok && len(n.Slots) > 0 {
			out, err := Substitute(s, env)
			if err != nil {
				ee := err.(*EvaluationError)
				ee.Pos = n.Pos
				return nil, ee
			}
			return out, nil
		}
		return n.Value, nil

	case *Ident:
		v, ok := env.Lookup(n.Name)
		if !ok {
			return nil, evalErrorf(n, "undefined variable %s", n.Name)
		}
		return Normalize(v), nil

	case *List:
		out := make([]any, 0, len(n.Elems))
		for _, e := range n.Elems {
			v, err := eval(e, env)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case *Map:
		out := make(map[string]any, len(n.Keys))
		for i := range n.Keys {
			k, err := eval(n.Keys[i], env)
			if err != nil {
				return nil, err
			}
			ks, ok := k.(string)
			if !ok {
				return nil, evalErrorf(n.Keys[i], "map key must be a string, got %s", TypeName(k))
			}
			v, err := eval(n.Values[i], env)
			if err != nil {
				return nil, err
			}
			out[ks] = v
		}
		return out, nil

	case *Unary:
		x, err := eval(n.X, env)
		if err != nil {
			return nil, err
		}
		if n.Op == "not" {
			return !Truthy(x), nil
		}
		switch x := x.(type) {
		case int64:
			if x == math.MinInt64 {
				return nil, evalErrorf(n, "integer overflow negating %d", x)
			}
			return -x, nil
		case float64:
			return -x, nil
		}
		return nil, evalErrorf(n, "cannot negate %s", TypeName(x))

	case *Binary:
		return evalBinary(n, env)

	case *Call:
		// Validate guarantees this is len(x).
		x, err := eval(n.Args[0], env)
		if err != nil {
			return nil, err
		}
		switch x := x.(type) {
		case string:
			return int64(utf8.RuneCountInString(x)), nil
		case []any:
			return int64(len(x)), nil
		case map[string]any:
			return int64(len(x)), nil
		}
		return nil, evalErrorf(n, "len of %s", TypeName(x))
	}
	return nil, evalErrorf(n, "unsupported expression")
}

func evalBinary(n *Binary, env Env) (any, error) {
	x, err := eval(n.X, env)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "and":
		if !Truthy(x) {
			return false, nil
		}
		y, err := eval(n.Y, env)
		if err != nil {
			return nil, err
		}
		return Truthy(y), nil
	case "or":
		if Truthy(x) {
			return true, nil
		}
		y, err := eval(n.Y, env)
		if err != nil {
			return nil, err
		}
		return Truthy(y), nil
	}

	y, err := eval(n.Y, env)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "==":
		return Equal(x, y), nil
	case "!=":
		return !Equal(x, y), nil
	case "in", "not in":
		in, err := contains(n, y, x)
		if err != nil {
			return nil, err
		}
		return in == (n.Op == "in"), nil
	case "<", "<=", ">", ">=":
		c, err := compare(n, x, y)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	return arith(n, x, y)
}

func contains(n *Binary, container, item any) (bool, error) {
	switch c := container.(type) {
	case []any:
		for _, e := range c {
			if Equal(e, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := item.(string)
		if !ok {
			return false, evalErrorf(n, "'in <string>' requires a string operand, got %s", TypeName(item))
		}
		return strings.Contains(c, s), nil
	case map[string]any:
		s, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, found := c[s]
		return found, nil
	}
	return false, evalErrorf(n, "membership test on %s", TypeName(container))
}

func compare(n *Binary, x, y any) (int, error) {
	if a, ok := toFloat(x); ok {
		if b, ok := toFloat(y); ok {
			switch {
			case a < b:
				return -1, nil
			case a > b:
				return 1, nil
			}
			return 0, nil
		}
	}
	if a, ok := x.(string); ok {
		if b, ok := y.(string); ok {
			return strings.Compare(a, b), nil
		}
	}
	return 0, evalErrorf(n, "cannot compare %s and %s", TypeName(x), TypeName(y))
}

func arith(n *Binary, x, y any) (any, error) {
	switch n.Op {
	case "+":
		switch a := x.(type) {
		case string:
			if b, ok := y.(string); ok {
				return a + b, nil
			}
		case []any:
			if b, ok := y.([]any); ok {
				out := make([]any, 0, len(a)+len(b))
				return append(append(out, a...), b...), nil
			}
		}
	}

	ai, aInt := x.(int64)
	bi, bInt := y.(int64)
	if aInt && bInt {
		switch n.Op {
		case "+", "-", "*":
			v, ok := intArith(n.Op, ai, bi)
			if !ok {
				return nil, evalErrorf(n, "integer overflow in %d %s %d", ai, n.Op, bi)
			}
			return v, nil
		case "%":
			if bi == 0 {
				return nil, evalErrorf(n, "modulo by zero")
			}
			return ai % bi, nil
		}
	}

	a, okA := toFloat(x)
	b, okB := toFloat(y)
	if !okA || !okB {
		return nil, evalErrorf(n, "unsupported operand types for %s: %s and %s", n.Op, TypeName(x), TypeName(y))
	}
	switch n.Op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, evalErrorf(n, "division by zero")
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return nil, evalErrorf(n, "modulo by zero")
		}
		return math.Mod(a, b), nil
	}
	return nil, evalErrorf(n, "unknown operator %s", n.Op)
}

// intArith applies op to a and b and reports false if the result does not
// fit in an int64.
func intArith(op string, a, b int64) (int64, bool) {
	switch op {
	case "+":
		r := a + b
		return r, (a >= 0) != (b >= 0) || (r >= 0) == (a >= 0)
	case "-":
		r := a - b
		return r, (a >= 0) == (b >= 0) || (r >= 0) == (a >= 0)
	case "*":
		if a == 0 || b == 0 {
			return 0, true
		}
		if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return 0, false
		}
		r := a * b
		return r, r/b == a
	}
	return 0, false
}
