package parser

import (
	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/syntax"
)

// statementKeywords start a line that must parse as a statement.
var statementKeywords = map[string]bool{
	"program": true, "agent": true, "capability": true, "uses": true, "def": true,
	"end": true, "precondition": true, "postcondition": true, "step": true,
	"if": true, "else": true, "for": true, "return": true, "assert": true,
}

func (s *state) routineLevel(f *frame, text string, pos syntax.Pos) error {
	head := firstWord(text)
	toks, _, lexErr := expr.Lex(text, pos.Line, pos.Column)

	switch {
	case statementKeywords[head]:
		if lexErr != nil {
			return toParseError(lexErr, pos)
		}
		return s.keywordStatement(f, toks, text, pos)
	case lexErr != nil:
		return s.fallback(f, text, text, pos)
	case len(toks) == 2 && toks[0].Kind == expr.TokenString:
		return s.fallback(f, toks[0].Str, text, pos)
	case toks[0].Kind == expr.TokenIdent && toks[1].Is("="):
		return s.simpleStatement(f, toks, text, pos)
	case isCallHead(toks, 0):
		return s.simpleStatement(f, toks, text, pos)
	}
	return s.fallback(f, text, text, pos)
}

func (s *state) newStep(kind syntax.StepKind, text string, pos syntax.Pos) *syntax.Step {
	return &syntax.Step{
		ID:   syntax.StepID(s.agent().Name, s.routine().Name, pos.Line),
		Kind: kind,
		Pos:  pos,
		Text: text,
	}
}

func (s *state) add(f *frame, step *syntax.Step) error {
	body := *f.body
	if n := len(body); n > 0 && body[n-1].Kind == syntax.StepReturn {
		return errorf(step.Pos, "statement after return is unreachable")
	}
	*f.body = append(body, step)
	return nil
}

func (s *state) fallback(f *frame, prompt, text string, pos syntax.Pos) error {
	if s.strict {
		return errorf(pos, "line matches no statement form: %q", text)
	}
	step := s.newStep(syntax.StepFallback, text, pos)
	step.Call = &syntax.Call{
		Name: "call_llm",
		Args: []syntax.Arg{{
			Name:  "prompt",
			Value: &expr.Literal{Value: prompt, Slots: expr.Slots(prompt), Pos: pos},
			Pos:   pos,
		}},
		Pos: pos,
	}
	return s.add(f, step)
}

func (s *state) keywordStatement(f *frame, toks []expr.Token, text string, pos syntax.Pos) error {
	c := &cursor{toks: toks, i: 1}
	kw := toks[0].Text

	switch kw {
	case "end":
		if err := c.end(); err != nil {
			return err
		}
		s.stack = s.stack[:len(s.stack)-1]
		return nil

	case "else":
		if err := c.expect(":"); err != nil {
			return err
		}
		if err := c.end(); err != nil {
			return err
		}
		if f.kind != "if" || f.inElse {
			return errorf(pos, "else without a matching if")
		}
		f.inElse = true
		f.body = &f.step.Else
		return nil

	case "precondition", "postcondition":
		if f.kind != "def" {
			return errorf(pos, "%s must appear at the top level of a routine", kw)
		}
		if err := c.expect(":"); err != nil {
			return err
		}
		n, err := c.expr()
		if err != nil {
			return err
		}
		if err := c.end(); err != nil {
			return err
		}
		cond := &syntax.Condition{Expr: n, Pos: pos}
		if kw == "precondition" {
			if f.routine.Precondition != nil {
				return errorf(pos, "duplicate precondition")
			}
			f.routine.Precondition = cond
		} else {
			if f.routine.Postcondition != nil {
				return errorf(pos, "duplicate postcondition")
			}
			f.routine.Postcondition = cond
		}
		return nil

	case "assert", "return":
		n, err := c.expr()
		if err != nil {
			return err
		}
		if err := c.end(); err != nil {
			return err
		}
		kind := syntax.StepAssert
		if kw == "return" {
			if f.kind != "def" {
				return errorf(pos, "return must be the last statement of a routine body")
			}
			kind = syntax.StepReturn
		}
		step := s.newStep(kind, text, pos)
		step.Expr = n
		return s.add(f, step)

	case "if":
		n, err := c.expr()
		if err != nil {
			return err
		}
		if err := c.expect(":"); err != nil {
			return err
		}
		if err := c.end(); err != nil {
			return err
		}
		step := s.newStep(syntax.StepIf, text, pos)
		step.Expr = n
		if err := s.add(f, step); err != nil {
			return err
		}
		s.stack = append(s.stack, &frame{kind: "if", step: step, body: &step.Then, pos: pos})
		return nil

	case "for":
		loop, err := parseLoop(c, pos)
		if err != nil {
			return err
		}
		step := s.newStep(syntax.StepFor, text, pos)
		step.Loop = loop
		if err := s.add(f, step); err != nil {
			return err
		}
		s.stack = append(s.stack, &frame{kind: "for", step: step, body: &step.Then, pos: pos})
		return nil

	case "step":
		if !isCallHead(toks, 1) && !(toks[1].Kind == expr.TokenIdent && toks[2].Is("=") && isCallHead(toks, 3)) {
			return errorf(pos, "step must invoke a primitive, tool or routine")
		}
		return s.simpleStatement(f, toks[1:], text, pos)
	}
	return errorf(pos, "%s is not allowed inside a routine (missing end?)", kw)
}

func parseLoop(c *cursor, pos syntax.Pos) (*syntax.Loop, error) {
	name, err := c.ident("loop variable")
	if err != nil {
		return nil, err
	}
	if !c.peek().Is("in") {
		return nil, errorf(c.peek().Pos, "expected \"in\" after loop variable")
	}
	c.next()
	loop := &syntax.Loop{Var: name, Pos: pos}

	if c.peek().Is("range") && c.peekAt(1).Is("(") {
		c.next()
		c.next()
		start, err := c.integer("range bound")
		if err != nil {
			return nil, err
		}
		end := start
		start = 0
		if c.peek().Is(",") {
			c.next()
			start = end
			if end, err = c.integer("range bound"); err != nil {
				return nil, err
			}
		}
		if err := c.expect(")"); err != nil {
			return nil, err
		}
		loop.Range = &syntax.Range{Start: start, End: end}
	} else {
		n, err := c.expr()
		if err != nil {
			return nil, err
		}
		if list, ok := n.(*expr.List); ok {
			loop.Items = list.Elems
			if loop.Items == nil {
				loop.Items = []expr.Node{}
			}
		} else {
			loop.Iterable = n
		}
	}
	if err := c.expect(":"); err != nil {
		return nil, err
	}
	if err := c.end(); err != nil {
		return nil, err
	}
	return loop, nil
}

// isCallHead reports whether toks[i:] starts with `name(` or `recv.name(`,
// excluding the len builtin which belongs to the expression language.
func isCallHead(toks []expr.Token, i int) bool {
	at := func(k int) expr.Token {
		if k >= len(toks) {
			return toks[len(toks)-1]
		}
		return toks[k]
	}
	if at(i).Kind != expr.TokenIdent || expr.Keywords[at(i).Text] {
		return false
	}
	if at(i + 1).Is("(") {
		return at(i).Text != "len"
	}
	return at(i+1).Is(".") && at(i+2).Kind == expr.TokenIdent && at(i+3).Is("(")
}

// simpleStatement parses `[x =] call(...) [requires ...] [retry N]` or
// `x = expr`.
func (s *state) simpleStatement(f *frame, toks []expr.Token, text string, pos syntax.Pos) error {
	c := &cursor{toks: toks}
	var target string
	if toks[0].Kind == expr.TokenIdent && toks[1].Is("=") {
		name, err := c.ident("variable name")
		if err != nil {
			return err
		}
		target = name
		c.next()
	}

	if !isCallHead(c.toks, c.i) {
		n, err := c.expr()
		if err != nil {
			return err
		}
		if err := c.end(); err != nil {
			return err
		}
		step := s.newStep(syntax.StepAssign, text, pos)
		step.Target = target
		step.Expr = n
		return s.add(f, step)
	}

	call, err := parseCall(c)
	if err != nil {
		return err
	}
	step := s.newStep(syntax.StepCall, text, pos)
	step.Target = target
	step.Call = call

	for c.peek().Kind != expr.TokenEOF {
		switch t := c.next(); {
		case t.Is("requires"):
			for {
				capTok := c.peek()
				if capTok.Is("capability") && c.peekAt(1).Is(".") {
					c.next()
					c.next()
				}
				name, err := c.ident("capability name")
				if err != nil {
					return err
				}
				step.Requires = append(step.Requires, name)
				if !c.peek().Is(",") {
					break
				}
				c.next()
			}
		case t.Is("retry"):
			n, err := c.integer("retry count")
			if err != nil {
				return err
			}
			if n < 0 {
				return errorf(t.Pos, "retry count must not be negative")
			}
			step.Retry = int(n)
		default:
			return errorf(t.Pos, "unexpected %s after call", describe(t))
		}
	}
	return s.add(f, step)
}

func parseCall(c *cursor) (*syntax.Call, error) {
	first := c.next()
	call := &syntax.Call{Name: first.Text, Pos: first.Pos}
	if c.peek().Is(".") {
		c.next()
		call.Receiver = first.Text
		call.Name = c.next().Text
	}
	if err := c.expect("("); err != nil {
		return nil, err
	}
	if c.peek().Is(")") {
		c.next()
		return call, nil
	}
	seen := make(map[string]bool)
	for {
		t := c.peek()
		arg := syntax.Arg{Pos: t.Pos}
		if t.Kind == expr.TokenIdent && c.peekAt(1).Is("=") {
			arg.Name = t.Text
			if seen[arg.Name] {
				return nil, errorf(t.Pos, "duplicate argument %q", arg.Name)
			}
			seen[arg.Name] = true
			c.next()
			c.next()
		}
		v, err := c.expr()
		if err != nil {
			return nil, err
		}
		arg.Value = v
		call.Args = append(call.Args, arg)
		t = c.next()
		if t.Is(")") {
			return call, nil
		}
		if !t.Is(",") {
			return nil, errorf(t.Pos, "expected \",\" or \")\", found %s", describe(t))
		}
	}
}
