// Package parser turns APL source text into a positioned syntax tree.
//
// The grammar is line oriented: one statement per line, blocks closed by an
// explicit `end`. Each line is classified by its first tokens, so no
// backtracking is needed.
package parser

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/syntax"
)

// Option configures a Parser.
type Option func(*Parser)

// WithStrict rejects lines that match no statement form instead of turning
// them into fallback model calls.
func WithStrict(strict bool) Option {
	return func(p *Parser) {
		p.strict = strict
	}
}

// Parser parses APL source. It is stateless between calls and safe for
// concurrent use.
type Parser struct {
	strict bool
}

// New creates a parser.
func New(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses source with default options.
func Parse(source string) (*syntax.Program, error) {
	return New().Parse(source)
}

// Parse returns the syntax tree for source or a *syntax.ParseError. It never
// panics on any input.
func (p *Parser) Parse(source string) (prog *syntax.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			prog = nil
			err = &syntax.ParseError{Pos: syntax.Pos{Line: 1, Column: 1}, Message: fmt.Sprintf("internal parser failure: %v", r)}
		}
	}()

	if pos, ok := invalidUTF8(source); ok {
		return nil, &syntax.ParseError{Pos: pos, Message: "invalid UTF-8 encoding"}
	}

	st := &state{strict: p.strict, prog: &syntax.Program{Name: "main"}}
	for i, raw := range strings.Split(source, "\n") {
		if err := st.line(i+1, strings.TrimRight(raw, "\r")); err != nil {
			return nil, err
		}
	}
	if err := st.finish(); err != nil {
		return nil, err
	}
	return st.prog, nil
}

func invalidUTF8(s string) (syntax.Pos, bool) {
	line, col := 1, 1
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return syntax.Pos{Line: line, Column: col}, true
		}
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
		i += size
	}
	return syntax.Pos{}, false
}

// frame is one open block.
type frame struct {
	kind    string // "agent", "def", "if", "for"
	agent   *syntax.Agent
	routine *syntax.Routine
	step    *syntax.Step
	inElse  bool
	body    *[]*syntax.Step
	pos     syntax.Pos
}

type state struct {
	strict         bool
	prog           *syntax.Program
	sawProgram     bool
	stack          []*frame
	pendingTrigger *syntax.Trigger
}

func (s *state) top() *frame {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

func (s *state) agent() *syntax.Agent {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i].agent != nil {
			return s.stack[i].agent
		}
	}
	return nil
}

func (s *state) routine() *syntax.Routine {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i].routine != nil {
			return s.stack[i].routine
		}
	}
	return nil
}

func (s *state) finish() error {
	if f := s.top(); f != nil {
		return &syntax.ParseError{Pos: f.pos, Message: fmt.Sprintf("%s block is missing its end", f.kind)}
	}
	if s.pendingTrigger != nil {
		return &syntax.ParseError{Pos: s.pendingTrigger.Pos, Message: "trigger metadata is not followed by a routine"}
	}
	return nil
}

func (s *state) line(lineNo int, raw string) error {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	col := 1 + utf8.RuneCountInString(raw[:len(raw)-len(strings.TrimLeftFunc(raw, unicode.IsSpace))])
	pos := syntax.Pos{Line: lineNo, Column: col}

	if strings.HasPrefix(text, "#") {
		return s.comment(strings.TrimSpace(text[1:]), pos)
	}

	f := s.top()
	if f == nil {
		return s.topLevel(text, pos)
	}
	if f.kind == "agent" {
		return s.agentLevel(f, text, pos)
	}
	return s.routineLevel(f, text, pos)
}

func lexLine(text string, pos syntax.Pos) ([]expr.Token, error) {
	toks, _, err := expr.Lex(text, pos.Line, pos.Column)
	if err != nil {
		return nil, toParseError(err, pos)
	}
	return toks, nil
}

// toParseError converts expression-level errors into parse errors.
func toParseError(err error, pos syntax.Pos) error {
	var se *expr.SyntaxError
	if errors.As(err, &se) {
		return &syntax.ParseError{Pos: se.Pos, Message: se.Message}
	}
	var pe *syntax.ParseError
	if errors.As(err, &pe) {
		return pe
	}
	return &syntax.ParseError{Pos: pos, Message: err.Error()}
}

func errorf(pos syntax.Pos, format string, args ...any) error {
	return &syntax.ParseError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func firstWord(text string) string {
	end := strings.IndexFunc(text, func(r rune) bool {
		return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if end < 0 {
		return text
	}
	return text[:end]
}

func (s *state) topLevel(text string, pos syntax.Pos) error {
	toks, err := lexLine(text, pos)
	if err != nil {
		return err
	}
	switch {
	case toks[0].Is("program"):
		return s.parseProgram(toks)
	case toks[0].Is("agent"):
		return s.parseAgent(toks)
	}
	return errorf(pos, "expected program or agent declaration, found %q", firstWord(text))
}

func (s *state) parseProgram(toks []expr.Token) error {
	if s.sawProgram {
		return errorf(toks[0].Pos, "duplicate program declaration")
	}
	if len(s.prog.Agents) > 0 {
		return errorf(toks[0].Pos, "program declaration must precede agents")
	}
	c := &cursor{toks: toks, i: 1}
	name, err := c.ident("program name")
	if err != nil {
		return err
	}
	s.prog.Name = name
	s.prog.Pos = toks[0].Pos
	if c.peek().Is("(") {
		meta, err := c.keyValues()
		if err != nil {
			return err
		}
		s.prog.Meta = meta
	}
	if err := c.end(); err != nil {
		return err
	}
	s.sawProgram = true
	return nil
}

func (s *state) parseAgent(toks []expr.Token) error {
	c := &cursor{toks: toks, i: 1}
	name, err := c.ident("agent name")
	if err != nil {
		return err
	}
	if s.prog.Agent(name) != nil {
		return errorf(toks[1].Pos, "duplicate agent %q", name)
	}
	a := &syntax.Agent{Name: name, Pos: toks[0].Pos}
	if c.peek().Is("(") {
		if a.Params, err = c.params(); err != nil {
			return err
		}
	}
	if c.peek().Is("binds") {
		c.next()
		for {
			b, err := c.binding()
			if err != nil {
				return err
			}
			a.Bindings = append(a.Bindings, b)
			if !c.peek().Is(",") {
				break
			}
			c.next()
		}
	}
	if err := c.expect(":"); err != nil {
		return err
	}
	if err := c.end(); err != nil {
		return err
	}
	s.prog.Agents = append(s.prog.Agents, a)
	s.stack = append(s.stack, &frame{kind: "agent", agent: a, pos: a.Pos})
	return nil
}

func (s *state) agentLevel(f *frame, text string, pos syntax.Pos) error {
	toks, err := lexLine(text, pos)
	if err != nil {
		return err
	}
	c := &cursor{toks: toks, i: 1}
	switch {
	case toks[0].Is("end"):
		if err := c.end(); err != nil {
			return err
		}
		if s.pendingTrigger != nil {
			return errorf(s.pendingTrigger.Pos, "trigger metadata is not followed by a routine")
		}
		s.stack = s.stack[:len(s.stack)-1]
		return nil

	case toks[0].Is("capability"):
		name, err := c.ident("capability name")
		if err != nil {
			return err
		}
		decl := syntax.CapabilityDecl{Name: name, Pos: toks[0].Pos}
		if c.peek().Is("(") {
			if decl.Params, err = c.keyValues(); err != nil {
				return err
			}
		}
		if err := c.end(); err != nil {
			return err
		}
		f.agent.Capabilities = append(f.agent.Capabilities, decl)
		return nil

	case toks[0].Is("uses"):
		for {
			t := c.peek()
			name, err := c.ident("agent name")
			if err != nil {
				return err
			}
			f.agent.Uses = append(f.agent.Uses, syntax.Use{Agent: name, Pos: t.Pos})
			if !c.peek().Is(",") {
				break
			}
			c.next()
		}
		return c.end()

	case toks[0].Is("def"):
		name, err := c.ident("routine name")
		if err != nil {
			return err
		}
		if f.agent.Routine(name) != nil {
			return errorf(toks[1].Pos, "duplicate routine %q in agent %s", name, f.agent.Name)
		}
		r := &syntax.Routine{Name: name, Pos: toks[0].Pos, Trigger: s.pendingTrigger}
		s.pendingTrigger = nil
		if r.Params, err = c.params(); err != nil {
			return err
		}
		if err := c.expect(":"); err != nil {
			return err
		}
		if err := c.end(); err != nil {
			return err
		}
		f.agent.Routines = append(f.agent.Routines, r)
		s.stack = append(s.stack, &frame{kind: "def", routine: r, body: &r.Body, pos: r.Pos})
		return nil
	}
	return errorf(pos, "expected capability, uses, def or end in agent %s, found %q", f.agent.Name, firstWord(text))
}

func (s *state) comment(text string, pos syntax.Pos) error {
	rest, ok := strings.CutPrefix(text, "n8n:")
	if !ok {
		return nil
	}
	if s.agent() == nil {
		return errorf(pos, "n8n metadata outside an agent")
	}
	trig, err := parseTrigger(strings.TrimSpace(rest), pos)
	if err != nil {
		return err
	}
	if f := s.top(); f.kind == "def" {
		f.routine.Trigger = trig
		return nil
	}
	if s.routine() != nil {
		return errorf(pos, "n8n metadata inside a nested block")
	}
	s.pendingTrigger = trig
	return nil
}

// parseTrigger parses `trigger <type> key=value ...`.
func parseTrigger(text string, pos syntax.Pos) (*syntax.Trigger, error) {
	toks, _, err := expr.Lex(text, pos.Line, pos.Column)
	if err != nil {
		return nil, toParseError(err, pos)
	}
	c := &cursor{toks: toks}
	if !c.peek().Is("trigger") {
		return nil, errorf(pos, "n8n metadata must start with trigger")
	}
	c.next()
	typ, err := c.ident("trigger type")
	if err != nil {
		return nil, err
	}
	trig := &syntax.Trigger{Platform: "n8n", Type: typ, Config: map[string]string{}, Pos: pos}
	for c.peek().Kind != expr.TokenEOF {
		key, err := c.ident("trigger option")
		if err != nil {
			return nil, err
		}
		if err := c.expect("="); err != nil {
			return nil, err
		}
		v, err := c.scalar()
		if err != nil {
			return nil, err
		}
		trig.Config[key] = v
	}
	return trig, nil
}
