package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/syntax"
)

const notifierSource = `program demo(version="0.1")

agent notifier(api_key) binds mcp.slack as slack, mcp.storage as s3:
    capability storage
    capability payments(limit=100)
    uses archiver

    # n8n: trigger webhook path="/apl/notifier" method="POST"
    def run(payload):
        precondition: len(payload) > 0
        summary = call_llm(prompt="Summarize {{payload}}", model="small")
        step r = store(key="latest", value=summary) requires capability.storage retry 2
        if len(summary) > 10:
            slack.post(channel="#ops", text=summary)
        else:
            "Say hello to {{payload}}"
        end
        for i in range(3):
            assert i < 3
        end
        return r
        postcondition: result != none
    end
end

agent archiver:
    def archive(item):
        return item
    end
end
`

func TestParseProgram(t *testing.T) {
	t.Parallel()

	prog, err := Parse(notifierSource)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if prog.Name != "demo" {
		t.Errorf("Name = %s, want demo", prog.Name)
	}
	if prog.Version() != "0.1" {
		t.Errorf("Version() = %s, want 0.1", prog.Version())
	}
	if len(prog.Agents) != 2 {
		t.Fatalf("len(Agents) = %d, want 2", len(prog.Agents))
	}

	a := prog.Agent("notifier")
	if a == nil {
		t.Fatal("Agent(notifier) = nil")
	}
	if len(a.Params) != 1 || a.Params[0] != "api_key" {
		t.Errorf("Params = %v, want [api_key]", a.Params)
	}
	if len(a.Bindings) != 2 {
		t.Fatalf("len(Bindings) = %d, want 2", len(a.Bindings))
	}
	if b := a.Bindings[1]; b.Namespace != "mcp" || b.Name != "storage" || b.Alias != "s3" {
		t.Errorf("Bindings[1] = %+v, want mcp.storage as s3", b)
	}
	if len(a.Capabilities) != 2 || a.Capabilities[1].Params["limit"] != "100" {
		t.Errorf("Capabilities = %+v", a.Capabilities)
	}
	if !a.Composes("archiver") {
		t.Error("Composes(archiver) = false, want true")
	}

	r := a.Routine("run")
	if r == nil {
		t.Fatal("Routine(run) = nil")
	}
	if r.Trigger == nil || r.Trigger.Config["path"] != "/apl/notifier" || r.Trigger.Type != "webhook" {
		t.Errorf("Trigger = %+v", r.Trigger)
	}
	if r.Precondition == nil || r.Postcondition == nil {
		t.Error("pre/postcondition not recorded")
	}
	if len(r.Body) != 5 {
		t.Fatalf("len(Body) = %d, want 5", len(r.Body))
	}

	store := r.Body[1]
	if store.Kind != syntax.StepCall || store.Call.Name != "store" || store.Target != "r" {
		t.Errorf("Body[1] = %+v", store)
	}
	if len(store.Requires) != 1 || store.Requires[0] != "storage" {
		t.Errorf("Requires = %v, want [storage]", store.Requires)
	}
	if store.Retry != 2 {
		t.Errorf("Retry = %d, want 2", store.Retry)
	}
	if store.ID != "notifier.run@12" {
		t.Errorf("ID = %s, want notifier.run@12", store.ID)
	}
	if store.Pos != (syntax.Pos{Line: 12, Column: 9}) {
		t.Errorf("Pos = %v, want 12:9", store.Pos)
	}

	ifStep := r.Body[2]
	if ifStep.Kind != syntax.StepIf || len(ifStep.Then) != 1 || len(ifStep.Else) != 1 {
		t.Fatalf("if step = %+v", ifStep)
	}
	if c := ifStep.Then[0].Call; c.Receiver != "slack" || c.Name != "post" {
		t.Errorf("Then[0].Call = %s, want slack.post", c.Callee())
	}
	if ifStep.Else[0].Kind != syntax.StepFallback {
		t.Errorf("Else[0].Kind = %s, want fallback", ifStep.Else[0].Kind)
	}

	loop := r.Body[3]
	if loop.Loop == nil || loop.Loop.Range == nil || loop.Loop.Range.Count() != 3 {
		t.Errorf("loop = %+v", loop.Loop)
	}
}

func TestParseTemplateSlots(t *testing.T) {
	t.Parallel()

	prog, err := Parse(notifierSource)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	call := prog.Agents[0].Routines[0].Body[0].Call
	lit, ok := call.Args[0].Value.(*expr.Literal)
	if !ok {
		t.Fatalf("prompt arg is %T, want *expr.Literal", call.Args[0].Value)
	}
	if len(lit.Slots) != 1 || lit.Slots[0] != "payload" {
		t.Errorf("Slots = %v, want [payload]", lit.Slots)
	}
	if lit.Value != "Summarize {{payload}}" {
		t.Errorf("Value = %v, want the raw template", lit.Value)
	}
}

func TestParseFallback(t *testing.T) {
	t.Parallel()

	src := "agent a:\n  def r():\n    Please summarize the weather for {{city}}!\n  end\nend\n"

	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	step := prog.Agents[0].Routines[0].Body[0]
	if step.Kind != syntax.StepFallback {
		t.Fatalf("Kind = %s, want fallback", step.Kind)
	}
	if step.Call.Name != "call_llm" || len(step.Call.Args) != 1 {
		t.Errorf("Call = %+v, want single-argument call_llm", step.Call)
	}

	_, err = New(WithStrict(true)).Parse(src)
	var pe *syntax.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("strict Parse() error = %v, want *syntax.ParseError", err)
	}
	if pe.Pos.Line != 3 {
		t.Errorf("strict error line = %d, want 3", pe.Pos.Line)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		line int
	}{
		{"missing end", "agent a:\n  def r():\n    x = 1\n  end\n", 1},
		{"stray top level", "hello world\n", 1},
		{"bad binding", "agent a binds slack as s:\nend\n", 1},
		{"else without if", "agent a:\n def r():\n  else:\n end\nend\n", 3},
		{"after return", "agent a:\n def r():\n  return 1\n  x = 2\n end\nend\n", 4},
		{"malformed assign", "agent a:\n def r():\n  x = (1 +\n end\nend\n", 3},
		{"return in block", "agent a:\n def r():\n  if true:\n   return 1\n  end\n end\nend\n", 4},
		{"duplicate agent", "agent a:\nend\nagent a:\nend\n", 3},
		{"invalid utf8", "agent a:\n\xff\nend\n", 2},
		{"bad retry", "agent a:\n def r():\n  store(key=\"k\") retry x\n end\nend\n", 3},
		{"def inside def", "agent a:\n def r():\n  def q():\n end\nend\n", 3},
		{"trigger without routine", "agent a:\n # n8n: trigger webhook path=\"/x\"\nend\n", 2},
		{"nesting too deep", "agent a:\n def r():\n  x = " + strings.Repeat("[", 100000) + "\n end\nend\n", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(tt.src)
			var pe *syntax.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Parse() error = %v, want *syntax.ParseError", err)
			}
			if pe.Pos.Line != tt.line {
				t.Errorf("error line = %d, want %d (%v)", pe.Pos.Line, tt.line, pe)
			}
			if !errors.Is(err, syntax.ErrParse) {
				t.Error("errors.Is(err, ErrParse) = false")
			}
		})
	}
}

func TestParseDisallowedExpressionIsDeferred(t *testing.T) {
	t.Parallel()

	// Attribute access is syntactically well formed; rejecting it is the
	// checker's job so the error carries evaluation semantics.
	src := "agent a:\n def r(x):\n  y = x.secret\n  return y\n end\nend\n"
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, ok := prog.Agents[0].Routines[0].Body[0].Expr.(*expr.Attr); !ok {
		t.Errorf("Expr = %T, want *expr.Attr", prog.Agents[0].Routines[0].Body[0].Expr)
	}
}

func TestParseIsTotal(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"\n\n\n",
		"end",
		"agent",
		"agent a",
		"agent a:\n def",
		"agent a:\n def r(:\n",
		"agent a:\n def r():\n  for x in y:\n",
		"agent a:\n def r():\n  \"unterminated\n end\nend",
		strings.Repeat("(", 1000),
		"agent a:\n def r():\n  x = " + strings.Repeat("[", 200) + "\n end\nend",
		"agent a:\n def r():\n  x = " + strings.Repeat("(", 100000) + "1" + strings.Repeat(")", 100000) + "\n end\nend",
		"agent a:\n def r():\n  assert " + strings.Repeat("not ", 100000) + "x\n end\nend",
		"\x00\x01\x02",
		"agent é:\n def ü():\n  ß = 1\n end\nend",
	}

	for _, in := range inputs {
		prog, err := Parse(in)
		if prog == nil && err == nil {
			t.Errorf("Parse(%q) returned neither tree nor error", in)
		}
	}
}
