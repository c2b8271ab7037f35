package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/run"
	"github.com/felixgeelhaar/apl/domain/syntax"
)

const brokenSource = "agent keeper:\n    def save(:\n    end\nend\n"

// scriptedDrafter replies with the given drafts in order and records the
// briefs it was sent.
type scriptedDrafter struct {
	mu      sync.Mutex
	replies []string
	briefs  []string
}

func (d *scriptedDrafter) Draft(_ context.Context, brief string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.briefs = append(d.briefs, brief)
	if len(d.replies) == 0 {
		return "", errors.New("no more drafts")
	}
	reply := d.replies[0]
	if len(d.replies) > 1 {
		d.replies = d.replies[1:]
	}
	return reply, nil
}

func TestExtractSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"plain", "  agent a:\nend  \n", "agent a:\nend\n"},
		{"fenced", "```apl\nagent a:\nend\n```", "agent a:\nend\n"},
		{"prose around fence", "Here you go:\n\n```\nagent a:\nend\n```\nEnjoy.", "agent a:\nend\n"},
		{"unterminated fence", "```apl\nagent a:\nend", "agent a:\nend\n"},
		{"crlf", "```apl\r\nagent a:\r\nend\r\n```\r\n", "agent a:\nend\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ExtractSource(tt.reply); got != tt.want {
				t.Errorf("ExtractSource() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEngine_Author(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	d := &scriptedDrafter{replies: []string{"```apl\n" + keeperSource + "```\n"}}

	a, err := e.Author(context.Background(), d, "keep a note", 2)
	if err != nil {
		t.Fatalf("Author() error = %v", err)
	}
	if a.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", a.Attempts)
	}
	if a.Source != keeperSource {
		t.Errorf("Source = %q, want %q", a.Source, keeperSource)
	}
	if a.Compilation == nil || len(a.Compilation.Artifact.Routines()) != 1 {
		t.Errorf("Compilation = %+v, want one routine", a.Compilation)
	}
	if len(d.briefs) != 1 || d.briefs[0] != "keep a note" {
		t.Errorf("briefs = %q, want the brief once", d.briefs)
	}
}

func TestEngine_AuthorRepairsDraft(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	d := &scriptedDrafter{replies: []string{brokenSource, keeperSource}}

	a, err := e.Author(context.Background(), d, "keep a note", 3)
	if err != nil {
		t.Fatalf("Author() error = %v", err)
	}
	if a.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", a.Attempts)
	}
	if len(d.briefs) != 2 {
		t.Fatalf("briefs = %d, want 2", len(d.briefs))
	}
	repair := d.briefs[1]
	for _, want := range []string{"keep a note", "did not compile", "def save(:"} {
		if !strings.Contains(repair, want) {
			t.Errorf("repair brief missing %q: %s", want, repair)
		}
	}
}

func TestEngine_AuthorErrors(t *testing.T) {
	t.Parallel()

	t.Run("no draft compiles", func(t *testing.T) {
		t.Parallel()

		e := newTestEngine(t)
		d := &scriptedDrafter{replies: []string{brokenSource}}
		_, err := e.Author(context.Background(), d, "keep a note", 2)

		var ae *AuthoringError
		if !errors.As(err, &ae) {
			t.Fatalf("Author() error = %v, want *AuthoringError", err)
		}
		if !errors.Is(err, ErrAuthoring) || !errors.Is(err, syntax.ErrParse) {
			t.Errorf("Author() error = %v, want ErrAuthoring and ErrParse", err)
		}
		if ae.Attempts != 2 || ae.Source != brokenSource {
			t.Errorf("AuthoringError = %+v, want 2 attempts with the last draft", ae)
		}
	})

	t.Run("empty brief", func(t *testing.T) {
		t.Parallel()

		e := newTestEngine(t)
		if _, err := e.Author(context.Background(), &scriptedDrafter{}, "  ", 1); !errors.Is(err, ErrAuthoring) {
			t.Errorf("Author() error = %v, want ErrAuthoring", err)
		}
	})

	t.Run("drafter fails", func(t *testing.T) {
		t.Parallel()

		e := newTestEngine(t)
		boom := errors.New("model unavailable")
		d := DrafterFunc(func(context.Context, string) (string, error) { return "", boom })
		if _, err := e.Author(context.Background(), d, "x", 3); !errors.Is(err, boom) {
			t.Errorf("Author() error = %v, want %v", err, boom)
		}
	})
}

const deskSource = `program desk

agent desk:
    capability storage
    # n8n: trigger webhook path="/apl/intake" method="post"
    def intake(ticket):
        saved = store(key="ticket", value=ticket) requires capability.storage
        return saved
    end
    def greet(name):
        return "hello {{name}}"
    end
end
`

func TestEngine_Pipeline(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, WithAllow(capability.Allowlist{"storage": {Allowed: true}}))
	res, err := e.Pipeline(context.Background(), nil, PipelineRequest{
		Source: deskSource,
		Args:   map[string]any{"ticket": "late delivery"},
	})
	if err != nil {
		t.Fatalf("Pipeline() error = %v", err)
	}
	if res.Authored != nil {
		t.Error("Authored set for a source request")
	}
	if res.Workflow == nil || res.WorkflowWarning != "" {
		t.Errorf("Workflow = %v, warning %q, want an exported workflow", res.Workflow, res.WorkflowWarning)
	}
	if len(res.Runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(res.Runs))
	}
	if len(res.Failed()) != 0 {
		t.Errorf("Failed() = %v, want none", res.Failed())
	}
	if got := res.Runs[1].Result; got != "hello none" {
		t.Errorf("greet result = %v, want hello none", got)
	}
}

func TestEngine_PipelineRecordsRunFailures(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	res, err := e.Pipeline(context.Background(), nil, PipelineRequest{Source: deskSource, Routine: "desk.intake"})
	if err != nil {
		t.Fatalf("Pipeline() error = %v", err)
	}
	failed := res.Failed()
	if len(res.Runs) != 1 || len(failed) != 1 {
		t.Fatalf("runs = %d, failed = %d, want 1 and 1", len(res.Runs), len(failed))
	}
	if failed[0].State != run.StateFailed || !strings.Contains(failed[0].Error, "storage") {
		t.Errorf("failed run = %s %q, want a storage violation", failed[0].State, failed[0].Error)
	}
}

func TestEngine_PipelineAuthors(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, WithAllow(capability.Allowlist{"storage": {Allowed: true}}))
	d := &scriptedDrafter{replies: []string{keeperSource}}
	res, err := e.Pipeline(context.Background(), d, PipelineRequest{Brief: "keep a note", Attempts: 1})
	if err != nil {
		t.Fatalf("Pipeline() error = %v", err)
	}
	if res.Authored == nil || res.Source != keeperSource {
		t.Fatalf("Authored = %+v, want the drafted program", res.Authored)
	}
	if res.Workflow != nil || !strings.Contains(res.WorkflowWarning, "no routines annotated") {
		t.Errorf("WorkflowWarning = %q, want the no-trigger warning", res.WorkflowWarning)
	}
	if len(res.Runs) != 1 || res.Runs[0].State != run.StateCompleted {
		t.Errorf("runs = %+v, want one completed run", res.Runs)
	}

	if _, err := e.Pipeline(context.Background(), nil, PipelineRequest{Brief: "x"}); !errors.Is(err, ErrAuthoring) {
		t.Errorf("Pipeline() without drafter error = %v, want ErrAuthoring", err)
	}
}
