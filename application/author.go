package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/apl/infrastructure/logging"
	"github.com/felixgeelhaar/apl/infrastructure/observability"
)

// ErrAuthoring is returned when no drafted program compiles.
var ErrAuthoring = errors.New("authoring failed")

// Drafter turns a natural-language brief into candidate program source.
type Drafter interface {
	Draft(ctx context.Context, brief string) (string, error)
}

// DrafterFunc adapts a function to Drafter.
type DrafterFunc func(ctx context.Context, brief string) (string, error)

// Draft implements Drafter.
func (f DrafterFunc) Draft(ctx context.Context, brief string) (string, error) {
	return f(ctx, brief)
}

// Authored is a drafted program that compiled.
type Authored struct {
	Brief       string
	Source      string
	Attempts    int
	Compilation *Compilation
}

// AuthoringError reports the last draft that failed to compile.
type AuthoringError struct {
	Attempts int
	Source   string
	Err      error
}

func (e *AuthoringError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrAuthoring, e.Attempts, e.Err)
}

func (e *AuthoringError) Unwrap() []error {
	return []error{ErrAuthoring, e.Err}
}

// Author drafts a program for brief and compiles it. A draft that does
// not compile is sent back with the compiler error, up to attempts drafts
// in total.
func (e *Engine) Author(ctx context.Context, d Drafter, brief string, attempts int) (*Authored, error) {
	if strings.TrimSpace(brief) == "" {
		return nil, fmt.Errorf("%w: empty brief", ErrAuthoring)
	}
	if attempts < 1 {
		attempts = 1
	}

	ctx, span := observability.StartSpan(ctx, e.tracer, "apl.author")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	request := brief
	for i := 1; i <= attempts; i++ {
		var reply string
		reply, err = d.Draft(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("draft program: %w", err)
		}
		source := ExtractSource(reply)

		var c *Compilation
		c, err = e.Compile(ctx, source)
		if err == nil {
			logging.Info().
				Add(logging.Component("author")).
				Add(logging.Hash(c.Artifact.Hash)).
				Add(logging.Count("attempts", i)).
				Msg("program authored")
			return &Authored{Brief: brief, Source: source, Attempts: i, Compilation: c}, nil
		}

		logging.Warn().
			Add(logging.Component("author")).
			Add(logging.Count("attempt", i)).
			Add(logging.ErrorField(err)).
			Msg("draft did not compile")
		if i == attempts {
			err = &AuthoringError{Attempts: i, Source: source, Err: err}
			return nil, err
		}
		request = repairBrief(brief, source, err)
	}
	return nil, ErrAuthoring
}

func repairBrief(brief, source string, err error) string {
	var b strings.Builder
	b.WriteString(brief)
	b.WriteString("\n\nThe previous program did not compile:\n")
	b.WriteString(err.Error())
	b.WriteString("\n\nPrevious program:\n")
	b.WriteString(source)
	b.WriteString("\n\nReturn a corrected program.")
	return b.String()
}

// ExtractSource strips Markdown code fences and surrounding prose from a
// model reply. Replies without a fence are returned trimmed.
func ExtractSource(reply string) string {
	lines := strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n")
	start := -1
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		if start < 0 {
			start = i + 1
			continue
		}
		return strings.TrimSpace(strings.Join(lines[start:i], "\n")) + "\n"
	}
	if start >= 0 {
		return strings.TrimSpace(strings.Join(lines[start:], "\n")) + "\n"
	}
	return strings.TrimSpace(reply) + "\n"
}
