package expr

import (
	"errors"
	"fmt"
)

// Sentinel errors for expression handling.
var (
	// ErrSyntax indicates malformed expression text.
	ErrSyntax = errors.New("expression syntax error")

	// ErrEvaluation indicates an expression that cannot be evaluated, either
	// because it leaves the accepted grammar or because of a runtime fault.
	ErrEvaluation = errors.New("evaluation error")
)

// SyntaxError reports malformed expression text.
type SyntaxError struct {
	Pos     Pos
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Message)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

// EvaluationError reports an expression outside the accepted grammar or a
// fault while evaluating it.
type EvaluationError struct {
	// StepID is filled in by the caller that owns the step.
	StepID  string
	Expr    string
	Pos     Pos
	Message string
}

func (e *EvaluationError) Error() string {
	msg := e.Message
	if e.Expr != "" {
		msg = fmt.Sprintf("%s in %q", msg, e.Expr)
	}
	if e.StepID != "" {
		msg = fmt.Sprintf("step %s: %s", e.StepID, msg)
	}
	if e.Pos.IsValid() {
		msg = fmt.Sprintf("%s: %s", e.Pos, msg)
	}
	return "evaluation error: " + msg
}

func (e *EvaluationError) Unwrap() error {
	return ErrEvaluation
}

func evalErrorf(n Node, format string, args ...any) *EvaluationError {
	e := &EvaluationError{Message: fmt.Sprintf(format, args...)}
	if n != nil {
		e.Pos = n.Position()
	}
	return e
}
