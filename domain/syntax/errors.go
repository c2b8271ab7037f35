package syntax

import (
	"errors"
	"fmt"
)

// Sentinel errors for source handling.
var (
	// ErrParse indicates malformed source text.
	ErrParse = errors.New("parse error")

	// ErrName indicates a name resolution failure.
	ErrName = errors.New("name resolution error")
)

// ParseError reports malformed source at a position.
type ParseError struct {
	Pos     Pos
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %s: %s", e.Pos, e.Message)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// NameError reports an undeclared variable, an unknown callee or a binding
// alias that collides with a variable name.
type NameError struct {
	StepID  string
	Name    string
	Agent   string
	Pos     Pos
	Message string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("%s: agent %s, step %s: %s %q", e.Pos, e.Agent, e.StepID, e.Message, e.Name)
}

func (e *NameError) Unwrap() error {
	return ErrName
}
