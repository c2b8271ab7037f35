package tool

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/apl/domain/syntax"
)

// Domain errors for the tool system.
var (
	// ErrEmptyName indicates a descriptor without namespace or name.
	ErrEmptyName = errors.New("tool namespace and name cannot be empty")

	// ErrInvalidDescriptor indicates a malformed descriptor.
	ErrInvalidDescriptor = errors.New("invalid tool descriptor")

	// ErrToolNotFound indicates the requested tool was not found.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExists indicates a tool with the same key already exists.
	ErrToolExists = errors.New("tool already exists")

	// ErrUnresolved indicates a binding with no matching descriptor.
	ErrUnresolved = errors.New("unresolved binding")

	// ErrInvocation indicates a failed proxy call.
	ErrInvocation = errors.New("tool invocation failed")

	// ErrInvalidInput indicates arguments that violate the tool contract.
	ErrInvalidInput = errors.New("invalid tool input")

	// ErrInvalidOutput indicates output that could not be decoded.
	ErrInvalidOutput = errors.New("invalid tool output")

	// ErrExecutionTimeout indicates the tool execution timed out.
	ErrExecutionTimeout = errors.New("tool execution timed out")

	// ErrUnsupportedEndpoint indicates an endpoint no proxy factory handles.
	ErrUnsupportedEndpoint = errors.New("unsupported endpoint")
)

// UnresolvedBindError reports a binding alias that matched no descriptor.
type UnresolvedBindError struct {
	Alias  string
	Agent  string
	Target string
	Pos    syntax.Pos
}

func (e *UnresolvedBindError) Error() string {
	return fmt.Sprintf("%s: binding %q (%s) declared by agent %s does not resolve to a registered tool",
		e.Pos, e.Alias, e.Target, e.Agent)
}

func (e *UnresolvedBindError) Unwrap() error {
	return ErrUnresolved
}

// InvocationError reports a proxy call that failed or timed out.
type InvocationError struct {
	StepID    string
	Tool      string
	Operation string
	Attempts  int
	Err       error
}

func (e *InvocationError) Error() string {
	name := e.Tool
	if e.Operation != "" {
		name += "." + e.Operation
	}
	return fmt.Sprintf("step %s: invoking %s failed after %d attempt(s): %v", e.StepID, name, e.Attempts, e.Err)
}

func (e *InvocationError) Unwrap() []error {
	return []error{ErrInvocation, e.Err}
}
