package capability

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/apl/domain/syntax"
)

// Domain errors for capability enforcement.
var (
	// ErrMissingCapability indicates a statically undeclared capability.
	ErrMissingCapability = errors.New("missing capability")

	// ErrCapabilityDenied indicates a runtime capability check was denied.
	ErrCapabilityDenied = errors.New("capability denied")
)

// CapabilityError reports a step whose required capability is not declared
// by its enclosing agent or any agent it composes.
type CapabilityError struct {
	StepID     string
	Capability string
	Agent      string
	Pos        syntax.Pos
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: step %s requires capability %q, not declared by agent %s",
		e.Pos, e.StepID, e.Capability, e.Agent)
}

func (e *CapabilityError) Unwrap() error {
	return ErrMissingCapability
}

// Violation reports a capability check denied at runtime. It halts the
// routine invocation that attempted the step.
type Violation struct {
	StepID     string
	Capability string
	Reason     string
	Pos        syntax.Pos
}

func (e *Violation) Error() string {
	return fmt.Sprintf("capability violation at step %s: %s denied: %s", e.StepID, e.Capability, e.Reason)
}

func (e *Violation) Unwrap() error {
	return ErrCapabilityDenied
}
