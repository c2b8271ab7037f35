package run

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/apl/domain/syntax"
)

// Domain errors for routine execution.
var (
	// ErrAssertion indicates a failed assert step.
	ErrAssertion = errors.New("assertion failed")

	// ErrCondition indicates a false precondition or postcondition.
	ErrCondition = errors.New("condition failed")

	// ErrMissingArgument indicates a routine parameter with no value.
	ErrMissingArgument = errors.New("missing routine argument")

	// ErrUnknownRoutine indicates an entry point not present in the artifact.
	ErrUnknownRoutine = errors.New("unknown routine")

	// ErrInvalidTransition indicates an illegal routine state change.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrUnsetEnv indicates an env:NAME argument whose variable is unset.
	ErrUnsetEnv = errors.New("environment variable not set")
)

// Domain errors for run store operations.
var (
	// ErrRunNotFound is returned when a run does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned when attempting to create a run that already exists.
	ErrRunExists = errors.New("run already exists")

	// ErrInvalidRunID is returned when a run ID is invalid (e.g., empty).
	ErrInvalidRunID = errors.New("invalid run ID")

	// ErrConnectionFailed is returned when connection to the store backend fails.
	ErrConnectionFailed = errors.New("store connection failed")
)

// AssertionError reports an assert step whose condition evaluated false.
type AssertionError struct {
	StepID    string
	Condition string
	Pos       syntax.Pos
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: assertion failed at step %s: %s", e.Pos, e.StepID, e.Condition)
}

func (e *AssertionError) Unwrap() error {
	return ErrAssertion
}

// ConditionKind distinguishes preconditions from postconditions.
type ConditionKind string

const (
	Precondition  ConditionKind = "precondition"
	Postcondition ConditionKind = "postcondition"
)

// ConditionError reports a routine contract that did not hold.
type ConditionError struct {
	Kind      ConditionKind
	StepID    string
	Condition string
	Pos       syntax.Pos
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("%s: %s failed at %s: %s", e.Pos, e.Kind, e.StepID, e.Condition)
}

func (e *ConditionError) Unwrap() error {
	return ErrCondition
}

// ArgumentError names the routine parameter that received no value.
type ArgumentError struct {
	Routine string
	Param   string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("routine %s: no value for parameter %q", e.Routine, e.Param)
}

func (e *ArgumentError) Unwrap() error {
	return ErrMissingArgument
}
