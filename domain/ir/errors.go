package ir

import (
	"errors"
	"fmt"
)

// Domain errors for IR artifacts.
var (
	// ErrInvalidIR indicates a malformed or cyclic graph.
	ErrInvalidIR = errors.New("invalid IR")

	// ErrHashMismatch indicates an artifact whose content does not match
	// its recorded hash.
	ErrHashMismatch = errors.New("IR hash mismatch")

	// ErrIncompatibleVersion indicates an unsupported ir_version.
	ErrIncompatibleVersion = errors.New("incompatible IR version")
)

// ValidationError reports a malformed IR graph. For a tree that passed the
// checker it indicates a compiler defect.
type ValidationError struct {
	NodeID  string
	Pos     SourceRef
	Message string
}

func (e *ValidationError) Error() string {
	if e.NodeID == "" {
		return "invalid IR: " + e.Message
	}
	return fmt.Sprintf("invalid IR at node %s (%s): %s", e.NodeID, e.Pos, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidIR
}

// HashMismatchError reports the expected and actual hash.
type HashMismatchError struct {
	Recorded string
	Computed string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("IR hash mismatch: recorded %s, computed %s", e.Recorded, e.Computed)
}

func (e *HashMismatchError) Unwrap() error {
	return ErrHashMismatch
}
