package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/apl/domain/expr"
)

// Result contains the output of a proxy invocation.
type Result struct {
	// Output is the JSON-encoded result value.
	Output json.RawMessage `json:"output"`

	// Duration is how long the invocation took.
	Duration time.Duration `json:"duration"`
}

// NewResult creates a result with the given raw output.
func NewResult(output json.RawMessage) Result {
	return Result{Output: output}
}

// NewValueResult encodes v as the result output.
func NewValueResult(v any) (Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return Result{Output: data}, nil
}

// Value decodes the output into the expression value domain. Empty output
// decodes to nil.
func (r Result) Value() (any, error) {
	if len(bytes.TrimSpace(r.Output)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(r.Output))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return expr.Normalize(v), nil
}

// OutputString returns the output as a string for convenience.
func (r Result) OutputString() string {
	return string(r.Output)
}
