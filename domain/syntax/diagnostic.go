package syntax

import "fmt"

// Severity of a diagnostic.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic codes.
const (
	// CodeFallbackModelCall marks a line that matched no statement form
	// and was compiled as a single-argument model call.
	CodeFallbackModelCall = "W_FALLBACK_MODEL_CALL"
)

// Diagnostic is a machine-checkable compiler message.
type Diagnostic struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	StepID   string   `json:"step_id,omitempty"`
	Pos      Pos      `json:"pos"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s [%s] %s", d.Pos, d.Severity, d.Code, d.Message)
}

// HasCode reports whether any diagnostic carries code.
func HasCode(diags []Diagnostic, code string) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}
