// Package trace provides the append-only execution trace of one run.
package trace

import (
	"bytes"
	"encoding/json"
	"time"
	"unicode/utf8"
)

// Status is the outcome of one step.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// SummaryLimit is the maximum length in bytes of an output summary.
const SummaryLimit = 200

// Record is one step evaluation.
type Record struct {
	Seq     int    `json:"seq"`
	StepID  string `json:"step_id"`
	Kind    string `json:"kind"`
	Agent   string `json:"agent"`
	Routine string `json:"routine"`

	// CapabilityChecked lists the capabilities consulted before the step;
	// CapabilityResult is "allowed" or "denied" when any were.
	CapabilityChecked []string `json:"capability_checked,omitempty"`
	CapabilityResult  string   `json:"capability_result,omitempty"`

	// ToolInvoked is "namespace.name[.operation]" for invoking steps that
	// reached the proxy.
	ToolInvoked string         `json:"tool_invoked,omitempty"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`

	OutputSummary string    `json:"output_summary,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`

	// Condition is the expression text of a failed assertion or
	// pre/postcondition.
	Condition string `json:"condition,omitempty"`
}

// Summarize renders v as compact JSON cut to SummaryLimit bytes on a rune
// boundary.
func Summarize(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	s := string(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	if len(s) <= SummaryLimit {
		return s
	}
	cut := SummaryLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
