// Package audit writes capability decisions as JSON lines and reads them
// back.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/felixgeelhaar/apl/domain/capability"
)

// Redacted replaces sensitive parameter values.
const Redacted = "[REDACTED]"

// sensitive parameter name fragments.
var sensitive = []string{"secret", "token", "password", "apikey", "api_key", "credential"}

// JSONLogger writes one JSON object per capability decision.
type JSONLogger struct {
	mu      sync.Mutex
	writer  io.Writer
	encoder *json.Encoder
	redact  bool
}

// Option configures a JSONLogger.
type Option func(*JSONLogger)

// WithoutRedaction keeps parameter values verbatim.
func WithoutRedaction() Option {
	return func(l *JSONLogger) {
		l.redact = false
	}
}

// NewJSONLogger creates a logger writing to w.
func NewJSONLogger(w io.Writer, opts ...Option) *JSONLogger {
	l := &JSONLogger{
		writer:  w,
		encoder: json.NewEncoder(w),
		redact:  true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenFile appends to the JSONL file at path, creating it if needed.
func OpenFile(path string, opts ...Option) (*JSONLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return NewJSONLogger(f, opts...), nil
}

// Record implements capability.AuditSink.
func (l *JSONLogger) Record(ctx context.Context, rec capability.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.redact {
		rec.Params = Redact(rec.Params)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(rec)
}

// Close closes the underlying writer if it is closable.
func (l *JSONLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Redact returns a copy of params with sensitive values replaced.
func Redact(params capability.Params) capability.Params {
	out := params.Clone()
	for k := range out {
		if isSensitive(k) {
			out[k] = Redacted
		}
	}
	return out
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// ReadTrail decodes a JSONL audit log and returns the records of runID in
// file order. An empty runID returns every record.
func ReadTrail(r io.Reader, runID string) ([]capability.AuditRecord, error) {
	var out []capability.AuditRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec capability.AuditRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", line, err)
		}
		if runID == "" || rec.RunID == runID {
			out = append(out, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ capability.AuditSink = (*JSONLogger)(nil)
