package trace

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Option configures a Trace.
type Option func(*Trace)

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Trace) {
		t.now = now
	}
}

// Trace is the ordered record of one run. Records can only be appended.
type Trace struct {
	runID   string
	now     func() time.Time
	mu      sync.RWMutex
	records []Record
}

// New creates an empty trace for a run.
func New(runID string, opts ...Option) *Trace {
	t := &Trace{
		runID:   runID,
		now:     time.Now,
		records: make([]Record, 0),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RunID returns the associated run ID.
func (t *Trace) RunID() string {
	return t.runID
}

// Append adds a record, assigning its sequence number and, if unset, its
// timestamp. It returns the stored record.
func (t *Trace) Append(r Record) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	r.Seq = len(t.records) + 1
	if r.Timestamp.IsZero() {
		r.Timestamp = t.now().UTC()
	}
	t.records = append(t.records, r)
	return r
}

// Records returns a copy of all records.
func (t *Trace) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Len returns the number of records.
func (t *Trace) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Last returns the most recent record, or nil if empty.
func (t *Trace) Last() *Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.records) == 0 {
		return nil
	}
	r := t.records[len(t.records)-1]
	return &r
}

// Invocations returns the records of steps that reached a proxy.
func (t *Trace) Invocations() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	for _, r := range t.records {
		if r.ToolInvoked != "" {
			out = append(out, r)
		}
	}
	return out
}

// Encode writes the records as an indented JSON array. Two runs with the
// same artifact, fixtures and clock encode identically.
func (t *Trace) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(t.Records())
}

// Decode reads records written by Encode.
func Decode(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}
