package trace

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func stepClock() func() time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestAppendAssignsSequenceAndTime(t *testing.T) {
	t.Parallel()

	tr := New("run-1", WithClock(stepClock()))
	tr.Append(Record{StepID: "a.r@1", Status: StatusOK})
	got := tr.Append(Record{StepID: "a.r@2", Status: StatusFailed})

	if got.Seq != 2 {
		t.Errorf("Seq = %d, want 2", got.Seq)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC); !got.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, want)
	}
	if tr.Len() != 2 || tr.Last().StepID != "a.r@2" {
		t.Errorf("Last() = %+v", tr.Last())
	}
}

func TestRecordsIsACopy(t *testing.T) {
	t.Parallel()

	tr := New("run-1")
	tr.Append(Record{StepID: "a.r@1"})
	recs := tr.Records()
	recs[0].StepID = "mutated"
	if tr.Records()[0].StepID != "a.r@1" {
		t.Error("Records() exposed internal state")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	t.Parallel()

	build := func() string {
		tr := New("ignored", WithClock(stepClock()))
		tr.Append(Record{StepID: "a.r@3", ToolInvoked: "builtin.store", Arguments: map[string]any{"b": 1, "a": "<x>"}, Status: StatusOK})
		var buf bytes.Buffer
		if err := tr.Encode(&buf); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		return buf.String()
	}
	a, b := build(), build()
	if a != b {
		t.Errorf("Encode() differs between identical traces:\n%s\n%s", a, b)
	}
	if !strings.Contains(a, `"<x>"`) {
		t.Errorf("Encode() escaped HTML: %s", a)
	}

	recs, err := Decode(strings.NewReader(a))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(recs) != 1 || recs[0].ToolInvoked != "builtin.store" {
		t.Errorf("Decode() = %+v", recs)
	}
}

func TestInvocations(t *testing.T) {
	t.Parallel()

	tr := New("run-1")
	tr.Append(Record{StepID: "a.r@1", CapabilityResult: "denied"})
	tr.Append(Record{StepID: "a.r@2", ToolInvoked: "builtin.fetch"})
	if got := tr.Invocations(); len(got) != 1 || got[0].StepID != "a.r@2" {
		t.Errorf("Invocations() = %+v", got)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "hi", `"hi"`},
		{"map sorted", map[string]any{"b": 1, "a": true}, `{"a":true,"b":1}`},
		{"nil", nil, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Summarize(tt.in); got != tt.want {
				t.Errorf("Summarize() = %s, want %s", got, tt.want)
			}
		})
	}

	long := Summarize(strings.Repeat("é", 300))
	if len(long) > SummaryLimit {
		t.Errorf("len(Summarize) = %d, want <= %d", len(long), SummaryLimit)
	}
	if !utf8.ValidString(long) {
		t.Error("Summarize cut inside a rune")
	}
}
