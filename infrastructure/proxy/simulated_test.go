package proxy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/felixgeelhaar/apl/domain/tool"
)

func invokeSimulated(t *testing.T, s *Simulated, d tool.Descriptor, inv tool.Invocation) any {
	t.Helper()

	p, err := s.NewProxy(d)
	if err != nil {
		t.Fatalf("NewProxy(%s) error = %v", d.Key(), err)
	}
	result, err := p.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("Invoke(%s) error = %v", d.Key(), err)
	}
	v, err := result.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	return v
}

func TestSimulated_Primitives(t *testing.T) {
	t.Parallel()

	s := NewSimulated()
	llm, _ := tool.Primitive(tool.PrimitiveCallLLM)
	fetch, _ := tool.Primitive(tool.PrimitiveFetch)

	tests := []struct {
		name string
		d    tool.Descriptor
		args map[string]any
		want string
	}{
		{"llm default model", llm, map[string]any{"prompt": "  summarize  "}, "[mocked:mock] summarize"},
		{"llm named model", llm, map[string]any{"prompt": "x", "model": "gpt"}, "[mocked:gpt] x"},
		{"fetch", fetch, map[string]any{"url": "https://example.com"}, "fetched(https://example.com)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := invokeSimulated(t, s, tt.d, tool.Invocation{Args: tt.args})
			if got != tt.want {
				t.Errorf("output = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestSimulated_Store(t *testing.T) {
	t.Parallel()

	s := NewSimulated(WithStoreBasePath("/data"))
	d, _ := tool.Primitive(tool.PrimitiveStore)

	got := invokeSimulated(t, s, d, tool.Invocation{
		Agent:   "writer",
		Routine: "save",
		Args:    map[string]any{"key": "notes/a", "value": "hello"},
	})
	out, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("output = %T, want map", got)
	}
	if out["status"] != "ok" || out["key"] != "notes/a" || out["value"] != "hello" {
		t.Errorf("output = %v, want status ok with key and value", out)
	}
	meta := out["meta"].(map[string]any)
	if meta["agent"] != "writer" || meta["requesting_task"] != "save" || meta["base_path"] != "/data" {
		t.Errorf("meta = %v, want agent/requesting_task/base_path", meta)
	}
	if meta["size"] != int64(5) {
		t.Errorf("meta.size = %v (%T), want 5", meta["size"], meta["size"])
	}

	p, _ := s.NewProxy(d)
	if _, err := p.Invoke(context.Background(), tool.Invocation{Args: map[string]any{"value": 1}}); err == nil {
		t.Error("Invoke() without key error = nil, want error")
	}
}

func TestSimulated_FixturesAndEcho(t *testing.T) {
	t.Parallel()

	s := NewSimulated(
		WithFixture("crm.lookup", json.RawMessage(`{"tier":"silver"}`)),
		WithFixtures(map[string]json.RawMessage{"crm.lookup.vip": json.RawMessage(`{"tier":"gold"}`)}),
	)
	crm := tool.NewBuilder("crm", "lookup").MustBuild()

	got := invokeSimulated(t, s, crm, tool.Invocation{Operation: "vip"})
	if got.(map[string]any)["tier"] != "gold" {
		t.Errorf("operation fixture = %v, want gold", got)
	}
	got = invokeSimulated(t, s, crm, tool.Invocation{Operation: "basic"})
	if got.(map[string]any)["tier"] != "silver" {
		t.Errorf("tool fixture = %v, want silver", got)
	}

	other := tool.NewBuilder("billing", "charge").MustBuild()
	got = invokeSimulated(t, s, other, tool.Invocation{Operation: "run", Args: map[string]any{"amount": int64(3)}})
	echo := got.(map[string]any)
	if echo["tool"] != "billing.charge" || echo["operation"] != "run" {
		t.Errorf("echo = %v, want tool and operation", echo)
	}
	if args := echo["args"].(map[string]any); args["amount"] != int64(3) {
		t.Errorf("echo args = %v, want amount=3", args)
	}
}

func TestSimulated_Deterministic(t *testing.T) {
	t.Parallel()

	s := NewSimulated()
	d, _ := tool.Builtin(tool.N8NNamespace, "call_workflow")
	inv := tool.Invocation{Args: map[string]any{"workflow_id": "wf", "payload": map[string]any{"b": 2, "a": 1}}}

	p, _ := s.NewProxy(d)
	first, err := p.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	second, _ := p.Invoke(context.Background(), inv)
	if first.OutputString() != second.OutputString() {
		t.Errorf("outputs differ: %s vs %s", first.OutputString(), second.OutputString())
	}
}
