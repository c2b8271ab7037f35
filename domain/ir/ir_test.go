package ir_test

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/ir"
	"github.com/felixgeelhaar/apl/domain/syntax"
)

func sample() *ir.Artifact {
	a := &ir.Artifact{
		IRVersion: ir.Version,
		Generator: "apl/test",
		Program:   "main",
		Nodes: []ir.Node{
			{ID: "a.run@entry", Kind: ir.KindEntry, Agent: "a", Routine: "run", Outputs: []string{"topic"}, SourceRef: syntax.Pos{Line: 2, Column: 5}},
			{
				ID: "a.run@3", Kind: ir.KindCallLLM, Agent: "a", Routine: "run",
				Inputs:    []ir.Input{{Name: "prompt", Expr: `"summarize {{topic}}"`, Refs: []ir.Ref{{Var: "topic", Node: "a.run@entry"}}}},
				Outputs:   []string{"s"},
				Tool:      &ir.ToolRef{Namespace: "builtin", Name: "call_llm"},
				SourceRef: syntax.Pos{Line: 3, Column: 9},
			},
			{
				ID: "a.run@4", Kind: ir.KindReturn, Agent: "a", Routine: "run",
				Expr: "s", Refs: []ir.Ref{{Var: "s", Node: "a.run@3"}},
				SourceRef: syntax.Pos{Line: 4, Column: 9},
			},
		},
		Edges: []ir.Edge{
			{From: "a.run@entry", To: "a.run@3", Kind: ir.EdgeSeq},
			{From: "a.run@entry", To: "a.run@3", Kind: ir.EdgeData},
			{From: "a.run@3", To: "a.run@4", Kind: ir.EdgeSeq},
			{From: "a.run@3", To: "a.run@4", Kind: ir.EdgeData},
		},
		CapabilityManifest: capability.Manifest{"network": capability.Params{"limit": "10"}},
	}
	if err := a.Seal(); err != nil {
		panic(err)
	}
	return a
}

func TestHashIsDeterministic(t *testing.T) {
	t.Parallel()

	a, b := sample(), sample()
	if a.Hash != b.Hash {
		t.Errorf("hash = %s, want %s", a.Hash, b.Hash)
	}
	if len(a.Hash) != 64 {
		t.Errorf("len(hash) = %d, want 64", len(a.Hash))
	}

	// Metadata outside the hashed content does not change the hash.
	b.Generator = "apl/other"
	h, err := b.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash() error = %v", err)
	}
	if h != a.Hash {
		t.Errorf("hash after generator change = %s, want %s", h, a.Hash)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	a := sample()
	var buf bytes.Buffer
	if err := ir.Encode(&buf, a); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := ir.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Hash != a.Hash {
		t.Errorf("decoded hash = %s, want %s", got.Hash, a.Hash)
	}
	if !reflect.DeepEqual(got.Nodes, a.Nodes) {
		t.Errorf("decoded nodes = %+v, want %+v", got.Nodes, a.Nodes)
	}
	if err := got.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestDecodeDetectsTampering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := ir.Encode(&buf, sample()); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	tampered := strings.Replace(buf.String(), "summarize", "exfiltrate", 1)

	_, err := ir.Decode(strings.NewReader(tampered))
	if !errors.Is(err, ir.ErrHashMismatch) {
		t.Fatalf("Decode() error = %v, want ErrHashMismatch", err)
	}
	var mismatch *ir.HashMismatchError
	if !errors.As(err, &mismatch) || mismatch.Recorded == mismatch.Computed {
		t.Errorf("HashMismatchError = %+v", mismatch)
	}
}

func TestDecodeRejectsIncompatibleVersion(t *testing.T) {
	t.Parallel()

	a := sample()
	a.IRVersion = "2.0"
	var buf bytes.Buffer
	if err := ir.Encode(&buf, a); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, err := ir.Decode(&buf); !errors.Is(err, ir.ErrIncompatibleVersion) {
		t.Errorf("Decode() error = %v, want ErrIncompatibleVersion", err)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := ir.Decode(strings.NewReader(`{"ir_version":"1.0","nodes":[],"edges":[],"surprise":1}`))
	if !errors.Is(err, ir.ErrInvalidIR) {
		t.Errorf("Decode() error = %v, want ErrInvalidIR", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(a *ir.Artifact)
		want   string
	}{
		{"valid", func(*ir.Artifact) {}, ""},
		{
			"cycle",
			func(a *ir.Artifact) {
				a.Edges = append(a.Edges, ir.Edge{From: "a.run@4", To: "a.run@entry", Kind: ir.EdgeSeq})
			},
			"cycle",
		},
		{
			"duplicate id",
			func(a *ir.Artifact) { a.Nodes[2].ID = "a.run@3" },
			"duplicate",
		},
		{
			"forward ref",
			func(a *ir.Artifact) { a.Nodes[1].Inputs[0].Refs[0].Node = "a.run@4" },
			"read before",
		},
		{
			"unknown edge endpoint",
			func(a *ir.Artifact) { a.Edges[0].To = "a.run@99" },
			"unknown node",
		},
		{
			"tool node without tool",
			func(a *ir.Artifact) { a.Nodes[1].Tool = nil },
			"no tool reference",
		},
		{
			"unknown call target",
			func(a *ir.Artifact) {
				a.Nodes = append(a.Nodes, ir.Node{ID: "a.run@5", Kind: ir.KindCallAgent, Agent: "a", Routine: "run", Call: "b.run"})
			},
			"has no entry",
		},
		{
			"malformed expression",
			func(a *ir.Artifact) { a.Nodes[2].Expr = "s +" },
			"malformed expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := sample()
			tt.mutate(a)
			err := a.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ir.ErrInvalidIR) {
				t.Fatalf("Validate() error = %v, want ErrInvalidIR", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestTopoOrderKeepsNodeOrder(t *testing.T) {
	t.Parallel()

	a := sample()
	order, err := ir.TopoOrder(a.Nodes, a.Edges)
	if err != nil {
		t.Fatalf("TopoOrder() error = %v", err)
	}
	want := []string{"a.run@entry", "a.run@3", "a.run@4"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("TopoOrder() = %v, want %v", order, want)
	}
}

func TestArtifactLookups(t *testing.T) {
	t.Parallel()

	a := sample()
	if a.Entry("a", "run") == nil {
		t.Error("Entry(a, run) = nil")
	}
	if got := a.Routines(); !reflect.DeepEqual(got, []string{"a.run"}) {
		t.Errorf("Routines() = %v", got)
	}
	if _, ok := a.ToolRefs()["builtin.call_llm"]; !ok {
		t.Errorf("ToolRefs() = %v, want builtin.call_llm", a.ToolRefs())
	}
}
