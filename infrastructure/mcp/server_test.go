package mcp

import (
	"context"
	"errors"
	"testing"
)

func TestServer(t *testing.T) {
	t.Parallel()

	var gotArgs map[string]any
	srv := NewServer(ServerConfig{
		Name:    "apl",
		Version: "0.1.0",
		Routines: []Routine{
			{Agent: "support", Name: "triage", Params: []string{"ticket"}},
			{Agent: "support", Name: "close"},
		},
		Run: func(_ context.Context, agent, routine string, args map[string]any) (any, error) {
			if routine == "close" {
				return nil, errors.New("ticket locked")
			}
			gotArgs = args
			return map[string]any{"agent": agent, "routine": routine}, nil
		},
	})

	if srv.Server() == nil {
		t.Fatal("Server() = nil")
	}
	tools := srv.Tools()
	if len(tools) != 2 || tools[0] != "support_close" || tools[1] != "support_triage" {
		t.Errorf("Tools() = %v", tools)
	}

	ctx := context.Background()
	out, err := srv.Handle(ctx, "support_triage", []byte(`{"ticket":"T-1"}`))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if out != `{"agent":"support","routine":"triage"}` {
		t.Errorf("Handle() = %s", out)
	}
	if gotArgs["ticket"] != "T-1" {
		t.Errorf("args = %v", gotArgs)
	}

	tests := []struct {
		name  string
		tool  string
		input string
	}{
		{name: "unknown tool", tool: "support_reopen", input: `{}`},
		{name: "non-object args", tool: "support_triage", input: `[1,2]`},
		{name: "routine failure", tool: "support_close", input: ``},
	}
	for _, tt := range tests {
		if _, err := srv.Handle(ctx, tt.tool, []byte(tt.input)); err == nil {
			t.Errorf("%s: Handle() succeeded, want error", tt.name)
		}
	}
}
