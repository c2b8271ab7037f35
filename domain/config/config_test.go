package config

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Runtime.Mode != ModeSimulated {
		t.Errorf("Runtime.Mode = %s, want %s", cfg.Runtime.Mode, ModeSimulated)
	}
	if cfg.Runtime.MaxLoopUnroll != 64 {
		t.Errorf("Runtime.MaxLoopUnroll = %d, want 64", cfg.Runtime.MaxLoopUnroll)
	}
	if cfg.Registry.Cache.TTL.Duration() != 5*time.Minute {
		t.Errorf("Registry.Cache.TTL = %v, want 5m", cfg.Registry.Cache.TTL.Duration())
	}
	if cfg.Authoring.Attempts != 2 || cfg.Authoring.Temperature != 0.2 {
		t.Errorf("Authoring = %+v, want 2 attempts at 0.2", cfg.Authoring)
	}
	allow, err := cfg.Allowlist()
	if err != nil || len(allow) != 0 {
		t.Errorf("Allowlist() = %v, %v, want empty", allow, err)
	}
}

func TestConfig_Allowlist(t *testing.T) {
	t.Parallel()

	cfg := &Config{Grants: []string{"storage", "payments:limit=50", "network=false"}}
	allow, err := cfg.Allowlist()
	if err != nil {
		t.Fatalf("Allowlist() error = %v", err)
	}
	if !allow["storage"].Allowed || allow["network"].Allowed {
		t.Errorf("Allowlist() = %v", allow)
	}
	if allow["payments"].Params["limit"] != "50" {
		t.Errorf("payments limit = %s, want 50", allow["payments"].Params["limit"])
	}
}

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"seconds", `"30s"`, 30 * time.Second, false},
		{"compound", `"1m30s"`, 90 * time.Second, false},
		{"null", `null`, 0, false},
		{"invalid", `"soon"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d.Duration() != tt.want {
				t.Errorf("Duration() = %v, want %v", d.Duration(), tt.want)
			}
		})
	}

	data, err := json.Marshal(Duration(2 * time.Second))
	if err != nil || string(data) != `"2s"` {
		t.Errorf("Marshal() = %s, %v, want \"2s\"", data, err)
	}
}

func TestConfig_YAML(t *testing.T) {
	t.Parallel()

	src := `
runtime:
  mode: live
  step_timeout: 5s
registry:
  tools:
    - namespace: mcp
      name: crm
      endpoint_ref: https://crm.example.org/invoke
      capability_manifest:
        network: {}
      params:
        - name: id
          type: integer
          required: true
  mcp_servers:
    mcp.files:
      endpoint: "mcp+stdio:files-server --root /tmp"
      capabilities:
        storage: {}
grants:
  - storage
  - payments:limit=100
`
	cfg := Default()
	if err := yaml.Unmarshal([]byte(src), cfg); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if cfg.Runtime.Mode != ModeLive || cfg.Runtime.StepTimeout.Duration() != 5*time.Second {
		t.Errorf("Runtime = %+v", cfg.Runtime)
	}
	if cfg.Runtime.MaxLoopUnroll != 64 {
		t.Errorf("MaxLoopUnroll = %d, want default 64", cfg.Runtime.MaxLoopUnroll)
	}
	if len(cfg.Registry.Tools) != 1 || cfg.Registry.Tools[0].Key() != "mcp.crm" {
		t.Fatalf("Registry.Tools = %+v", cfg.Registry.Tools)
	}
	if !cfg.Registry.Tools[0].Capabilities.Has("network") || !cfg.Registry.Tools[0].Params[0].Required {
		t.Errorf("tool = %+v", cfg.Registry.Tools[0])
	}
	if !cfg.Registry.MCPServers["mcp.files"].Capabilities.Has("storage") {
		t.Errorf("MCPServers = %+v", cfg.Registry.MCPServers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
