package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/felixgeelhaar/apl/domain/capability"
	domainconfig "github.com/felixgeelhaar/apl/domain/config"
	"github.com/felixgeelhaar/apl/domain/run"
	"github.com/felixgeelhaar/apl/domain/tool"
)

func TestBuildRuntime_Defaults(t *testing.T) {
	ctx := context.Background()
	rt, err := buildRuntime(ctx, domainconfig.Default(), runtimeFlags{})
	if err != nil {
		t.Fatalf("buildRuntime() error = %v", err)
	}
	defer func() { _ = rt.Close(ctx) }()

	if rt.mode != run.ModeSimulated {
		t.Errorf("mode = %s, want simulated", rt.mode)
	}
	if rt.runs != nil || rt.audits != nil {
		t.Error("default config opened a trace backend")
	}
	if rt.engine == nil {
		t.Fatal("engine = nil")
	}
}

func TestBuildRuntime_MemoryTracePersistsRuns(t *testing.T) {
	ctx := context.Background()
	cfg := domainconfig.Default()
	cfg.Trace.Backend = domainconfig.TraceMemory
	cfg.Grants = []string{"storage"}

	rt, err := buildRuntime(ctx, cfg, runtimeFlags{})
	if err != nil {
		t.Fatalf("buildRuntime() error = %v", err)
	}
	defer func() { _ = rt.Close(ctx) }()

	c, err := rt.engine.Compile(ctx, keeperSource)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	exe, err := rt.engine.Load(c)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	r, err := rt.engine.Run(ctx, exe, "keeper.save", map[string]any{"note": "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	stored, err := rt.runs.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("runs.Get() error = %v", err)
	}
	if stored.State != run.StateCompleted {
		t.Errorf("stored State = %s, want completed", stored.State)
	}
	trail, err := rt.audits.Trail(ctx, r.ID)
	if err != nil {
		t.Fatalf("audits.Trail() error = %v", err)
	}
	if len(trail) != 1 || !trail[0].Allowed {
		t.Errorf("trail = %+v, want one allowed record", trail)
	}
}

func TestBuildRuntime_SQLiteTrace(t *testing.T) {
	ctx := context.Background()
	cfg := domainconfig.Default()
	cfg.Trace.Backend = domainconfig.TraceSQLite
	cfg.Trace.DSN = filepath.Join(t.TempDir(), "runs.db")

	rt, err := buildRuntime(ctx, cfg, runtimeFlags{})
	if err != nil {
		t.Fatalf("buildRuntime() error = %v", err)
	}
	defer func() { _ = rt.Close(ctx) }()

	if rt.runs == nil || rt.audits == nil {
		t.Fatal("sqlite backend left stores unset")
	}
	if _, err := rt.runs.Get(ctx, "missing"); !errors.Is(err, run.ErrRunNotFound) {
		t.Errorf("Get() error = %v, want %v", err, run.ErrRunNotFound)
	}
}

func TestBuildRuntime_LiveFilesystemStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := domainconfig.Default()
	cfg.Storage.Backend = domainconfig.StorageFilesystem
	cfg.Storage.Path = dir
	cfg.Grants = []string{"storage"}

	rt, err := buildRuntime(ctx, cfg, runtimeFlags{live: true})
	if err != nil {
		t.Fatalf("buildRuntime() error = %v", err)
	}
	defer func() { _ = rt.Close(ctx) }()

	if rt.mode != run.ModeLive {
		t.Fatalf("mode = %s, want live", rt.mode)
	}

	c, err := rt.engine.Compile(ctx, keeperSource)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	exe, err := rt.engine.Load(c)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := rt.engine.Run(ctx, exe, "keeper.save", map[string]any{"note": "on disk"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Error("live store wrote nothing to the filesystem backend")
	}
}

func TestBuildRuntime_AuditLog(t *testing.T) {
	ctx := context.Background()
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	cfg := domainconfig.Default()
	cfg.Trace.AuditLog = logPath

	rt, err := buildRuntime(ctx, cfg, runtimeFlags{allow: []string{"storage"}})
	if err != nil {
		t.Fatalf("buildRuntime() error = %v", err)
	}

	c, err := rt.engine.Compile(ctx, keeperSource)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	exe, err := rt.engine.Load(c)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := rt.engine.Run(ctx, exe, "keeper.save", map[string]any{"note": "x"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	var rec capability.AuditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("audit log line is not a record: %v", err)
	}
	if rec.Capability != "storage" || !rec.Allowed {
		t.Errorf("record = %+v, want allowed storage", rec)
	}
}

func TestBuildRuntime_RegistryTools(t *testing.T) {
	ctx := context.Background()
	cfg := domainconfig.Default()
	cfg.Registry.Tools = []tool.Descriptor{
		tool.NewBuilder("crm", "contacts").
			WithOperations("lookup").
			WithEndpoint("https://crm.example.org/api").
			MustBuild(),
	}

	rt, err := buildRuntime(ctx, cfg, runtimeFlags{})
	if err != nil {
		t.Fatalf("buildRuntime() error = %v", err)
	}
	defer func() { _ = rt.Close(ctx) }()

	d, err := rt.engine.Resolver().Lookup(ctx, "crm", "contacts", nil)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if d.EndpointRef != "https://crm.example.org/api" {
		t.Errorf("EndpointRef = %s, want configured endpoint", d.EndpointRef)
	}
}

func TestBuildRuntime_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*domainconfig.Config)
		flags  runtimeFlags
	}{
		{
			name:  "malformed grant",
			flags: runtimeFlags{allow: []string{"payments:limit"}},
		},
		{
			name: "malformed override",
			modify: func(c *domainconfig.Config) {
				c.Registry.Overrides = []string{"crm=https://crm"}
			},
		},
		{
			name: "env file is a directory",
			modify: func(c *domainconfig.Config) {
				c.Runtime.EnvFile = os.TempDir()
			},
		},
		{
			name: "duplicate registry tool",
			modify: func(c *domainconfig.Config) {
				d := tool.NewBuilder("crm", "contacts").WithEndpoint("https://crm").MustBuild()
				c.Registry.Tools = []tool.Descriptor{d, d}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domainconfig.Default()
			if tt.modify != nil {
				tt.modify(cfg)
			}
			if _, err := buildRuntime(context.Background(), cfg, tt.flags); err == nil {
				t.Error("buildRuntime() error = nil, want error")
			}
		})
	}
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	got, err := parseArgs([]string{"note=hello", "amount=25", "ratio=0.5", "ok=true", "tags=[\"a\",\"b\"]", "empty=", "phrase=two words"})
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	want := map[string]any{
		"note":   "hello",
		"amount": json.Number("25"),
		"ratio":  json.Number("0.5"),
		"ok":     true,
		"tags":   []any{"a", "b"},
		"empty":  "",
		"phrase": "two words",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseArgs() = %#v, want %#v", got, want)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseArgs([]string{bad}); err == nil {
			t.Errorf("parseArgs(%q) error = nil, want error", bad)
		}
	}
}
