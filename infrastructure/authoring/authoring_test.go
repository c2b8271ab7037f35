package authoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/apl/application"
	"github.com/felixgeelhaar/apl/infrastructure/proxy"
)

func envLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnv(t *testing.T) {
	t.Parallel()

	base := Config{Model: "small", Temperature: DefaultTemperature}

	tests := []struct {
		name string
		env  map[string]string
		want Config
	}{
		{"unset", nil, base},
		{"mock", map[string]string{EnvMock: "Yes"}, Config{Model: "small", Temperature: DefaultTemperature, Mock: true}},
		{"mock off", map[string]string{EnvMock: "0"}, base},
		{"model", map[string]string{EnvModel: "large"}, Config{Model: "large", Temperature: DefaultTemperature}},
		{"temperature", map[string]string{EnvTemperature: " 0.7 "}, Config{Model: "small", Temperature: 0.7}},
		{"bad temperature", map[string]string{EnvTemperature: "warm"}, base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := FromEnv(base, envLookup(tt.env)); got != tt.want {
				t.Errorf("FromEnv() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMockDrafter(t *testing.T) {
	t.Parallel()

	d := NewMockDrafter("")
	tests := []struct {
		brief string
		want  string
	}{
		{"Triage Customer tickets", supportTemplate},
		{"a support desk", supportTemplate},
		{"say hello", helloTemplate},
	}
	for _, tt := range tests {
		got, err := d.Draft(context.Background(), tt.brief)
		if err != nil {
			t.Fatalf("Draft(%q) error = %v", tt.brief, err)
		}
		if got != tt.want {
			t.Errorf("Draft(%q) = %q, want %q", tt.brief, got, tt.want)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Draft(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Draft() error = %v, want context.Canceled", err)
	}
}

func TestMockDrafter_Seed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.apl")
	if err := os.WriteFile(seed, []byte("agent a:\nend\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := NewMockDrafter(seed).Draft(context.Background(), "customer support")
	if err != nil || got != "agent a:\nend\n" {
		t.Errorf("Draft() = %q, %v, want the seed program", got, err)
	}

	if _, err := NewMockDrafter(filepath.Join(dir, "missing.apl")).Draft(context.Background(), "x"); !errors.Is(err, ErrNoSeed) {
		t.Errorf("Draft() error = %v, want ErrNoSeed", err)
	}
}

func TestTemplatesCompile(t *testing.T) {
	t.Parallel()

	e, err := application.NewEngineWithOptions()
	if err != nil {
		t.Fatalf("NewEngineWithOptions() error = %v", err)
	}
	for name, src := range map[string]string{"hello": helloTemplate, "support": supportTemplate} {
		c, err := e.Compile(context.Background(), src)
		if err != nil {
			t.Errorf("%s template: Compile() error = %v", name, err)
			continue
		}
		if len(c.Diagnostics) != 0 {
			t.Errorf("%s template: diagnostics = %v, want none", name, c.Diagnostics)
		}
	}
}

func TestModelDrafter(t *testing.T) {
	t.Parallel()

	var got struct {
		Model       string   `json:"model"`
		Temperature *float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"agent a:\nend"}}]}`))
	}))
	defer srv.Close()

	client := proxy.NewLLMClient(proxy.LLMConfig{BaseURL: srv.URL, Model: "small"}, proxy.NewHTTPClient(proxy.HTTPConfig{}, nil))
	d, err := New(Config{Model: "large", Temperature: 0.3}, client)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	reply, err := d.Draft(context.Background(), "write a greeter")
	if err != nil {
		t.Fatalf("Draft() error = %v", err)
	}
	if reply != "agent a:\nend" {
		t.Errorf("Draft() = %q", reply)
	}
	if got.Model != "large" {
		t.Errorf("model = %s, want large", got.Model)
	}
	if got.Temperature == nil || *got.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", got.Temperature)
	}
	if len(got.Messages) != 2 || got.Messages[0].Content != SystemPrompt || got.Messages[1].Content != "write a greeter" {
		t.Errorf("messages = %+v, want the system prompt then the brief", got.Messages)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, nil); !errors.Is(err, proxy.ErrModelNotConfigured) {
		t.Errorf("New() error = %v, want ErrModelNotConfigured", err)
	}
	d, err := New(Config{Mock: true}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := d.(*MockDrafter); !ok {
		t.Errorf("New() = %T, want *MockDrafter", d)
	}
}
