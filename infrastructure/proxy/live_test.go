package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/felixgeelhaar/apl/domain/tool"
	"github.com/felixgeelhaar/apl/infrastructure/storage/memory"
)

func TestLive_Dispatch(t *testing.T) {
	t.Parallel()

	live := NewLive(LiveConfig{}, nil, nil)
	t.Cleanup(func() { _ = live.Close() })

	store, _ := tool.Primitive(tool.PrimitiveStore)
	tests := []struct {
		name    string
		d       tool.Descriptor
		wantErr error
	}{
		{"llm", mustPrimitive(tool.PrimitiveCallLLM), nil},
		{"fetch", mustPrimitive(tool.PrimitiveFetch), nil},
		{"store without backend", store, tool.ErrUnsupportedEndpoint},
		{"n8n", mustBuiltin("trigger_webhook"), nil},
		{"http", tool.NewBuilder("crm", "lookup").WithEndpoint("https://crm.example.com/api").MustBuild(), nil},
		{"mcp", tool.NewBuilder("docs", "search").WithEndpoint("mcp+stdio:docs-server").MustBuild(), nil},
		{"unknown scheme", tool.NewBuilder("x", "y").WithEndpoint("grpc://x").MustBuild(), tool.ErrUnsupportedEndpoint},
		{"no endpoint", tool.NewBuilder("x", "y").MustBuild(), tool.ErrUnsupportedEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := live.NewProxy(tt.d)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewProxy() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProxy() error = %v", err)
			}
			if p.Descriptor().Key() != tt.d.Key() {
				t.Errorf("Descriptor().Key() = %s, want %s", p.Descriptor().Key(), tt.d.Key())
			}
		})
	}
}

func TestLive_FetchAndStore(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("page body"))
	}))
	defer srv.Close()

	blobs := memory.NewBlobStore()
	live := NewLive(LiveConfig{Store: blobs}, nil, nil)
	ctx := context.Background()

	fetch, _ := live.NewProxy(mustPrimitive(tool.PrimitiveFetch))
	result, err := fetch.Invoke(ctx, tool.Invocation{Args: map[string]any{"url": srv.URL}})
	if err != nil {
		t.Fatalf("fetch Invoke() error = %v", err)
	}
	if result.OutputString() != `"page body"` {
		t.Errorf("fetch output = %s, want \"page body\"", result.OutputString())
	}

	store, _ := live.NewProxy(mustPrimitive(tool.PrimitiveStore))
	result, err = store.Invoke(ctx, tool.Invocation{
		Agent:   "a",
		Routine: "r",
		Args:    map[string]any{"key": "out/report", "value": map[string]any{"n": int64(1)}},
	})
	if err != nil {
		t.Fatalf("store Invoke() error = %v", err)
	}
	v, _ := result.Value()
	meta := v.(map[string]any)["meta"].(map[string]any)
	if meta["base_path"] != "memory" || meta["size"] != int64(7) {
		t.Errorf("meta = %v, want base_path memory and size 7", meta)
	}

	rc, err := blobs.Get(ctx, "out/report")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != `{"n":1}` {
		t.Errorf("stored = %s, want {\"n\":1}", data)
	}

	if _, err := store.Invoke(ctx, tool.Invocation{Args: map[string]any{"key": "../escape", "value": "x"}}); !errors.Is(err, tool.ErrInvalidInput) {
		t.Errorf("escaping key error = %v, want ErrInvalidInput", err)
	}
}

func mustPrimitive(name string) tool.Descriptor {
	d, ok := tool.Primitive(name)
	if !ok {
		panic("unknown primitive " + name)
	}
	return d
}

func mustBuiltin(name string) tool.Descriptor {
	d, ok := tool.Builtin(tool.N8NNamespace, name)
	if !ok {
		panic("unknown builtin " + name)
	}
	return d
}
