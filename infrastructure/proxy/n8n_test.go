package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/felixgeelhaar/apl/domain/tool"
)

type recordedRequest struct {
	Method string
	Path   string
	APIKey string
	Body   map[string]any
}

func n8nServer(t *testing.T) (*httptest.Server, func() []recordedRequest) {
	t.Helper()

	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			APIKey: r.Header.Get(N8NAPIKeyHeader),
		}
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()
		if r.URL.Path == "/webhook/empty" {
			return
		}
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func TestN8NClient_TriggerWebhook(t *testing.T) {
	t.Parallel()

	srv, requests := n8nServer(t)
	client := NewN8NClient(N8NConfig{BaseURL: srv.URL + "/", APIKey: "k1"}, NewHTTPClient(HTTPConfig{}, nil))

	data, err := client.TriggerWebhook(context.Background(), "orders", map[string]any{"id": 7}, "")
	if err != nil {
		t.Fatalf("TriggerWebhook() error = %v", err)
	}
	if string(data) != `{"received":true}` {
		t.Errorf("TriggerWebhook() = %s, want {\"received\":true}", data)
	}

	if _, err := client.TriggerWebhook(context.Background(), "/orders", nil, "put"); err != nil {
		t.Fatalf("TriggerWebhook(put) error = %v", err)
	}

	reqs := requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[0].Method != http.MethodPost || reqs[0].Path != "/webhook/orders" {
		t.Errorf("first request = %s %s, want POST /webhook/orders", reqs[0].Method, reqs[0].Path)
	}
	if reqs[0].APIKey != "k1" {
		t.Errorf("api key = %q, want k1", reqs[0].APIKey)
	}
	if reqs[1].Method != http.MethodPut {
		t.Errorf("second method = %s, want PUT", reqs[1].Method)
	}

	if _, err := client.TriggerWebhook(context.Background(), "", nil, ""); !errors.Is(err, tool.ErrInvalidInput) {
		t.Errorf("TriggerWebhook(\"\") error = %v, want ErrInvalidInput", err)
	}
}

func TestN8NClient_CallWorkflow(t *testing.T) {
	t.Parallel()

	srv, requests := n8nServer(t)
	client := NewN8NClient(N8NConfig{BaseURL: srv.URL}, NewHTTPClient(HTTPConfig{}, nil))

	if _, err := client.CallWorkflow(context.Background(), "wf-9", nil); err != nil {
		t.Fatalf("CallWorkflow() error = %v", err)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].Path != "/workflow/run/wf-9" {
		t.Errorf("path = %s, want /workflow/run/wf-9", reqs[0].Path)
	}
	if reqs[0].APIKey != "" {
		t.Errorf("api key = %q, want none", reqs[0].APIKey)
	}
	if reqs[0].Body == nil || len(reqs[0].Body) != 0 {
		t.Errorf("body = %v, want {}", reqs[0].Body)
	}
}

func TestN8NClient_NotConfigured(t *testing.T) {
	t.Parallel()

	client := NewN8NClient(N8NConfig{}, NewHTTPClient(HTTPConfig{}, nil))
	if _, err := client.CallWorkflow(context.Background(), "wf", nil); !errors.Is(err, ErrN8NNotConfigured) {
		t.Errorf("CallWorkflow() error = %v, want ErrN8NNotConfigured", err)
	}
}

func TestN8NClient_Proxy(t *testing.T) {
	t.Parallel()

	srv, requests := n8nServer(t)
	client := NewN8NClient(N8NConfig{BaseURL: srv.URL}, NewHTTPClient(HTTPConfig{}, nil))

	d, _ := tool.Builtin(tool.N8NNamespace, "trigger_webhook")
	p, err := client.NewProxy(d)
	if err != nil {
		t.Fatalf("NewProxy() error = %v", err)
	}
	result, err := p.Invoke(context.Background(), tool.Invocation{
		Args: map[string]any{"path": "empty", "payload": map[string]any{"x": 1}},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.OutputString() != `{}` {
		t.Errorf("empty body output = %s, want {}", result.OutputString())
	}
	if reqs := requests(); len(reqs) != 1 || reqs[0].Body["x"] != float64(1) {
		t.Errorf("requests = %+v, want one with payload x=1", reqs)
	}

	bad := tool.NewBuilder(tool.N8NNamespace, "other").WithEndpoint(tool.N8NScheme + "other").MustBuild()
	if _, err := client.NewProxy(bad); !errors.Is(err, tool.ErrUnsupportedEndpoint) {
		t.Errorf("NewProxy(other) error = %v, want ErrUnsupportedEndpoint", err)
	}
}
