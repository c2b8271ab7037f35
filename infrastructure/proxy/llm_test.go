package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/felixgeelhaar/apl/domain/tool"
)

func TestLLMClient_Complete(t *testing.T) {
	t.Parallel()

	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	client := NewLLMClient(LLMConfig{BaseURL: srv.URL, APIKey: "key", Model: "small"}, NewHTTPClient(HTTPConfig{}, nil))
	d, _ := tool.Primitive(tool.PrimitiveCallLLM)

	result, err := client.NewProxy(d).Invoke(context.Background(), tool.Invocation{
		Args: map[string]any{"prompt": "say hi"},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.OutputString() != `"hi there"` {
		t.Errorf("output = %s, want \"hi there\"", result.OutputString())
	}
	if auth != "Bearer key" {
		t.Errorf("Authorization = %q, want Bearer key", auth)
	}
	if got.Model != "small" || len(got.Messages) != 1 || got.Messages[0].Content != "say hi" {
		t.Errorf("request = %+v, want model small with one prompt message", got)
	}
}

func TestLLMClient_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := NewLLMClient(LLMConfig{BaseURL: srv.URL}, NewHTTPClient(HTTPConfig{}, nil))
	if _, err := client.Complete(context.Background(), "x", "m"); !errors.Is(err, tool.ErrInvalidOutput) {
		t.Errorf("Complete() error = %v, want ErrInvalidOutput", err)
	}

	unset := NewLLMClient(LLMConfig{}, NewHTTPClient(HTTPConfig{}, nil))
	if _, err := unset.Complete(context.Background(), "x", ""); !errors.Is(err, ErrModelNotConfigured) {
		t.Errorf("Complete() error = %v, want ErrModelNotConfigured", err)
	}
}

func TestLLMClient_Chat(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"}}]}`))
	}))
	defer srv.Close()

	client := NewLLMClient(LLMConfig{BaseURL: srv.URL, Model: "small"}, NewHTTPClient(HTTPConfig{}, nil))
	temperature := 0.2
	reply, err := client.Chat(context.Background(), "write it", ChatOptions{
		Model:       "large",
		System:      "you write programs",
		Temperature: &temperature,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "done" {
		t.Errorf("Chat() = %q, want done", reply)
	}
	if got.Model != "large" {
		t.Errorf("model = %s, want large", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "write it" {
		t.Errorf("messages = %+v, want system then user", got.Messages)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", got.Temperature)
	}
}
