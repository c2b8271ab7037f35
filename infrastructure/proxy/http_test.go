package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/felixgeelhaar/apl/domain/tool"
)

func TestHTTPClient_Do(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/bad":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("bad input"))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{}, nil)
	ctx := context.Background()

	data, err := client.Do(ctx, http.MethodGet, srv.URL+"/ok", nil, nil)
	if err != nil {
		t.Fatalf("Do(/ok) error = %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("Do(/ok) = %s, want {\"ok\":true}", data)
	}

	_, err = client.Do(ctx, http.MethodGet, srv.URL+"/bad", nil, nil)
	if !errors.Is(err, tool.ErrInvalidInput) {
		t.Errorf("Do(/bad) error = %v, want ErrInvalidInput", err)
	}

	_, err = client.Do(ctx, http.MethodGet, srv.URL+"/down", nil, nil)
	if err == nil || errors.Is(err, tool.ErrInvalidInput) {
		t.Errorf("Do(/down) error = %v, want retryable server error", err)
	}
}

func TestHTTPClient_InvalidURL(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient(HTTPConfig{}, nil)
	for _, raw := range []string{"", "ftp://host/x", "not a url", "http://"} {
		if _, err := client.Do(context.Background(), http.MethodGet, raw, nil, nil); !errors.Is(err, tool.ErrInvalidInput) {
			t.Errorf("Do(%q) error = %v, want ErrInvalidInput", raw, err)
		}
	}
}

func TestHTTPClient_SignsBody(t *testing.T) {
	t.Parallel()

	var gotSig, gotTS, gotUA, gotCustom string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignatureV2)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotUA = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Team")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{
		Secret:    "s3cret",
		UserAgent: "apl-test",
		Headers:   map[string]string{"X-Team": "ops"},
	}, nil)
	fixed := time.Unix(1700000000, 0)
	client.now = func() time.Time { return fixed }

	if _, err := client.Do(context.Background(), http.MethodPost, srv.URL, nil, []byte(`{"x":1}`)); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	ts, _ := strconv.ParseInt(gotTS, 10, 64)
	var s Signer
	if !s.VerifyTimestamped(gotBody, "s3cret", gotSig, ts, fixed, time.Minute) {
		t.Errorf("signature %q does not verify", gotSig)
	}
	if gotUA != "apl-test" {
		t.Errorf("User-Agent = %q, want apl-test", gotUA)
	}
	if gotCustom != "ops" {
		t.Errorf("X-Team = %q, want ops", gotCustom)
	}
}

func TestOutputResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "  ", `{}`},
		{"json", `{"a":1}`, `{"a":1}`},
		{"text", "hello", `"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := OutputResult([]byte(tt.body)).OutputString(); got != tt.want {
				t.Errorf("OutputResult(%q) = %s, want %s", tt.body, got, tt.want)
			}
		})
	}
}

func TestHTTPProxy_Invoke(t *testing.T) {
	t.Parallel()

	var got toolRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"tier":"gold"}`))
	}))
	defer srv.Close()

	d := tool.NewBuilder("crm", "lookup").WithEndpoint(srv.URL).MustBuild()
	p := NewHTTPProxy(d, NewHTTPClient(HTTPConfig{}, nil))

	result, err := p.Invoke(context.Background(), tool.Invocation{
		StepID:    "s1",
		Agent:     "support",
		Routine:   "triage",
		Operation: "lookup",
		Args:      map[string]any{"id": "42"},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.OutputString() != `{"tier":"gold"}` {
		t.Errorf("output = %s, want {\"tier\":\"gold\"}", result.OutputString())
	}
	if got.Tool != "crm.lookup" || got.StepID != "s1" || got.Agent != "support" || got.Routine != "triage" {
		t.Errorf("request = %+v, want tool/step/agent/routine filled", got)
	}
	if got.Args["id"] != "42" {
		t.Errorf("request args = %v, want id=42", got.Args)
	}
}
