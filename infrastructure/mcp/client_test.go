package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

// fakeServer answers JSON-RPC requests on a pipe pair.
type fakeServer struct {
	tools []ToolDef
	calls atomic.Int32
	// handle returns the result of tools/call.
	handle func(name string, args map[string]any) ToolResult
}

func (f *fakeServer) serve(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	enc := json.NewEncoder(w)
	for scanner.Scan() {
		var req struct {
			ID     any             `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "initialize":
			resp["result"] = map[string]any{
				"protocolVersion": ProtocolVersion,
				"serverInfo":      map[string]string{"name": "fake", "version": "0.1"},
			}
		case "tools/list":
			resp["result"] = map[string]any{"tools": f.tools}
		case "tools/call":
			f.calls.Add(1)
			var p callToolParams
			_ = json.Unmarshal(req.Params, &p)
			resp["result"] = f.handle(p.Name, p.Arguments)
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		_ = enc.Encode(resp)
	}
}

// connectFake returns a client connected to f over in-process pipes.
func connectFake(t *testing.T, f *fakeServer) *Client {
	t.Helper()

	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	go f.serve(serverR, serverW)

	client := NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.ConnectPipes(ctx, clientR, clientW); err != nil {
		t.Fatalf("ConnectPipes() error = %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = serverW.Close()
	})
	return client
}

func echoServer() *fakeServer {
	return &fakeServer{
		tools: []ToolDef{{Name: "lookup"}, {Name: "create"}},
		handle: func(name string, args map[string]any) ToolResult {
			switch name {
			case "lookup":
				data, _ := json.Marshal(map[string]any{"found": args["id"]})
				return ToolResult{Content: []Content{{Type: "text", Text: string(data)}}}
			case "greet":
				return ToolResult{Content: []Content{{Type: "text", Text: "hello"}}}
			default:
				return ToolResult{IsError: true, Content: []Content{{Type: "text", Text: "no such tool"}}}
			}
		},
	}
}

func TestClient_Handshake(t *testing.T) {
	t.Parallel()

	client := connectFake(t, echoServer())

	info := client.ServerInfo()
	if info == nil || info.Name != "fake" {
		t.Fatalf("ServerInfo() = %+v, want fake", info)
	}

	r, w := io.Pipe()
	defer r.Close()
	if err := client.ConnectPipes(context.Background(), r, w); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second ConnectPipes() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestClient_ListAndCall(t *testing.T) {
	t.Parallel()

	client := connectFake(t, echoServer())
	ctx := context.Background()

	defs, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("ListTools() = %d tools, want 2", len(defs))
	}

	result, err := client.CallTool(ctx, "lookup", map[string]any{"id": "42"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if got := result.Text(); got != `{"found":"42"}` {
		t.Errorf("Text() = %s", got)
	}

	if _, err := client.CallTool(ctx, "missing", nil); !errors.Is(err, ErrToolFailed) {
		t.Errorf("CallTool(missing) error = %v, want ErrToolFailed", err)
	}
}

func TestClient_NotConnected(t *testing.T) {
	t.Parallel()

	client := NewClient()
	if _, err := client.ListTools(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ListTools() error = %v, want ErrNotConnected", err)
	}
	if _, err := client.CallTool(context.Background(), "x", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CallTool() error = %v, want ErrNotConnected", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
	if err := client.Connect(context.Background()); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() without command error = %v, want ErrConnectionFailed", err)
	}
}

func TestClient_ConnectMissingBinary(t *testing.T) {
	t.Parallel()

	client := NewClient(WithServerCommand("/nonexistent/mcp-server-binary"))
	if err := client.Connect(context.Background()); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClient_ServerGone(t *testing.T) {
	t.Parallel()

	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	go echoServer().serve(serverR, serverW)

	client := NewClient()
	if err := client.ConnectPipes(context.Background(), clientR, clientW); err != nil {
		t.Fatalf("ConnectPipes() error = %v", err)
	}
	defer client.Close()

	_ = serverW.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.ListTools(ctx); err == nil {
		t.Error("ListTools() after server exit succeeded, want error")
	}
}
