package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/felixgeelhaar/apl/domain/tool"
)

// Scheme prefixes endpoints served by a stdio MCP server, e.g.
// "mcp+stdio:crm-server --region eu".
const Scheme = "mcp+stdio:"

// IsEndpoint reports whether endpoint is an MCP stdio endpoint.
func IsEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, Scheme)
}

// Connector opens a connected client for an endpoint.
type Connector func(ctx context.Context, endpoint string) (*Client, error)

// StdioConnector starts the command named by the endpoint.
func StdioConnector(ctx context.Context, endpoint string) (*Client, error) {
	command := strings.Fields(strings.TrimPrefix(endpoint, Scheme))
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: empty command in %q", tool.ErrUnsupportedEndpoint, endpoint)
	}
	client := NewClient(WithServerCommand(command...))
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Pool shares one client per endpoint across proxies and runs.
type Pool struct {
	connect Connector
	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a pool. A nil connector uses StdioConnector.
func NewPool(connect Connector) *Pool {
	if connect == nil {
		connect = StdioConnector
	}
	return &Pool{
		connect: connect,
		clients: make(map[string]*Client),
	}
}

// Client returns the connected client for endpoint, starting it on first
// use.
func (p *Pool) Client(ctx context.Context, endpoint string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[endpoint]; ok {
		return client, nil
	}
	client, err := p.connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	p.clients[endpoint] = client
	return client, nil
}

// Close closes every pooled client.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for endpoint, client := range p.clients {
		_ = client.Close()
		delete(p.clients, endpoint)
	}
	return nil
}

// NewProxy returns a proxy for a descriptor with an mcp+stdio: endpoint.
func (p *Pool) NewProxy(d tool.Descriptor) (tool.Proxy, error) {
	if !IsEndpoint(d.EndpointRef) {
		return nil, fmt.Errorf("%w: %q", tool.ErrUnsupportedEndpoint, d.EndpointRef)
	}
	return &Proxy{desc: d, pool: p}, nil
}

// Proxy invokes one MCP tool per operation. crm.lookup(...) calls the
// server tool "lookup"; a call without operation uses the descriptor name.
type Proxy struct {
	desc tool.Descriptor
	pool *Pool
}

// Descriptor implements tool.Proxy.
func (p *Proxy) Descriptor() tool.Descriptor {
	return p.desc
}

// Invoke implements tool.Proxy.
func (p *Proxy) Invoke(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
	client, err := p.pool.Client(ctx, p.desc.EndpointRef)
	if err != nil {
		return tool.Result{}, err
	}

	name := inv.Operation
	if name == "" {
		name = p.desc.Name
	}
	result, err := client.CallTool(ctx, name, inv.Args)
	if err != nil {
		return tool.Result{}, err
	}
	return ResultFromContent(result), nil
}

// ResultFromContent converts tool output into a result. Text that is
// valid JSON is kept as structured output; other text becomes a string.
func ResultFromContent(r *ToolResult) tool.Result {
	text := strings.TrimSpace(r.Text())
	if text != "" && json.Valid([]byte(text)) {
		return tool.NewResult(json.RawMessage(text))
	}
	out, _ := json.Marshal(r.Text())
	return tool.NewResult(out)
}

var _ tool.Proxy = (*Proxy)(nil)
