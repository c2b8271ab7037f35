package proxy

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/apl/domain/blob"
	"github.com/felixgeelhaar/apl/domain/tool"
	"github.com/felixgeelhaar/apl/infrastructure/mcp"
	"github.com/felixgeelhaar/apl/infrastructure/resilience"
)

// LiveConfig configures the live factory.
type LiveConfig struct {
	HTTP HTTPConfig
	N8N  N8NConfig
	LLM  LLMConfig

	// Store backs the store primitive. Nil leaves store unsupported.
	Store blob.Store
}

// Live builds proxies that call real integrations, dispatching on the
// descriptor's endpoint reference.
type Live struct {
	http  *HTTPClient
	n8n   *N8NClient
	llm   *LLMClient
	store blob.Store
	mcp   *mcp.Pool
}

// NewLive creates a live factory. Nil breakers or pool get defaults.
func NewLive(cfg LiveConfig, breakers *resilience.Breakers, pool *mcp.Pool) *Live {
	client := NewHTTPClient(cfg.HTTP, breakers)
	if pool == nil {
		pool = mcp.NewPool(nil)
	}
	return &Live{
		http:  client,
		n8n:   NewN8NClient(cfg.N8N, client),
		llm:   NewLLMClient(cfg.LLM, client),
		store: cfg.Store,
		mcp:   pool,
	}
}

// HTTP returns the shared HTTP client.
func (l *Live) HTTP() *HTTPClient {
	return l.http
}

// Close releases pooled MCP servers.
func (l *Live) Close() error {
	return l.mcp.Close()
}

// NewProxy implements tool.Factory.
func (l *Live) NewProxy(d tool.Descriptor) (tool.Proxy, error) {
	endpoint := d.EndpointRef
	switch {
	case endpoint == tool.BuiltinScheme+tool.PrimitiveCallLLM:
		return l.llm.NewProxy(d), nil
	case endpoint == tool.BuiltinScheme+tool.PrimitiveFetch:
		return NewFetchProxy(d, l.http), nil
	case endpoint == tool.BuiltinScheme+tool.PrimitiveStore:
		if l.store == nil {
			return nil, fmt.Errorf("%w: no blob store configured for %s", tool.ErrUnsupportedEndpoint, d.Key())
		}
		return NewStoreProxy(d, l.store), nil
	case strings.HasPrefix(endpoint, tool.N8NScheme):
		return l.n8n.NewProxy(d)
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return NewHTTPProxy(d, l.http), nil
	case mcp.IsEndpoint(endpoint):
		return l.mcp.NewProxy(d)
	default:
		return nil, fmt.Errorf("%w: %q for %s", tool.ErrUnsupportedEndpoint, endpoint, d.Key())
	}
}

var _ tool.Factory = (*Live)(nil)
