package mcp

import (
	"context"
	"fmt"
	"sort"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/tool"
)

// Source resolves descriptors live by asking configured MCP servers for
// their tool lists. Servers maps a descriptor key such as "mcp.crm" to its
// endpoint.
type Source struct {
	pool    *Pool
	servers map[string]string
	caps    map[string]capability.Manifest
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithRequiredCapabilities attaches a capability manifest to the
// descriptor resolved for key.
func WithRequiredCapabilities(key string, m capability.Manifest) SourceOption {
	return func(s *Source) {
		s.caps[key] = m
	}
}

// NewSource creates a live lookup over servers.
func NewSource(pool *Pool, servers map[string]string, opts ...SourceOption) *Source {
	s := &Source{
		pool:    pool,
		servers: make(map[string]string, len(servers)),
		caps:    make(map[string]capability.Manifest),
	}
	for k, v := range servers {
		s.servers[k] = v
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup connects to the server configured for namespace.name and builds
// a descriptor whose operations are the server's tools.
func (s *Source) Lookup(ctx context.Context, namespace, name string) (tool.Descriptor, error) {
	key := tool.Key(namespace, name)
	endpoint, ok := s.servers[key]
	if !ok {
		return tool.Descriptor{}, fmt.Errorf("%w: %s", tool.ErrToolNotFound, key)
	}

	client, err := s.pool.Client(ctx, endpoint)
	if err != nil {
		return tool.Descriptor{}, err
	}
	defs, err := client.ListTools(ctx)
	if err != nil {
		return tool.Descriptor{}, fmt.Errorf("listing tools of %s: %w", key, err)
	}

	return DescriptorFromDefs(namespace, name, endpoint, client.ServerInfo(), defs, s.caps[key])
}

// DescriptorFromDefs builds the descriptor of one MCP server.
func DescriptorFromDefs(namespace, name, endpoint string, info *ServerInfo, defs []ToolDef, caps capability.Manifest) (tool.Descriptor, error) {
	ops := make([]string, 0, len(defs))
	for _, def := range defs {
		ops = append(ops, def.Name)
	}
	sort.Strings(ops)

	b := tool.NewBuilder(namespace, name).
		WithOperations(ops...).
		WithEndpoint(endpoint)
	if info != nil && info.Name != "" {
		b = b.WithDescription(fmt.Sprintf("MCP server %s %s", info.Name, info.Version))
	}
	for _, capName := range caps.Names() {
		b = b.RequiresCapability(capName, caps[capName])
	}
	return b.Build()
}
