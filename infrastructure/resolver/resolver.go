// Package resolver binds agent bindings to tool descriptors and builds the
// proxies a run invokes.
//
// Resolution order is: per-run override, registered descriptor, cached
// entry, live source. A binding that none of them satisfies fails the
// compile with *tool.UnresolvedBindError.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/felixgeelhaar/apl/domain/cache"
	"github.com/felixgeelhaar/apl/domain/ir"
	"github.com/felixgeelhaar/apl/domain/syntax"
	"github.com/felixgeelhaar/apl/domain/tool"
	"github.com/felixgeelhaar/apl/infrastructure/logging"
)

// DefaultCacheTTL is how long descriptors from live sources stay cached.
const DefaultCacheTTL = 10 * time.Minute

// Source is a live registry consulted after the local registry and cache.
// Lookup returns tool.ErrToolNotFound when the source has no such tool.
type Source interface {
	Lookup(ctx context.Context, namespace, name string) (tool.Descriptor, error)
}

// SourceFunc adapts a function into a Source.
type SourceFunc func(ctx context.Context, namespace, name string) (tool.Descriptor, error)

// Lookup implements Source.
func (f SourceFunc) Lookup(ctx context.Context, namespace, name string) (tool.Descriptor, error) {
	return f(ctx, namespace, name)
}

// Resolver resolves descriptors and proxies. It is safe for concurrent use;
// registrations are serialized by the registry.
type Resolver struct {
	registry tool.Registry
	cache    cache.Cache
	ttl      time.Duration
	sources  []Source
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache caches descriptors found by live sources.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithSource appends a live source. Sources are consulted in order.
func WithSource(s Source) Option {
	return func(r *Resolver) {
		if s != nil {
			r.sources = append(r.sources, s)
		}
	}
}

// New creates a resolver over registry.
func New(registry tool.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		registry: registry,
		ttl:      DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a descriptor to the local registry.
func (r *Resolver) Register(d tool.Descriptor) error {
	return r.registry.Register(d)
}

// Registry returns the local registry.
func (r *Resolver) Registry() tool.Registry {
	return r.registry
}

// Lookup returns the descriptor for namespace.name following the
// resolution order.
func (r *Resolver) Lookup(ctx context.Context, namespace, name string, ov Overrides) (tool.Descriptor, error) {
	key := tool.Key(namespace, name)

	if d, ok := tool.Builtin(namespace, name); ok {
		if endpoint, ok := ov[key]; ok {
			return d.WithEndpoint(endpoint), nil
		}
		return d, nil
	}

	d, found, err := r.local(ctx, namespace, name)
	if err != nil {
		return tool.Descriptor{}, err
	}
	if endpoint, ok := ov[key]; ok {
		if !found {
			d = tool.Descriptor{Namespace: namespace, Name: name}
		}
		return d.WithEndpoint(endpoint), nil
	}
	if found {
		return d, nil
	}

	for _, s := range r.sources {
		d, err := s.Lookup(ctx, namespace, name)
		if errors.Is(err, tool.ErrToolNotFound) {
			continue
		}
		if err != nil {
			return tool.Descriptor{}, fmt.Errorf("live lookup of %s: %w", key, err)
		}
		r.store(ctx, d)
		return d, nil
	}
	return tool.Descriptor{}, fmt.Errorf("%w: %s", tool.ErrToolNotFound, key)
}

// local checks the registry, then the cache.
func (r *Resolver) local(ctx context.Context, namespace, name string) (tool.Descriptor, bool, error) {
	if d, ok := r.registry.Get(namespace, name); ok {
		return d, true, nil
	}
	if r.cache == nil {
		return tool.Descriptor{}, false, nil
	}

	key := cacheKey(namespace, name)
	data, ok, err := r.cache.Get(ctx, key)
	if err != nil || !ok {
		if err != nil {
			logging.Warn().Add(logging.Tool(tool.Key(namespace, name))).Add(logging.ErrorField(err)).Msg("descriptor cache read failed")
		}
		return tool.Descriptor{}, false, nil
	}
	var d tool.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		_ = r.cache.Delete(ctx, key)
		return tool.Descriptor{}, false, nil
	}
	return d, true, nil
}

func (r *Resolver) store(ctx context.Context, d tool.Descriptor) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(d)
	if err == nil {
		err = r.cache.Set(ctx, cacheKey(d.Namespace, d.Name), data, cache.SetOptions{TTL: r.ttl})
	}
	if err != nil {
		logging.Warn().Add(logging.Tool(d.Key())).Add(logging.ErrorField(err)).Msg("descriptor cache write failed")
	}
}

func cacheKey(namespace, name string) string {
	return "apl:descriptor:" + tool.Key(namespace, name)
}

// Resolve returns a proxy for namespace.name built by factory.
func (r *Resolver) Resolve(ctx context.Context, namespace, name string, ov Overrides, factory tool.Factory) (tool.Proxy, error) {
	d, err := r.Lookup(ctx, namespace, name, ov)
	if err != nil {
		return nil, err
	}
	return factory.NewProxy(d)
}

// Binder returns a compiler binder that resolves with ov.
func (r *Resolver) Binder(ov Overrides) *Binder {
	return &Binder{r: r, overrides: ov}
}

// Binder resolves agent bindings at compile time.
type Binder struct {
	r         *Resolver
	overrides Overrides
}

// Bind resolves b. A tool no resolution step knows fails with
// *tool.UnresolvedBindError naming the alias and the declaring agent.
func (b *Binder) Bind(ctx context.Context, agent string, binding syntax.Binding) (tool.Descriptor, error) {
	d, err := b.r.Lookup(ctx, binding.Namespace, binding.Name, b.overrides)
	if errors.Is(err, tool.ErrToolNotFound) {
		return tool.Descriptor{}, &tool.UnresolvedBindError{
			Alias:  binding.Alias,
			Agent:  agent,
			Target: binding.Target(),
			Pos:    binding.Pos,
		}
	}
	if err != nil {
		return tool.Descriptor{}, fmt.Errorf("binding %q of agent %s: %w", binding.Alias, agent, err)
	}
	return d, nil
}

// Proxies builds one proxy per tool the artifact invokes, keyed by
// "namespace.name".
func (r *Resolver) Proxies(ctx context.Context, a *ir.Artifact, ov Overrides, factory tool.Factory) (map[string]tool.Proxy, error) {
	refs := a.ToolRefs()
	keys := make([]string, 0, len(refs))
	for k := range refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]tool.Proxy, len(refs))
	for _, k := range keys {
		ref := refs[k]
		p, err := r.Resolve(ctx, ref.Namespace, ref.Name, ov, factory)
		if err != nil {
			return nil, err
		}
		out[k] = p
	}
	return out, nil
}
