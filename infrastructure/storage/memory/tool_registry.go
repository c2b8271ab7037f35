// Package memory provides in-memory storage implementations.
package memory

import (
	"sort"
	"sync"

	"github.com/felixgeelhaar/apl/domain/tool"
)

// ToolRegistry is an in-memory implementation of tool.Registry. Reads are
// concurrent; registrations are serialized.
type ToolRegistry struct {
	tools map[string]tool.Descriptor
	mu    sync.RWMutex
}

// NewToolRegistry creates a new in-memory tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]tool.Descriptor),
	}
}

// Register adds a descriptor to the registry.
func (r *ToolRegistry) Register(d tool.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Key()]; exists {
		return tool.ErrToolExists
	}

	r.tools[d.Key()] = d
	return nil
}

// Replace registers d, overwriting any descriptor with the same key.
func (r *ToolRegistry) Replace(d tool.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[d.Key()] = d
	return nil
}

// Get retrieves a descriptor by namespace and name.
func (r *ToolRegistry) Get(namespace, name string) (tool.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.tools[tool.Key(namespace, name)]
	return d, ok
}

// List returns all registered descriptors ordered by key.
func (r *ToolRegistry) List() []tool.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]tool.Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Has checks if a descriptor is registered.
func (r *ToolRegistry) Has(namespace, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.tools[tool.Key(namespace, name)]
	return ok
}

// Unregister removes a descriptor from the registry.
func (r *ToolRegistry) Unregister(namespace, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tool.Key(namespace, name)
	if _, exists := r.tools[key]; !exists {
		return tool.ErrToolNotFound
	}

	delete(r.tools, key)
	return nil
}

// Clear removes all descriptors from the registry.
func (r *ToolRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]tool.Descriptor)
}

// Count returns the number of registered descriptors.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

var _ tool.Registry = (*ToolRegistry)(nil)
