// Package tool defines tool descriptors, the proxy call contract and the
// registry interface used to resolve agent bindings.
package tool

import (
	"fmt"
	"sort"

	"github.com/felixgeelhaar/apl/domain/capability"
)

// Param is one named input parameter of a tool contract.
type Param struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Descriptor is the registry record for a resolvable tool. Descriptors are
// registered before compilation and referenced, not copied, by proxies.
type Descriptor struct {
	Namespace    string              `json:"namespace" yaml:"namespace"`
	Name         string              `json:"name" yaml:"name"`
	Description  string              `json:"description,omitempty" yaml:"description,omitempty"`
	Capabilities capability.Manifest `json:"capability_manifest,omitempty" yaml:"capability_manifest,omitempty"`
	Params       []Param             `json:"params,omitempty" yaml:"params,omitempty"`
	InputSchema  Schema              `json:"input_schema" yaml:"-"`
	OutputSchema Schema              `json:"output_schema" yaml:"-"`
	// Operations restricts the operation names callable on the tool; empty
	// allows any.
	Operations  []string `json:"operations,omitempty" yaml:"operations,omitempty"`
	EndpointRef string   `json:"endpoint_ref" yaml:"endpoint_ref"`
}

// Key returns "namespace.name".
func (d Descriptor) Key() string {
	return Key(d.Namespace, d.Name)
}

// Key joins a namespace and name.
func Key(namespace, name string) string {
	return namespace + "." + name
}

// Validate checks that the descriptor is well formed.
func (d Descriptor) Validate() error {
	if d.Namespace == "" || d.Name == "" {
		return ErrEmptyName
	}
	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("%w: %s has an unnamed parameter", ErrInvalidDescriptor, d.Key())
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s declares parameter %q twice", ErrInvalidDescriptor, d.Key(), p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// RequiredCapabilities returns the capability names the tool requires, sorted.
func (d Descriptor) RequiredCapabilities() []string {
	return d.Capabilities.Names()
}

// ParamNames returns the parameter names in declaration order.
func (d Descriptor) ParamNames() []string {
	names := make([]string, len(d.Params))
	for i, p := range d.Params {
		names[i] = p.Name
	}
	return names
}

// AllowsOperation reports whether op may be invoked on the tool.
func (d Descriptor) AllowsOperation(op string) bool {
	if len(d.Operations) == 0 {
		return true
	}
	for _, o := range d.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// WithEndpoint returns a copy of d pointing at endpoint.
func (d Descriptor) WithEndpoint(endpoint string) Descriptor {
	d.EndpointRef = endpoint
	return d
}

// CheckArgs validates invocation arguments against the parameter contract.
func (d Descriptor) CheckArgs(args map[string]any) error {
	for _, p := range d.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("%w: missing required parameter %q", ErrInvalidInput, p.Name)
			}
			continue
		}
		if !matchesType(p.Type, v) {
			return fmt.Errorf("%w: parameter %q must be %s", ErrInvalidInput, p.Name, p.Type)
		}
	}
	return nil
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		_, ok := v.(int64)
		return ok
	case "number":
		switch v.(type) {
		case int64, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// Builder provides a fluent API for constructing descriptors.
type Builder struct {
	d Descriptor
}

// NewBuilder creates a descriptor builder for namespace.name.
func NewBuilder(namespace, name string) *Builder {
	return &Builder{d: Descriptor{Namespace: namespace, Name: name}}
}

// WithDescription sets the description.
func (b *Builder) WithDescription(desc string) *Builder {
	b.d.Description = desc
	return b
}

// RequiresCapability adds a required capability.
func (b *Builder) RequiresCapability(name string, params capability.Params) *Builder {
	if b.d.Capabilities == nil {
		b.d.Capabilities = make(capability.Manifest)
	}
	b.d.Capabilities[name] = params
	return b
}

// WithParam appends an input parameter.
func (b *Builder) WithParam(name, typ string, required bool) *Builder {
	b.d.Params = append(b.d.Params, Param{Name: name, Type: typ, Required: required})
	return b
}

// WithInputSchema sets the input schema.
func (b *Builder) WithInputSchema(schema Schema) *Builder {
	b.d.InputSchema = schema
	return b
}

// WithOutputSchema sets the output schema.
func (b *Builder) WithOutputSchema(schema Schema) *Builder {
	b.d.OutputSchema = schema
	return b
}

// WithOperations restricts the callable operations.
func (b *Builder) WithOperations(ops ...string) *Builder {
	b.d.Operations = append(b.d.Operations, ops...)
	sort.Strings(b.d.Operations)
	return b
}

// WithEndpoint sets the endpoint reference.
func (b *Builder) WithEndpoint(ref string) *Builder {
	b.d.EndpointRef = ref
	return b
}

// Build validates and returns the descriptor.
func (b *Builder) Build() (Descriptor, error) {
	if err := b.d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return b.d, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() Descriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}
