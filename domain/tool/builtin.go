package tool

import "github.com/felixgeelhaar/apl/domain/capability"

// Namespaces of built-in descriptors.
const (
	BuiltinNamespace = "builtin"
	N8NNamespace     = "n8n"
)

// Primitive names.
const (
	PrimitiveCallLLM = "call_llm"
	PrimitiveFetch   = "fetch"
	PrimitiveStore   = "store"
)

// Endpoint schemes for built-ins.
const (
	BuiltinScheme = "builtin:"
	N8NScheme     = "n8n:"
)

var builtins = []Descriptor{
	NewBuilder(BuiltinNamespace, PrimitiveCallLLM).
		WithDescription("Call the configured language model").
		WithParam("prompt", "string", true).
		WithParam("model", "string", false).
		WithEndpoint(BuiltinScheme + PrimitiveCallLLM).
		MustBuild(),
	NewBuilder(BuiltinNamespace, PrimitiveFetch).
		WithDescription("Fetch a URL").
		RequiresCapability(capability.Network, nil).
		WithParam("url", "string", true).
		WithEndpoint(BuiltinScheme + PrimitiveFetch).
		MustBuild(),
	NewBuilder(BuiltinNamespace, PrimitiveStore).
		WithDescription("Persist a value under a key").
		RequiresCapability(capability.Storage, nil).
		WithParam("key", "string", true).
		WithParam("value", "", false).
		WithParam("content_type", "string", false).
		WithEndpoint(BuiltinScheme + PrimitiveStore).
		MustBuild(),
	NewBuilder(N8NNamespace, "trigger_webhook").
		WithDescription("Trigger an n8n webhook").
		RequiresCapability(capability.Network, nil).
		WithParam("path", "string", true).
		WithParam("payload", "", false).
		WithParam("method", "string", false).
		WithEndpoint(N8NScheme + "trigger_webhook").
		MustBuild(),
	NewBuilder(N8NNamespace, "call_workflow").
		WithDescription("Run an n8n workflow by id").
		RequiresCapability(capability.Network, nil).
		WithParam("workflow_id", "string", true).
		WithParam("payload", "", false).
		WithEndpoint(N8NScheme + "call_workflow").
		MustBuild(),
}

// Builtins returns the descriptors of the built-in primitives and the n8n
// namespace.
func Builtins() []Descriptor {
	out := make([]Descriptor, len(builtins))
	copy(out, builtins)
	return out
}

// Builtin looks up a built-in descriptor.
func Builtin(namespace, name string) (Descriptor, bool) {
	for _, d := range builtins {
		if d.Namespace == namespace && d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Primitive looks up a bare primitive such as store or fetch.
func Primitive(name string) (Descriptor, bool) {
	return Builtin(BuiltinNamespace, name)
}

// IsBuiltinNamespace reports whether calls on ns resolve to built-ins.
func IsBuiltinNamespace(ns string) bool {
	return ns == N8NNamespace
}
