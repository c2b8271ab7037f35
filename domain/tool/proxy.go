package tool

import "context"

// Invocation is one call through a proxy.
type Invocation struct {
	StepID  string
	Agent   string
	Routine string
	// Operation is the method called on the tool (crm.lookup → "lookup");
	// empty for primitives.
	Operation string
	Args      map[string]any
}

// Proxy is the only path from the dispatcher to an external integration.
// Simulated and live proxies satisfy the same contract.
type Proxy interface {
	// Descriptor returns the descriptor the proxy was resolved from.
	Descriptor() Descriptor

	// Invoke performs the call. Failures are returned as errors; callers
	// wrap them into *InvocationError.
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// Handler is the function signature behind a FuncProxy.
type Handler func(ctx context.Context, inv Invocation) (Result, error)

// FuncProxy adapts a Handler into a Proxy.
type FuncProxy struct {
	desc    Descriptor
	handler Handler
}

// NewFuncProxy creates a proxy backed by handler.
func NewFuncProxy(desc Descriptor, handler Handler) *FuncProxy {
	return &FuncProxy{desc: desc, handler: handler}
}

// Descriptor implements Proxy.
func (p *FuncProxy) Descriptor() Descriptor {
	return p.desc
}

// Invoke implements Proxy.
func (p *FuncProxy) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	if p.handler == nil {
		return Result{}, ErrUnsupportedEndpoint
	}
	return p.handler(ctx, inv)
}

// Factory builds proxies for descriptors. Simulated and live execution use
// different factories.
type Factory interface {
	NewProxy(d Descriptor) (Proxy, error)
}

// FactoryFunc adapts a function into a Factory.
type FactoryFunc func(d Descriptor) (Proxy, error)

// NewProxy implements Factory.
func (f FactoryFunc) NewProxy(d Descriptor) (Proxy, error) {
	return f(d)
}
