package application

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/run"
	"github.com/felixgeelhaar/apl/domain/tool"
	"github.com/felixgeelhaar/apl/infrastructure/observability"
	"github.com/felixgeelhaar/apl/infrastructure/resilience"
	"github.com/felixgeelhaar/apl/infrastructure/resolver"
)

// Option configures the engine.
type Option func(*EngineConfig)

// WithResolver sets the binding resolver.
func WithResolver(r *resolver.Resolver) Option {
	return func(c *EngineConfig) {
		c.Resolver = r
	}
}

// WithOverrides sets per-engine endpoint overrides.
func WithOverrides(ov resolver.Overrides) Option {
	return func(c *EngineConfig) {
		c.Overrides = ov
	}
}

// WithFactory sets the proxy factory.
func WithFactory(f tool.Factory) Option {
	return func(c *EngineConfig) {
		c.Factory = f
	}
}

// WithMode sets the mode recorded on runs.
func WithMode(m run.Mode) Option {
	return func(c *EngineConfig) {
		c.Mode = m
	}
}

// WithExecutor sets the resilient executor.
func WithExecutor(e *resilience.Executor) Option {
	return func(c *EngineConfig) {
		c.Executor = e
	}
}

// WithAllow sets the operator allow-list.
func WithAllow(a capability.Allowlist) Option {
	return func(c *EngineConfig) {
		c.Allow = a
	}
}

// WithAuditSink adds a sink receiving every capability decision.
func WithAuditSink(s capability.AuditSink) Option {
	return func(c *EngineConfig) {
		c.AuditSinks = append(c.AuditSinks, s)
	}
}

// WithRunStore sets the store finished runs are saved to.
func WithRunStore(s run.Store) Option {
	return func(c *EngineConfig) {
		c.Runs = s
	}
}

// WithStrict enables strict parsing.
func WithStrict(strict bool) Option {
	return func(c *EngineConfig) {
		c.Strict = strict
	}
}

// WithMaxLoopUnroll bounds loop unrolling.
func WithMaxLoopUnroll(n int) Option {
	return func(c *EngineConfig) {
		c.MaxLoopUnroll = n
	}
}

// WithClock sets the clock used for trace and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *EngineConfig) {
		c.Clock = now
	}
}

// WithEnv sets the lookup for env:NAME arguments.
func WithEnv(env run.EnvLookup) Option {
	return func(c *EngineConfig) {
		c.Env = env
	}
}

// WithIDs sets the run id generator.
func WithIDs(ids func() string) Option {
	return func(c *EngineConfig) {
		c.IDs = ids
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *EngineConfig) {
		c.Tracer = t
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *EngineConfig) {
		c.Metrics = m
	}
}

// NewEngineWithOptions creates an engine using functional options.
func NewEngineWithOptions(opts ...Option) (*Engine, error) {
	config := EngineConfig{}
	for _, opt := range opts {
		opt(&config)
	}
	return NewEngine(config)
}
