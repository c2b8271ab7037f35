package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/felixgeelhaar/apl/domain/capability"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// Path is the dotted path to the invalid field.
	Path string
	// Message describes the validation error.
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(e), strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks the configuration and returns every problem found, or
// nil.
func (c *Config) Validate() error {
	v := &validator{}
	v.runtime(c.Runtime)
	v.logging(c.Logging)
	v.registry(c.Registry)
	v.storage(c.Storage)
	v.trace(c.Trace)
	v.telemetry(c.Telemetry)
	v.n8n(c.N8N)
	v.authoring(c.Authoring)
	if _, err := capability.ParseAllowlist(c.Grants); err != nil {
		v.add("grants", err.Error())
	}
	if v.errs.HasErrors() {
		return v.errs
	}
	return nil
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(path, message string) {
	v.errs = append(v.errs, ValidationError{Path: path, Message: message})
}

func (v *validator) oneOf(path, value string, allowed ...string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.add(path, fmt.Sprintf("must be one of %s, got %q", strings.Join(allowed, ", "), value))
}

func (v *validator) nonNegative(path string, n int64) {
	if n < 0 {
		v.add(path, "must be non-negative")
	}
}

func (v *validator) url(path, raw string) {
	if raw == "" {
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		v.add(path, fmt.Sprintf("invalid URL %q", raw))
	}
}

func (v *validator) runtime(r RuntimeConfig) {
	v.oneOf("runtime.mode", r.Mode, ModeSimulated, ModeLive)
	v.nonNegative("runtime.max_loop_unroll", int64(r.MaxLoopUnroll))
	v.nonNegative("runtime.step_timeout", int64(r.StepTimeout))
	v.nonNegative("runtime.retry_delay", int64(r.RetryDelay))
	v.nonNegative("runtime.max_concurrent", int64(r.MaxConcurrent))
	v.nonNegative("runtime.max_queue", int64(r.MaxQueue))
	v.nonNegative("runtime.queue_timeout", int64(r.QueueTimeout))
	v.nonNegative("runtime.circuit_breaker.threshold", int64(r.CircuitBreaker.Threshold))
	v.nonNegative("runtime.http.timeout", int64(r.HTTP.Timeout))
	v.url("runtime.model.base_url", r.Model.BaseURL)
}

func (v *validator) authoring(a AuthoringConfig) {
	if a.Temperature < 0 || a.Temperature > 2 {
		v.add("authoring.temperature", "must be between 0 and 2")
	}
	v.nonNegative("authoring.attempts", int64(a.Attempts))
}

func (v *validator) logging(l LoggingConfig) {
	v.oneOf("logging.level", strings.ToLower(l.Level), "trace", "debug", "info", "warn", "error")
	v.oneOf("logging.format", l.Format, "json", "console")
}

func (v *validator) registry(r RegistryConfig) {
	seen := make(map[string]bool, len(r.Tools))
	for i, d := range r.Tools {
		path := fmt.Sprintf("registry.tools[%d]", i)
		if err := d.Validate(); err != nil {
			v.add(path, err.Error())
			continue
		}
		if seen[d.Key()] {
			v.add(path, fmt.Sprintf("duplicate tool %s", d.Key()))
		}
		seen[d.Key()] = true
		if d.EndpointRef == "" {
			v.add(path+".endpoint_ref", "endpoint_ref is required")
		}
	}
	for i, o := range r.Overrides {
		if k, e, ok := strings.Cut(o, "="); !ok || k == "" || e == "" {
			v.add(fmt.Sprintf("registry.overrides[%d]", i), fmt.Sprintf("want namespace.name=endpoint, got %q", o))
		}
	}
	for key, s := range r.MCPServers {
		path := "registry.mcp_servers." + key
		if ns, name, ok := strings.Cut(key, "."); !ok || ns == "" || name == "" {
			v.add(path, "key must be namespace.name")
		}
		if !strings.HasPrefix(s.Endpoint, "mcp+stdio:") {
			v.add(path+".endpoint", "endpoint must start with mcp+stdio:")
		}
	}

	c := r.Cache
	v.oneOf("registry.cache.backend", c.Backend, CacheMemory, CacheRedis, CacheSQLite, CacheBadger)
	v.nonNegative("registry.cache.ttl", int64(c.TTL))
	v.nonNegative("registry.cache.max_entries", int64(c.MaxEntries))
	if c.Backend == CacheRedis && c.URL == "" {
		v.add("registry.cache.url", "url is required for the redis backend")
	}
}

func (v *validator) storage(s StorageConfig) {
	v.oneOf("storage.backend", s.Backend,
		StorageMemory, StorageFilesystem, StorageBadger, StorageS3, StorageGCS, StorageAzure)
	switch s.Backend {
	case StorageFilesystem, StorageBadger:
		if s.Path == "" {
			v.add("storage.path", "path is required for the "+s.Backend+" backend")
		}
	case StorageS3, StorageGCS:
		if s.Bucket == "" {
			v.add("storage.bucket", "bucket is required for the "+s.Backend+" backend")
		}
	case StorageAzure:
		if s.Bucket == "" {
			v.add("storage.bucket", "bucket (container) is required for the azure backend")
		}
		if s.Azure.ConnectionString == "" && s.Azure.AccountName == "" {
			v.add("storage.azure", "connection_string or account_name is required")
		}
	}
}

func (v *validator) trace(t TraceConfig) {
	v.oneOf("trace.backend", t.Backend, TraceNone, TraceMemory, TraceSQLite, TracePostgres)
	if (t.Backend == TraceSQLite || t.Backend == TracePostgres) && t.DSN == "" {
		v.add("trace.dsn", "dsn is required for the "+t.Backend+" backend")
	}
	if t.AuditRedisURL != "" && !strings.HasPrefix(t.AuditRedisURL, "redis") {
		v.add("trace.audit_redis_url", fmt.Sprintf("invalid redis URL %q", t.AuditRedisURL))
	}
}

func (v *validator) telemetry(t TelemetryConfig) {
	v.oneOf("telemetry.tracing.exporter", t.Tracing.Exporter, "otlp", "stdout", "noop")
	if t.Tracing.SampleRate < 0 || t.Tracing.SampleRate > 1 {
		v.add("telemetry.tracing.sample_rate", "must be between 0 and 1")
	}
	if t.Tracing.Enabled && t.Tracing.Exporter == "otlp" && t.Tracing.Endpoint == "" {
		v.add("telemetry.tracing.endpoint", "endpoint is required for the otlp exporter")
	}
}

func (v *validator) n8n(n N8NConfig) {
	v.url("n8n.base_url", n.BaseURL)
	if n.RuntimeURL != "" && !strings.HasPrefix(n.RuntimeURL, "=") {
		v.url("n8n.runtime_url", n.RuntimeURL)
	}
}
