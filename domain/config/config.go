// Package config provides domain models for APL runtime configuration.
package config

import (
	"time"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/domain/tool"
)

// Config is the complete configuration of an APL process.
type Config struct {
	// Version is the configuration schema version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	Runtime   RuntimeConfig   `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty"`
	Registry  RegistryConfig  `json:"registry,omitempty" yaml:"registry,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty" yaml:"storage,omitempty"`
	Trace     TraceConfig     `json:"trace,omitempty" yaml:"trace,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
	N8N       N8NConfig       `json:"n8n,omitempty" yaml:"n8n,omitempty"`
	Authoring AuthoringConfig `json:"authoring,omitempty" yaml:"authoring,omitempty"`

	// Grants is the operator allow-list: "name" or "name:limit=10".
	Grants []string `json:"grants,omitempty" yaml:"grants,omitempty"`
}

// Run modes.
const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
)

// RuntimeConfig controls compilation and dispatch.
type RuntimeConfig struct {
	// Mode is simulated (default) or live.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
	// Strict rejects lines that would become fallback model calls.
	Strict bool `json:"strict,omitempty" yaml:"strict,omitempty"`
	// MaxLoopUnroll bounds compile-time loop unrolling.
	MaxLoopUnroll int `json:"max_loop_unroll,omitempty" yaml:"max_loop_unroll,omitempty"`
	// StepTimeout bounds every proxy attempt.
	StepTimeout Duration `json:"step_timeout,omitempty" yaml:"step_timeout,omitempty"`
	// RetryDelay is the delay before the first retry of a step.
	RetryDelay Duration `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	// MaxConcurrent caps concurrent proxy invocations across runs.
	MaxConcurrent int `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	// MaxQueue is how many invocations may wait for a free slot.
	MaxQueue int `json:"max_queue,omitempty" yaml:"max_queue,omitempty"`
	// QueueTimeout bounds the wait for a free slot.
	QueueTimeout Duration `json:"queue_timeout,omitempty" yaml:"queue_timeout,omitempty"`
	// CircuitBreaker configures the per-endpoint breakers of live HTTP proxies.
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
	// HTTP configures live HTTP proxies.
	HTTP HTTPConfig `json:"http,omitempty" yaml:"http,omitempty"`
	// Model configures the live call_llm endpoint.
	Model ModelConfig `json:"model,omitempty" yaml:"model,omitempty"`
	// EnvFile is a .env file consulted after the process environment for
	// env:NAME arguments.
	EnvFile string `json:"env_file,omitempty" yaml:"env_file,omitempty"`
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Threshold is consecutive failures before opening.
	Threshold int `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	// Timeout is how long the circuit stays open.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// HTTPConfig configures live HTTP proxies.
type HTTPConfig struct {
	Timeout   Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	UserAgent string            `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	// Secret signs request bodies with HMAC-SHA256 when set.
	Secret  string            `json:"secret,omitempty" yaml:"secret,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ModelConfig configures a chat completions endpoint.
type ModelConfig struct {
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
}

// AuthoringConfig configures drafting programs from natural-language
// briefs. The model endpoint is runtime.model.
type AuthoringConfig struct {
	// Model overrides runtime.model.model for drafting.
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	// Attempts is how many drafts may be tried before giving up.
	Attempts int `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	// Mock drafts from Seed or built-in templates without a model.
	Mock bool   `json:"mock,omitempty" yaml:"mock,omitempty"`
	Seed string `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is json or console.
	Format  string `json:"format,omitempty" yaml:"format,omitempty"`
	NoColor bool   `json:"no_color,omitempty" yaml:"no_color,omitempty"`
}

// RegistryConfig declares where tool descriptors come from.
type RegistryConfig struct {
	// Tools are registered before compilation.
	Tools []tool.Descriptor `json:"tools,omitempty" yaml:"tools,omitempty"`
	// Overrides are "namespace.name=endpoint" entries applied per run.
	Overrides []string `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	// MCPServers resolves descriptor keys live from MCP servers.
	MCPServers map[string]MCPServerConfig `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty"`
	// Cache holds descriptors resolved from MCP servers.
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`
}

// MCPServerConfig is one live MCP server.
type MCPServerConfig struct {
	// Endpoint is "mcp+stdio:<command>".
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// Capabilities is the manifest required by the server's tools.
	Capabilities capability.Manifest `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheSQLite = "sqlite"
	CacheBadger = "badger"
)

// CacheConfig selects the descriptor cache backend.
type CacheConfig struct {
	// Backend is memory (default), redis, sqlite or badger.
	Backend string   `json:"backend,omitempty" yaml:"backend,omitempty"`
	TTL     Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	// URL is the redis:// URL for the redis backend.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// Path is the database file or directory for sqlite and badger.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// MaxEntries bounds the memory backend.
	MaxEntries int `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
}

// Store primitive backends.
const (
	StorageMemory     = "memory"
	StorageFilesystem = "filesystem"
	StorageBadger     = "badger"
	StorageS3         = "s3"
	StorageGCS        = "gcs"
	StorageAzure      = "azure"
)

// StorageConfig selects the backend of the live store primitive.
type StorageConfig struct {
	// Backend is memory (default), filesystem, badger, s3, gcs or azure.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// Path is the base directory for filesystem and badger.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Bucket is the bucket or container of object stores.
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	// Prefix is prepended to object keys.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	S3    S3Config    `json:"s3,omitempty" yaml:"s3,omitempty"`
	GCS   GCSConfig   `json:"gcs,omitempty" yaml:"gcs,omitempty"`
	Azure AzureConfig `json:"azure,omitempty" yaml:"azure,omitempty"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
}

// GCSConfig configures the Google Cloud Storage backend.
type GCSConfig struct {
	CredentialsFile string `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`
}

// AzureConfig configures the Azure Blob backend.
type AzureConfig struct {
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`
	AccountName      string `json:"account_name,omitempty" yaml:"account_name,omitempty"`
	AccountKey       string `json:"account_key,omitempty" yaml:"account_key,omitempty"`
}

// Trace backends.
const (
	TraceNone     = "none"
	TraceMemory   = "memory"
	TraceSQLite   = "sqlite"
	TracePostgres = "postgres"
)

// TraceConfig selects where finished runs and capability audits go.
type TraceConfig struct {
	// Backend is none (default), memory, sqlite or postgres.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// DSN is the sqlite path or postgres connection string.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	// Schema is the postgres schema.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
	// AuditLog appends capability decisions as JSON lines to a file.
	AuditLog string `json:"audit_log,omitempty" yaml:"audit_log,omitempty"`
	// AuditRedisURL streams capability decisions to Redis.
	AuditRedisURL string `json:"audit_redis_url,omitempty" yaml:"audit_redis_url,omitempty"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName string              `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Environment string              `json:"environment,omitempty" yaml:"environment,omitempty"`
	Tracing     TracingConfig       `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Metrics     MetricsToggleConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Exporter is otlp, stdout or noop.
	Exporter   string  `json:"exporter,omitempty" yaml:"exporter,omitempty"`
	Endpoint   string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Insecure   bool    `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	SampleRate float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
}

// MetricsToggleConfig enables in-process metrics.
type MetricsToggleConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// N8NConfig configures the n8n integration.
type N8NConfig struct {
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// RuntimeURL is where exported workflows send trigger payloads.
	RuntimeURL string `json:"runtime_url,omitempty" yaml:"runtime_url,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Version: "1",
		Runtime: RuntimeConfig{
			Mode:          ModeSimulated,
			MaxLoopUnroll: 64,
			StepTimeout:   Duration(30 * time.Second),
			RetryDelay:    Duration(100 * time.Millisecond),
			MaxConcurrent: 10,
			MaxQueue:      1024,
			QueueTimeout:  Duration(time.Minute),
		},
		Logging:   LoggingConfig{Level: "info", Format: "console"},
		Authoring: AuthoringConfig{Temperature: 0.2, Attempts: 2},
		Registry:  RegistryConfig{Cache: CacheConfig{Backend: CacheMemory, TTL: Duration(5 * time.Minute)}},
		Storage:   StorageConfig{Backend: StorageMemory},
		Trace:     TraceConfig{Backend: TraceNone},
		Telemetry: TelemetryConfig{
			ServiceName: "apl",
			Tracing:     TracingConfig{Exporter: "noop", SampleRate: 1},
		},
	}
}

// Allowlist parses Grants.
func (c *Config) Allowlist() (capability.Allowlist, error) {
	return capability.ParseAllowlist(c.Grants)
}

// Duration is a time.Duration that supports JSON/YAML string representation.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
