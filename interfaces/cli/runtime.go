package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/felixgeelhaar/apl/application"
	"github.com/felixgeelhaar/apl/domain/blob"
	"github.com/felixgeelhaar/apl/domain/cache"
	"github.com/felixgeelhaar/apl/domain/capability"
	domainconfig "github.com/felixgeelhaar/apl/domain/config"
	"github.com/felixgeelhaar/apl/domain/run"
	"github.com/felixgeelhaar/apl/domain/tool"
	infraconfig "github.com/felixgeelhaar/apl/infrastructure/config"
	"github.com/felixgeelhaar/apl/infrastructure/logging"
	"github.com/felixgeelhaar/apl/infrastructure/mcp"
	"github.com/felixgeelhaar/apl/infrastructure/observability"
	"github.com/felixgeelhaar/apl/infrastructure/proxy"
	"github.com/felixgeelhaar/apl/infrastructure/resilience"
	"github.com/felixgeelhaar/apl/infrastructure/resolver"
	"github.com/felixgeelhaar/apl/infrastructure/security/audit"
	"github.com/felixgeelhaar/apl/infrastructure/security/secrets"
	"github.com/felixgeelhaar/apl/infrastructure/storage/azure"
	"github.com/felixgeelhaar/apl/infrastructure/storage/badger"
	"github.com/felixgeelhaar/apl/infrastructure/storage/filesystem"
	"github.com/felixgeelhaar/apl/infrastructure/storage/gcs"
	"github.com/felixgeelhaar/apl/infrastructure/storage/memory"
	"github.com/felixgeelhaar/apl/infrastructure/storage/postgres"
	redisstore "github.com/felixgeelhaar/apl/infrastructure/storage/redis"
	"github.com/felixgeelhaar/apl/infrastructure/storage/s3"
	"github.com/felixgeelhaar/apl/infrastructure/storage/sqlite"
)

// auditStreamMaxLen bounds each run's Redis audit stream.
const auditStreamMaxLen = 10000

// runtimeFlags are command line settings layered over the configuration.
type runtimeFlags struct {
	allow  []string
	live   bool
	strict bool
}

// runtime is an engine assembled from configuration together with the
// resources it owns.
type runtime struct {
	engine   *application.Engine
	provider *observability.Provider
	runs     run.Store
	audits   capability.AuditStore
	mode     run.Mode

	closers []func() error
}

// Close releases everything the runtime opened, newest first.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if rt.provider != nil {
		if err := rt.provider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		rt.provider = nil
	}
	return errors.Join(errs...)
}

func (rt *runtime) onClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// initLogging configures the process logger from cfg. Logs go to w.
func initLogging(cfg domainconfig.LoggingConfig, w io.Writer) {
	logging.Init(logging.Config{
		Level:   cfg.Level,
		Format:  cfg.Format,
		NoColor: cfg.NoColor,
		Output:  w,
	})
}

// buildRuntime wires an engine from cfg. On error every resource opened
// so far is released.
func buildRuntime(ctx context.Context, cfg *domainconfig.Config, flags runtimeFlags) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	grants := append(append([]string{}, cfg.Grants...), flags.allow...)
	allow, err := capability.ParseAllowlist(grants)
	if err != nil {
		return nil, err
	}

	env, err := newEnvLookup(ctx, cfg.Runtime.EnvFile)
	if err != nil {
		return nil, err
	}

	configured, err := resolver.ParseOverrides(cfg.Registry.Overrides)
	if err != nil {
		return nil, err
	}
	fromEnv, err := resolver.OverridesFromEnv(env)
	if err != nil {
		return nil, err
	}
	overrides := configured.Merge(fromEnv)

	provider, err := newProvider(cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	rt.provider = provider

	executor := resilience.NewExecutorWithOptions(
		resilience.WithMaxConcurrent(cfg.Runtime.MaxConcurrent),
		resilience.WithQueue(cfg.Runtime.MaxQueue, cfg.Runtime.QueueTimeout.Duration()),
		resilience.WithStepTimeout(cfg.Runtime.StepTimeout.Duration()),
		resilience.WithRetryDelay(cfg.Runtime.RetryDelay.Duration()),
		resilience.WithCircuitBreakerThreshold(cfg.Runtime.CircuitBreaker.Threshold),
		resilience.WithCircuitBreakerTimeout(cfg.Runtime.CircuitBreaker.Timeout.Duration()),
	)

	rt.onClose(executor.Close)

	pool := mcp.NewPool(nil)
	rt.onClose(pool.Close)

	res, err := rt.newResolver(ctx, cfg.Registry, pool)
	if err != nil {
		return nil, err
	}

	rt.mode = run.ModeSimulated
	if flags.live || cfg.Runtime.Mode == domainconfig.ModeLive {
		rt.mode = run.ModeLive
	}
	factory, err := rt.newFactory(ctx, cfg, executor, pool)
	if err != nil {
		return nil, err
	}

	sinks, err := rt.newTraceSinks(ctx, cfg.Trace)
	if err != nil {
		return nil, err
	}

	opts := []application.Option{
		application.WithResolver(res),
		application.WithOverrides(overrides),
		application.WithFactory(factory),
		application.WithMode(rt.mode),
		application.WithExecutor(executor),
		application.WithAllow(allow),
		application.WithStrict(flags.strict || cfg.Runtime.Strict),
		application.WithMaxLoopUnroll(cfg.Runtime.MaxLoopUnroll),
		application.WithEnv(env),
		application.WithTracer(provider.Tracer()),
	}
	for _, sink := range sinks {
		opts = append(opts, application.WithAuditSink(sink))
	}
	if rt.runs != nil {
		opts = append(opts, application.WithRunStore(rt.runs))
	}
	if cfg.Telemetry.Metrics.Enabled {
		metrics, err := observability.NewMetrics(provider.Meter())
		if err != nil {
			return nil, err
		}
		opts = append(opts, application.WithMetrics(metrics))
	}

	rt.engine, err = application.NewEngineWithOptions(opts...)
	if err != nil {
		return nil, err
	}

	logging.Debug().
		Add(logging.Component("cli")).
		Add(logging.Str("mode", string(rt.mode))).
		Add(logging.Count("grants", len(allow))).
		Add(logging.Count("overrides", len(overrides))).
		Msg("runtime assembled")
	return rt, nil
}

// newEnvLookup resolves env: arguments from the process environment,
// falling back to envFile.
func newEnvLookup(ctx context.Context, envFile string) (run.EnvLookup, error) {
	managers := []secrets.Manager{secrets.NewEnvManager()}
	if envFile != "" {
		values, err := infraconfig.LoadDotEnv(envFile)
		if err != nil {
			return nil, err
		}
		managers = append(managers, secrets.NewMemoryManager(values))
	}
	return secrets.Lookup(ctx, secrets.NewChainedManager(managers...)), nil
}

func newProvider(cfg domainconfig.TelemetryConfig) (*observability.Provider, error) {
	var opts []observability.Option
	if cfg.ServiceName != "" {
		opts = append(opts, observability.WithServiceName(cfg.ServiceName))
	}
	if cfg.Environment != "" {
		opts = append(opts, observability.WithEnvironment(cfg.Environment))
	}
	if cfg.Tracing.Enabled {
		switch observability.ExporterType(cfg.Tracing.Exporter) {
		case observability.ExporterOTLP:
			opts = append(opts, observability.WithOTLP(cfg.Tracing.Endpoint))
			if cfg.Tracing.Insecure {
				opts = append(opts, observability.WithTracingInsecure())
			}
		case observability.ExporterStdout:
			// Spans go to stderr so run output stays parseable.
			opts = append(opts, observability.WithStdoutTracing(), observability.WithTraceWriter(os.Stderr))
		default:
			opts = append(opts, observability.WithNoopTracing())
		}
		if cfg.Tracing.SampleRate > 0 {
			opts = append(opts, observability.WithSampleRate(cfg.Tracing.SampleRate))
		}
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, observability.WithMetrics())
	}
	return observability.New(opts...)
}

func (rt *runtime) newResolver(ctx context.Context, cfg domainconfig.RegistryConfig, pool *mcp.Pool) (*resolver.Resolver, error) {
	registry := memory.NewToolRegistry()
	for i, d := range cfg.Tools {
		if err := registry.Register(d); err != nil {
			return nil, fmt.Errorf("registry.tools[%d]: %w", i, err)
		}
	}

	c, err := rt.newCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	opts := []resolver.Option{resolver.WithCache(c, cfg.Cache.TTL.Duration())}

	if len(cfg.MCPServers) > 0 {
		servers := make(map[string]string, len(cfg.MCPServers))
		var sourceOpts []mcp.SourceOption
		for key, server := range cfg.MCPServers {
			servers[key] = server.Endpoint
			if len(server.Capabilities) > 0 {
				sourceOpts = append(sourceOpts, mcp.WithRequiredCapabilities(key, server.Capabilities))
			}
		}
		opts = append(opts, resolver.WithSource(mcp.NewSource(pool, servers, sourceOpts...)))
	}
	return resolver.New(registry, opts...), nil
}

func (rt *runtime) newCache(ctx context.Context, cfg domainconfig.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case domainconfig.CacheRedis:
		c, err := redisstore.NewCache(ctx, redisstore.DefaultConfig(), redisstore.WithURL(cfg.URL))
		if err != nil {
			return nil, err
		}
		rt.onClose(c.Close)
		return c, nil
	case domainconfig.CacheSQLite:
		c, err := sqlite.NewCache(sqlite.DefaultConfig(), sqlite.WithDSN(cfg.Path))
		if err != nil {
			return nil, err
		}
		rt.onClose(c.Close)
		return c, nil
	case domainconfig.CacheBadger:
		db, err := badger.Open(badger.DefaultConfig(), badger.WithDir(cfg.Path))
		if err != nil {
			return nil, err
		}
		rt.onClose(db.Close)
		return badger.NewCache(db), nil
	default:
		var opts []memory.CacheOption
		if cfg.MaxEntries > 0 {
			opts = append(opts, memory.WithMaxSize(cfg.MaxEntries))
		}
		return memory.NewCache(opts...), nil
	}
}

func (rt *runtime) newFactory(ctx context.Context, cfg *domainconfig.Config, executor *resilience.Executor, pool *mcp.Pool) (tool.Factory, error) {
	if rt.mode != run.ModeLive {
		var opts []proxy.SimulatedOption
		if cfg.Storage.Path != "" {
			opts = append(opts, proxy.WithStoreBasePath(cfg.Storage.Path))
		}
		return proxy.NewSimulated(opts...), nil
	}

	store, err := rt.newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	httpCfg := proxy.DefaultHTTPConfig()
	if d := cfg.Runtime.HTTP.Timeout.Duration(); d > 0 {
		httpCfg.Timeout = d
	}
	if cfg.Runtime.HTTP.UserAgent != "" {
		httpCfg.UserAgent = cfg.Runtime.HTTP.UserAgent
	}
	httpCfg.Secret = cfg.Runtime.HTTP.Secret
	httpCfg.Headers = cfg.Runtime.HTTP.Headers

	return proxy.NewLive(proxy.LiveConfig{
		HTTP: httpCfg,
		N8N: proxy.N8NConfig{
			BaseURL: cfg.N8N.BaseURL,
			APIKey:  cfg.N8N.APIKey,
		},
		LLM: proxy.LLMConfig{
			BaseURL: cfg.Runtime.Model.BaseURL,
			APIKey:  cfg.Runtime.Model.APIKey,
			Model:   cfg.Runtime.Model.Model,
		},
		Store: store,
	}, executor.BreakersFor(), pool), nil
}

func (rt *runtime) newBlobStore(ctx context.Context, cfg domainconfig.StorageConfig) (blob.Store, error) {
	switch cfg.Backend {
	case domainconfig.StorageFilesystem:
		return filesystem.NewBlobStore(cfg.Path)
	case domainconfig.StorageBadger:
		db, err := badger.Open(badger.DefaultConfig(), badger.WithDir(cfg.Path))
		if err != nil {
			return nil, err
		}
		rt.onClose(db.Close)
		return badger.NewBlobStore(db), nil
	case domainconfig.StorageS3:
		return s3.NewStore(ctx, s3.Config{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	case domainconfig.StorageGCS:
		return gcs.NewStore(ctx, gcs.Config{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			CredentialsFile: cfg.GCS.CredentialsFile,
		})
	case domainconfig.StorageAzure:
		return azure.NewStore(azure.Config{
			Container:        cfg.Bucket,
			Prefix:           cfg.Prefix,
			ConnectionString: cfg.Azure.ConnectionString,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
		})
	default:
		return memory.NewBlobStore(), nil
	}
}

// newTraceSinks opens the run store and returns the audit sinks the
// engine reports capability decisions to.
func (rt *runtime) newTraceSinks(ctx context.Context, cfg domainconfig.TraceConfig) ([]capability.AuditSink, error) {
	switch cfg.Backend {
	case domainconfig.TraceMemory:
		rt.runs = memory.NewRunStore()
		rt.audits = memory.NewAuditStore()
	case domainconfig.TraceSQLite:
		runs, err := sqlite.NewRunStore(sqlite.DefaultConfig(), sqlite.WithDSN(cfg.DSN))
		if err != nil {
			return nil, err
		}
		rt.onClose(runs.Close)
		audits, err := sqlite.NewAuditStoreFromDB(runs.DB())
		if err != nil {
			return nil, err
		}
		rt.runs, rt.audits = runs, audits
	case domainconfig.TracePostgres:
		pool, err := postgres.NewPool(ctx, postgres.DefaultConfig(), postgres.WithDSN(cfg.DSN), postgres.WithSchema(cfg.Schema))
		if err != nil {
			return nil, err
		}
		rt.onClose(func() error {
			pool.Close()
			return nil
		})
		if err := postgres.Migrate(ctx, pool, cfg.Schema); err != nil {
			return nil, err
		}
		rt.runs = postgres.NewRunStore(pool, cfg.Schema)
		rt.audits = postgres.NewAuditStore(pool, cfg.Schema)
	}

	var sinks []capability.AuditSink
	if rt.audits != nil {
		sinks = append(sinks, rt.audits)
	}
	if cfg.AuditLog != "" {
		logger, err := audit.OpenFile(cfg.AuditLog)
		if err != nil {
			return nil, err
		}
		rt.onClose(logger.Close)
		sinks = append(sinks, logger)
	}
	if cfg.AuditRedisURL != "" {
		redisCfg := redisstore.DefaultConfig()
		client, err := redisstore.Connect(ctx, redisCfg, redisstore.WithURL(cfg.AuditRedisURL))
		if err != nil {
			return nil, err
		}
		rt.onClose(client.Close)
		sinks = append(sinks, redisstore.NewAuditStream(client, redisCfg.KeyPrefix, auditStreamMaxLen))
	}
	return sinks, nil
}
