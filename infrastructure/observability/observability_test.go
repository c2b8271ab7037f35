package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.ServiceName != "apl" {
		t.Errorf("ServiceName = %q, want apl", cfg.ServiceName)
	}
	if cfg.Tracing.Enabled || cfg.Metrics.Enabled {
		t.Error("tracing and metrics should be disabled by default")
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1.0", cfg.Tracing.SampleRate)
	}
}

func TestConfigOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		opt   Option
		check func(Config) bool
	}{
		{"service name", WithServiceName("svc"), func(c Config) bool { return c.ServiceName == "svc" }},
		{"service version", WithServiceVersion("9"), func(c Config) bool { return c.ServiceVersion == "9" }},
		{"environment", WithEnvironment("ci"), func(c Config) bool { return c.Environment == "ci" }},
		{"tracing", WithTracing(ExporterOTLP, "collector:4317"), func(c Config) bool {
			return c.Tracing.Enabled && c.Tracing.Exporter == ExporterOTLP && c.Tracing.Endpoint == "collector:4317"
		}},
		{"insecure", WithTracingInsecure(), func(c Config) bool { return c.Tracing.Insecure }},
		{"sample rate", WithSampleRate(0.25), func(c Config) bool { return c.Tracing.SampleRate == 0.25 }},
		{"metrics", WithMetrics(), func(c Config) bool { return c.Metrics.Enabled }},
		{"stdout", WithStdoutTracing(), func(c Config) bool { return c.Tracing.Exporter == ExporterStdout }},
		{"otlp", WithOTLP("x:1"), func(c Config) bool {
			return c.Tracing.Exporter == ExporterOTLP && c.Metrics.Enabled
		}},
		{"noop", WithNoopTracing(), func(c Config) bool { return c.Tracing.Enabled && c.Tracing.Exporter == ExporterNoop }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.opt(&cfg)
			if !tt.check(cfg) {
				t.Errorf("option %s not applied: %+v", tt.name, cfg)
			}
		})
	}
}

func TestNoopProvider(t *testing.T) {
	t.Parallel()

	p := NewNoopProvider()
	ctx, span := StartSpan(context.Background(), p.Tracer(), "noop", AttrRunID.String("r1"))
	if ctx == nil {
		t.Fatal("StartSpan() returned nil context")
	}
	EndSpan(span, errors.New("boom"))

	if _, err := p.Collect(context.Background()); !errors.Is(err, ErrMetricsDisabled) {
		t.Errorf("Collect() error = %v, want ErrMetricsDisabled", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestProviderUnknownExporter(t *testing.T) {
	t.Parallel()

	if _, err := New(WithTracing("carrier-pigeon", "")); err == nil {
		t.Error("New() error = nil, want unknown exporter error")
	}
}

func TestProviderStdoutTracing(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(WithStdoutTracing(), WithTraceWriter(&buf))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, span := StartSpan(context.Background(), p.Tracer(), "apl.run", AttrRoutine.String("support.triage"))
	EndSpan(span, nil)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !strings.Contains(buf.String(), "apl.run") {
		t.Errorf("exported spans missing apl.run: %s", buf.String())
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	p, err := New(WithMetrics())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	m, err := NewMetrics(p.Meter())
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	ctx := context.Background()
	m.RecordRun(ctx, "simulated", "completed")
	m.RecordStep(ctx, "store", "ok", time.Millisecond)
	m.RecordStep(ctx, "store", "ok", time.Millisecond)
	m.RecordDenial(ctx, "storage")

	rm, err := p.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if sum, ok := metric.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[metric.Name] += dp.Value
				}
			}
		}
	}
	want := map[string]int64{MetricRuns: 1, MetricSteps: 2, MetricDenials: 1}
	for name, n := range want {
		if sums[name] != n {
			t.Errorf("%s = %d, want %d", name, sums[name], n)
		}
	}
}
