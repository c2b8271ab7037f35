package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricRuns         = "apl.runs"
	MetricSteps        = "apl.steps"
	MetricDenials      = "apl.capability.denials"
	MetricStepDuration = "apl.step.duration"
)

// Metrics records runtime counters.
type Metrics struct {
	runs     metric.Int64Counter
	steps    metric.Int64Counter
	denials  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates the runtime instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	runs, err := meter.Int64Counter(MetricRuns,
		metric.WithDescription("Routine runs by final state"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}
	steps, err := meter.Int64Counter(MetricSteps,
		metric.WithDescription("Evaluated steps by kind and status"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, err
	}
	denials, err := meter.Int64Counter(MetricDenials,
		metric.WithDescription("Denied capability checks"),
		metric.WithUnit("{check}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(MetricStepDuration,
		metric.WithDescription("Step evaluation time"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &Metrics{runs: runs, steps: steps, denials: denials, duration: duration}, nil
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(ctx context.Context, mode, state string) {
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("state", state),
	))
}

// RecordStep counts an evaluated step and its duration.
func (m *Metrics) RecordStep(ctx context.Context, kind, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.steps.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

// RecordDenial counts a denied capability check.
func (m *Metrics) RecordDenial(ctx context.Context, capability string) {
	m.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("capability", capability)))
}
