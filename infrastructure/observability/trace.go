package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrRunID      = attribute.Key("apl.run_id")
	AttrIRHash     = attribute.Key("apl.ir_hash")
	AttrRoutine    = attribute.Key("apl.routine")
	AttrStepID     = attribute.Key("apl.step_id")
	AttrStepKind   = attribute.Key("apl.step_kind")
	AttrTool       = attribute.Key("apl.tool")
	AttrCapability = attribute.Key("apl.capability")
	AttrAttempts   = attribute.Key("apl.attempts")
	AttrMode       = attribute.Key("apl.mode")
)

// StartSpan starts a span named name with attrs.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
