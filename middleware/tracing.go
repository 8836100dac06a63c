package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/intent-solutions-io/durable/job"
)

// tracerName is the instrumentation scope name for durable tracing.
const tracerName = "github.com/intent-solutions-io/durable"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: durable.job.id, durable.job.type,
// durable.tenant_id, durable.run_id, durable.attempt.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("durable.job.id", j.ID.String()),
			attribute.String("durable.job.type", j.Type),
			attribute.String("durable.tenant_id", j.TenantID),
			attribute.Int("durable.attempt", j.Attempts),
		}
		if !j.RunID.IsNil() {
			attrs = append(attrs, attribute.String("durable.run_id", j.RunID.String()))
		}

		ctx, span := tracer.Start(ctx, "durable.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
