package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/job"
	"github.com/intent-solutions-io/durable/middleware"
)

// recordedSpan runs the tracing middleware around handler and returns
// the single span it produced.
func recordedSpan(t *testing.T, j *job.Job, handler middleware.Handler) sdktrace.ReadOnlySpan {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	m := middleware.TracingWithTracer(provider.Tracer("durable-test"))

	_ = m(context.Background(), j, handler)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	return spans[0]
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[string]attribute.Value {
	out := make(map[string]attribute.Value)
	for _, kv := range span.Attributes() {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func TestTracing_AnnotatesSpanWithJobIdentity(t *testing.T) {
	runID := id.NewRunID()
	j := job.New("invoice.export", "acme", nil, job.WithRun(runID))
	j.Attempts = 1

	span := recordedSpan(t, j, func(_ context.Context) error { return nil })

	if span.Name() != "durable.job.execute" {
		t.Errorf("span name = %q, want durable.job.execute", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	attrs := spanAttrs(span)
	if got := attrs["durable.job.id"].AsString(); got != j.ID.String() {
		t.Errorf("durable.job.id = %q, want %q", got, j.ID)
	}
	if got := attrs["durable.job.type"].AsString(); got != "invoice.export" {
		t.Errorf("durable.job.type = %q, want invoice.export", got)
	}
	if got := attrs["durable.tenant_id"].AsString(); got != "acme" {
		t.Errorf("durable.tenant_id = %q, want acme", got)
	}
	if got := attrs["durable.attempt"].AsInt64(); got != 1 {
		t.Errorf("durable.attempt = %d, want 1", got)
	}
	// A run-scoped job carries its run on the span.
	if got := attrs["durable.run_id"].AsString(); got != runID.String() {
		t.Errorf("durable.run_id = %q, want %q", got, runID)
	}
}

func TestTracing_RunlessJobOmitsRunAttribute(t *testing.T) {
	span := recordedSpan(t, newTestJob(), func(_ context.Context) error { return nil })

	if _, ok := spanAttrs(span)["durable.run_id"]; ok {
		t.Fatal("runless job must not carry durable.run_id")
	}
}

func TestTracing_HandlerErrorMarksSpan(t *testing.T) {
	handlerErr := errors.New("ledger export rejected")
	span := recordedSpan(t, newTestJob(), func(_ context.Context) error {
		return handlerErr
	})

	if span.Status().Code != codes.Error {
		t.Fatalf("status = %v, want Error", span.Status().Code)
	}
	if span.Status().Description != handlerErr.Error() {
		t.Fatalf("status description = %q, want %q", span.Status().Description, handlerErr)
	}

	var recorded bool
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			recorded = true
		}
	}
	if !recorded {
		t.Fatal("error was not recorded as a span event")
	}
}

func TestTracing_HandlerSeesSpanContext(t *testing.T) {
	var inner trace.SpanContext
	span := recordedSpan(t, newTestJob(), func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	if !inner.IsValid() {
		t.Fatal("handler context carries no span")
	}
	if inner.TraceID() != span.SpanContext().TraceID() {
		t.Fatal("handler span belongs to a different trace")
	}
}

func TestTracing_WithoutProviderIsPassThrough(t *testing.T) {
	// No global TracerProvider installed: spans are noop, the handler
	// must still run.
	m := middleware.Tracing()

	ran := false
	err := m(context.Background(), newTestJob(), func(_ context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("handler did not run")
	}
}
