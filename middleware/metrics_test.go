package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/intent-solutions-io/durable/job"
	"github.com/intent-solutions-io/durable/middleware"
)

// exportedMetric drains the manual reader and returns the named
// instrument's data, or nil when it was never recorded.
func exportedMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

// stringAttrs flattens an attribute set into a map for assertions.
func stringAttrs(set attribute.Set) map[string]string {
	out := make(map[string]string, set.Len())
	for _, kv := range set.ToSlice() {
		if kv.Value.Type() == attribute.STRING {
			out[string(kv.Key)] = kv.Value.AsString()
		}
	}
	return out
}

func TestMetrics_InstrumentsExecution(t *testing.T) {
	tests := []struct {
		name       string
		handlerErr error
		wantStatus string
	}{
		{"completed handler reports ok", nil, "ok"},
		{"failing handler reports error", errors.New("smtp unreachable"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
			m := middleware.MetricsWithMeter(provider.Meter("durable-test"))

			j := job.New("invoice.export", "acme", nil)
			err := m(context.Background(), j, func(_ context.Context) error {
				return tt.handlerErr
			})
			if !errors.Is(err, tt.handlerErr) {
				t.Fatalf("middleware must pass the handler error through, got %v", err)
			}

			execs := exportedMetric(t, reader, "durable.job.executions")
			if execs == nil {
				t.Fatal("executions counter was not recorded")
			}
			sum, ok := execs.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 {
				t.Fatalf("executions data = %+v, want one int64 sum point", execs.Data)
			}
			if sum.DataPoints[0].Value != 1 {
				t.Fatalf("executions = %d, want 1", sum.DataPoints[0].Value)
			}

			attrs := stringAttrs(sum.DataPoints[0].Attributes)
			for key, want := range map[string]string{
				"job_type":  "invoice.export",
				"tenant_id": "acme",
				"status":    tt.wantStatus,
			} {
				if attrs[key] != want {
					t.Errorf("attribute %s = %q, want %q", key, attrs[key], want)
				}
			}
		})
	}
}

func TestMetrics_RecordsDurationHistogram(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := middleware.MetricsWithMeter(provider.Meter("durable-test"))

	j := job.New("invoice.export", "acme", nil)
	_ = m(context.Background(), j, func(_ context.Context) error { return nil })

	duration := exportedMetric(t, reader, "durable.job.duration")
	if duration == nil {
		t.Fatal("duration histogram was not recorded")
	}
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("duration data = %+v, want one float64 histogram point", duration.Data)
	}
	if hist.DataPoints[0].Count != 1 {
		t.Fatalf("duration count = %d, want 1", hist.DataPoints[0].Count)
	}
	if attrs := stringAttrs(hist.DataPoints[0].Attributes); attrs["status"] != "ok" {
		t.Fatalf("duration status = %q, want ok", attrs["status"])
	}
}

func TestMetrics_WithoutProviderIsPassThrough(t *testing.T) {
	// No global MeterProvider installed: instruments are noop, the
	// handler must still run.
	m := middleware.Metrics()

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
