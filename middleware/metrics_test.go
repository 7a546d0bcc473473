package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/jobq/job"
	mw "github.com/xraph/jobq/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func attrValue(attrs attribute.Set, key string) string {
	v, ok := attrs.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.AsString()
}

// attemptOutcome runs one attempt of j through the metrics middleware and
// returns the outcome attribute recorded on the attempts counter.
func attemptOutcome(t *testing.T, j *job.Job, handlerErr error) string {
	t.Helper()
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_, _ = m(context.Background(), j, func(_ context.Context) ([]byte, error) {
		return nil, handlerErr
	})

	metric := findMetric(collectMetrics(t, reader), "jobq.job.attempts")
	if metric == nil {
		t.Fatal("jobq.job.attempts metric not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(sum.DataPoints))
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("expected value=1, got %d", sum.DataPoints[0].Value)
	}
	return attrValue(sum.DataPoints[0].Attributes, "outcome")
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_, _ = m(context.Background(), newTestJob(), ok)

	metric := findMetric(collectMetrics(t, reader), "jobq.job.duration")
	if metric == nil {
		t.Fatal("jobq.job.duration metric not found")
	}
	hist, isHist := metric.Data.(metricdata.Histogram[float64])
	if !isHist {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points recorded for duration")
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("expected count=1, got %d", hist.DataPoints[0].Count)
	}
	attrs := hist.DataPoints[0].Attributes
	if attrValue(attrs, "job_name") != "send-email" || attrValue(attrs, "queue") != "default" {
		t.Errorf("unexpected attributes %v", attrs.ToSlice())
	}
}

func TestMetrics_Outcomes(t *testing.T) {
	tests := []struct {
		name         string
		attemptsMade int
		maxAttempts  int
		err          error
		want         string
	}{
		{"success", 0, 1, nil, "ok"},
		{"retryable with attempts left", 0, 3, errors.New("flaky"), "retry"},
		{"last attempt", 2, 3, errors.New("flaky"), "fail"},
		{"terminal", 0, 3, job.Terminal(errors.New("bad input")), "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := newTestJob()
			j.AttemptsMade = tt.attemptsMade
			j.MaxAttempts = tt.maxAttempts
			if got := attemptOutcome(t, j, tt.err); got != tt.want {
				t.Errorf("outcome = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	m := mw.Metrics()

	called := false
	_, err := m(context.Background(), newTestJob(), func(_ context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}
