package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/jobq/job"
)

// meterName is the instrumentation scope name for jobq metrics.
const meterName = "github.com/xraph/jobq"

// Metrics returns middleware that records per-attempt metrics using the
// global OTel MeterProvider. Without a configured provider the noop
// instruments make it a pass-through.
//
// Instruments:
//   - jobq.job.duration (Float64Histogram): attempt time in seconds
//   - jobq.job.attempts (Int64Counter): attempts run
//
// Both carry job_name, queue and outcome, one of "ok", "retry" or "fail".
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API hands back noop instruments.
	duration, _ := meter.Float64Histogram(
		"jobq.job.duration",
		metric.WithDescription("Duration of a job attempt in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"jobq.job.attempts",
		metric.WithDescription("Number of job attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.Queue),
			attribute.String("outcome", outcome(j, err)),
		)
		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)
		return res, err
	}
}

// outcome classifies an attempt the way the worker will act on it.
func outcome(j *job.Job, err error) string {
	switch {
	case err == nil:
		return "ok"
	case !job.IsTerminal(err) && j.AttemptsMade+1 < j.MaxAttempts:
		return "retry"
	default:
		return "fail"
	}
}
