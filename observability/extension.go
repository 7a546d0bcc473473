package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/jobq/ext"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobAdded        = (*MetricsExtension)(nil)
	_ ext.JobActive       = (*MetricsExtension)(nil)
	_ ext.JobProgress     = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobFailed       = (*MetricsExtension)(nil)
	_ ext.JobRetrying     = (*MetricsExtension)(nil)
	_ ext.JobStalled      = (*MetricsExtension)(nil)
	_ ext.JobRemoved      = (*MetricsExtension)(nil)
	_ ext.RepeatScheduled = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope of the extension.
const meterName = "github.com/xraph/jobq/observability"

// Event attribute values of the jobq.jobs counter.
const (
	EventAdded           = "added"
	EventActive          = "active"
	EventProgress        = "progress"
	EventCompleted       = "completed"
	EventFailed          = "failed"
	EventRetrying        = "retrying"
	EventStalled         = "stalled"
	EventRemoved         = "removed"
	EventRepeatScheduled = "repeat_scheduled"
)

// MetricsExtension records system-wide lifecycle metrics on OpenTelemetry
// instruments:
//
//   - jobq.jobs (Int64Counter): lifecycle events, by event and queue
//   - jobq.job.wait (Float64Histogram): seconds from ReadyAt to claim
//   - jobq.job.run (Float64Histogram): seconds from claim to completion
type MetricsExtension struct {
	events metric.Int64Counter
	wait   metric.Float64Histogram
	run    metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	events, _ := meter.Int64Counter("jobq.jobs",
		metric.WithDescription("Job lifecycle events"),
		metric.WithUnit("{event}"),
	)
	wait, _ := meter.Float64Histogram("jobq.job.wait",
		metric.WithDescription("Time a job waited between becoming ready and being claimed"),
		metric.WithUnit("s"),
	)
	run, _ := meter.Float64Histogram("jobq.job.run",
		metric.WithDescription("Time from claim to successful completion"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{events: events, wait: wait, run: run}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func (m *MetricsExtension) count(ctx context.Context, event, queue string) {
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("queue", queue),
	))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobAdded implements ext.JobAdded.
func (m *MetricsExtension) OnJobAdded(ctx context.Context, j *job.Job) error {
	m.count(ctx, EventAdded, j.Queue)
	return nil
}

// OnJobActive implements ext.JobActive.
func (m *MetricsExtension) OnJobActive(ctx context.Context, j *job.Job) error {
	m.count(ctx, EventActive, j.Queue)
	if j.ProcessedAt != nil && !j.ReadyAt.IsZero() {
		if wait := j.ProcessedAt.Sub(j.ReadyAt); wait >= 0 {
			m.wait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String("queue", j.Queue)))
		}
	}
	return nil
}

// OnJobProgress implements ext.JobProgress.
func (m *MetricsExtension) OnJobProgress(ctx context.Context, j *job.Job, _ float64) error {
	m.count(ctx, EventProgress, j.Queue)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.count(ctx, EventCompleted, j.Queue)
	m.run.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("queue", j.Queue),
		attribute.String("job_name", j.Name),
	))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.count(ctx, EventFailed, j.Queue)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ error, _ time.Time) error {
	m.count(ctx, EventRetrying, j.Queue)
	return nil
}

// OnJobStalled implements ext.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job) error {
	m.count(ctx, EventStalled, j.Queue)
	return nil
}

// OnJobRemoved implements ext.JobRemoved. The queue is unknown once the
// job is gone.
func (m *MetricsExtension) OnJobRemoved(ctx context.Context, _ id.JobID) error {
	m.count(ctx, EventRemoved, "")
	return nil
}

// ── Repeat hooks ────────────────────────────────────

// OnRepeatScheduled implements ext.RepeatScheduled.
func (m *MetricsExtension) OnRepeatScheduled(ctx context.Context, _, next *job.Job) error {
	m.count(ctx, EventRepeatScheduled, next.Queue)
	return nil
}
