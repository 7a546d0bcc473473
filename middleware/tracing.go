package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobq/job"
)

// tracerName is the instrumentation scope name for jobq tracing.
const tracerName = "github.com/xraph/jobq"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span using the global TracerProvider.
//
// Span attributes: jobq.job.id, jobq.job.name, jobq.queue, jobq.attempt,
// jobq.max_attempts and jobq.priority. jobq.repeat_id is added for
// repeating jobs.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		attrs := []attribute.KeyValue{
			attribute.String("jobq.job.id", j.ID.String()),
			attribute.String("jobq.job.name", j.Name),
			attribute.String("jobq.queue", j.Queue),
			attribute.Int("jobq.attempt", j.AttemptsMade+1),
			attribute.Int("jobq.max_attempts", j.MaxAttempts),
			attribute.Int("jobq.priority", j.Priority),
		}
		if !j.RepeatID.IsNil() {
			attrs = append(attrs, attribute.String("jobq.repeat_id", j.RepeatID.String()))
		}

		ctx, span := tracer.Start(ctx, "jobq.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		res, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return res, err
	}
}
