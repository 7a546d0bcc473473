// Package engine wires the jobq subsystems together: the extension
// registry, the job registry, the middleware chain, the scheduler and the
// worker pool. It provides the producer API.
//
// This package exists to break the import cycle: the root jobq package
// defines Entity and the error sentinels (imported by job, store, etc.)
// and so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/ext"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	mw "github.com/xraph/jobq/middleware"
	"github.com/xraph/jobq/observability"
	"github.com/xraph/jobq/queue"
	"github.com/xraph/jobq/scheduler"
	"github.com/xraph/jobq/stream"
	"github.com/xraph/jobq/worker"
)

// instrumentationName is the otel scope of the engine's middleware.
const instrumentationName = "github.com/xraph/jobq"

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d          *jobq.Dispatcher
	extensions *ext.Registry
	registry   *job.Registry
	store      job.Store
	broker     *stream.Broker
	executor   *worker.Executor
	pool       *worker.Pool
	scheduler  *scheduler.Scheduler
	mws        []mw.Middleware
	logger     *slog.Logger
	now        func() time.Time

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. User middleware
// runs inside the built-in stack, closest to the handler.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no queue-level limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider used by both the
// metrics middleware and the observability extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Dispatcher.
// The Dispatcher's store must implement job.Store.
func Build(d *jobq.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	store := d.Store()
	if store == nil {
		return nil, jobq.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, errors.New("jobq: store does not implement job.Store")
	}

	eng := &Engine{
		d:          d,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		store:      js,
		broker:     stream.NewBroker(logger),
		logger:     logger,
		now:        time.Now,
	}
	eng.extensions.Register(eng.broker)

	for _, opt := range opts {
		opt(eng)
	}

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var (
		metricsMw mw.Middleware
		obsExt    *observability.MetricsExtension
	)
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// recover → tracing → metrics → logging → timeout → user middleware.
	chain := make([]mw.Middleware, 0, 5+len(eng.mws))
	chain = append(chain,
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(),
	)
	chain = append(chain, eng.mws...)

	config := d.Config()
	eng.queueManager = queue.NewManager(eng.queueConfigs,
		queue.WithWindow(config.Limiter.Max, config.Limiter.Duration),
	)

	eng.scheduler = scheduler.New(js, eng.extensions, logger,
		scheduler.WithInterval(config.SchedulerInterval),
		scheduler.WithWaker(func(queue string) { eng.pool.Wake(queue) }),
	)

	eng.executor = worker.NewExecutor(eng.registry, eng.extensions, js, logger,
		worker.WithMiddleware(chain...),
		worker.WithRetention(config.Retention),
		worker.WithRepeater(eng.scheduler),
	)

	eng.pool = worker.NewPool(js, eng.executor, eng.extensions, logger,
		worker.WithConfig(config),
		worker.WithQueueManager(eng.queueManager),
	)

	// The pool stops first so no claim races the last promotion.
	d.AddRunner(eng.scheduler)
	d.AddRunner(eng.pool)
	d.SetExtensions(eng.extensions)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T, R any](eng *Engine, def *job.Definition[T, R]) {
	job.RegisterDefinition(eng.registry, def)
}

// Submit JSON-encodes payload and submits a job named name. The defaults
// registered with the job's definition apply first, then opts.
func Submit[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, jobq.NewValidationError("payload", err.Error())
	}
	return eng.SubmitRaw(ctx, name, data, eng.registry.Defaults(name).Apply(opts...))
}

// SubmitRaw submits a job with a pre-serialized payload and fully resolved
// options. It fails synchronously only with a *jobq.ValidationError or a
// store error.
func (eng *Engine) SubmitRaw(ctx context.Context, name string, payload []byte, o job.Options) (*job.Job, error) {
	j, err := job.New(name, payload, o, eng.now())
	if err != nil {
		return nil, err
	}

	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobAdded(ctx, j)
	eng.extensions.EmitJobQueued(ctx, j)
	if j.State == job.StateWaiting {
		eng.pool.Wake(j.Queue)
	}
	return j, nil
}

// GetJob returns the job with the given ID.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// ListJobs returns jobs in state in claim order.
func (eng *Engine) ListJobs(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	return eng.store.ListJobsByState(ctx, state, opts)
}

// Stats counts jobs per state.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Stalled   int64 `json:"stalled"`
}

// Total returns the number of jobs across all states.
func (s Stats) Total() int64 {
	return s.Waiting + s.Delayed + s.Active + s.Completed + s.Failed + s.Stalled
}

// Stats counts the jobs of every queue per state.
func (eng *Engine) Stats(ctx context.Context) (Stats, error) {
	return eng.QueueStats(ctx, "")
}

// QueueStats counts the jobs of one queue per state. An empty queue
// counts all queues.
func (eng *Engine) QueueStats(ctx context.Context, queue string) (Stats, error) {
	var s Stats
	fields := map[job.State]*int64{
		job.StateWaiting:   &s.Waiting,
		job.StateDelayed:   &s.Delayed,
		job.StateActive:    &s.Active,
		job.StateCompleted: &s.Completed,
		job.StateFailed:    &s.Failed,
		job.StateStalled:   &s.Stalled,
	}
	for _, state := range job.States {
		n, err := eng.store.CountJobs(ctx, job.CountOpts{Queue: queue, State: state})
		if err != nil {
			return Stats{}, fmt.Errorf("count %s jobs: %w", state, err)
		}
		*fields[state] = n
	}
	return s, nil
}

// Retry moves a failed job back to waiting with a fresh attempt budget.
// It returns jobq.ErrInvalidState unless the job is failed.
func (eng *Engine) Retry(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.RetryJob(ctx, jobID, eng.now())
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitJobWaiting(ctx, j)
	eng.pool.Wake(j.Queue)
	eng.logger.Info("job retried",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
	)
	return j, nil
}

// Remove deletes a job. An active job is deleted too; its owner's outcome
// write is then rejected.
func (eng *Engine) Remove(ctx context.Context, jobID id.JobID) error {
	if err := eng.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	eng.extensions.EmitJobRemoved(ctx, jobID)
	return nil
}

// Cleanup deletes jobs in a finished state that finished more than
// olderThan ago. It returns the number removed.
func (eng *Engine) Cleanup(ctx context.Context, olderThan time.Duration, state job.State) (int64, error) {
	if !state.IsFinished() {
		return 0, fmt.Errorf("%w: cleanup of %s jobs", jobq.ErrInvalidState, state)
	}
	n, err := eng.store.EvictJobs(ctx, state, eng.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		eng.logger.Info("jobs cleaned up",
			slog.String("state", string(state)),
			slog.Int64("removed", n),
		)
	}
	return n, nil
}

// Start begins job processing: the scheduler, then the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.d.Start(ctx)
}

// Stop gracefully shuts down the engine. See worker.Pool.Stop for what
// happens to in-flight jobs.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.d.Stop(ctx)
}

// Events returns the broker every lifecycle event is published on.
func (eng *Engine) Events() *stream.Broker { return eng.broker }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *jobq.Dispatcher { return eng.d }

// Scheduler returns the scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.scheduler }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// QueueManager returns the claim gate.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
