package jobq

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal store interface held by the Dispatcher. It covers
// lifecycle operations only; the job.Store interface adds the queue
// operations and is used by the subsystem packages.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher holds the configuration, logger and store shared by every
// subsystem, and drives the lifecycle of whatever runners the engine
// package attaches to it.
//
// Create one with New() and functional options, then hand it to
// engine.Build.
type Dispatcher struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	runners    []poolRunner

	// started tracks how many runners were started.
	started int
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if err := d.config.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// AddRunner appends a runner started by Start, in order, and stopped by
// Stop in reverse order.
func (d *Dispatcher) AddRunner(r poolRunner) { d.runners = append(d.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (d *Dispatcher) SetExtensions(e extensionEmitter) { d.extensions = e }

// Start begins job processing.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.store == nil {
		return ErrNoStore
	}
	for _, r := range d.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
		d.started++
	}
	return nil
}

// Stop stops every started runner, emits the shutdown hook and closes the
// store.
func (d *Dispatcher) Stop(ctx context.Context) error {
	for i := d.started - 1; i >= 0; i-- {
		if err := d.runners[i].Stop(ctx); err != nil {
			d.logger.Error("runner stop error", slog.String("error", err.Error()))
		}
	}
	d.started = 0
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of concurrent job processors per queue.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the dispatcher will claim from.
func WithQueues(queues []string) Option {
	return func(d *Dispatcher) error {
		d.config.Queues = queues
		return nil
	}
}

// WithLimiter bounds claims to max per rolling duration.
func WithLimiter(maxClaims int, duration time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.Limiter = Limiter{Max: maxClaims, Duration: duration}
		return nil
	}
}

// WithRetention keeps only the newest completed and failed jobs.
func WithRetention(keepCompleted, keepFailed int) Option {
	return func(d *Dispatcher) error {
		d.config.Retention = Retention{KeepCompleted: keepCompleted, KeepFailed: keepFailed}
		return nil
	}
}

// WithStallDetection sets the reaper interval and the stall limit.
func WithStallDetection(interval time.Duration, maxStalled int) Option {
	return func(d *Dispatcher) error {
		d.config.StalledInterval = interval
		d.config.MaxStalledCount = maxStalled
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the dispatcher. The engine
// package additionally requires it to implement job.Store.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
