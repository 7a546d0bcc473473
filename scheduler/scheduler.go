// Package scheduler moves jobs whose time has come into the waiting set
// and creates the next occurrence of repeating jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/job"
)

// Emitter emits the lifecycle events the scheduler causes.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitJobAdded(ctx context.Context, j *job.Job)
	EmitJobWaiting(ctx context.Context, j *job.Job)
	EmitJobQueued(ctx context.Context, j *job.Job)
	EmitRepeatScheduled(ctx context.Context, prev, next *job.Job)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets how often delayed and stalled jobs are promoted.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithBatchSize bounds how many jobs one PromoteJobs call moves.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) { s.batch = n }
}

// WithWaker sets the function called with the queue of every job that
// becomes waiting, so idle local slots claim it without polling.
func WithWaker(wake func(queue string)) Option {
	return func(s *Scheduler) { s.wake = wake }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler promotes due jobs on a tick loop. Every dispatcher instance
// runs one; promotion is an atomic store operation so instances never
// promote the same job twice.
type Scheduler struct {
	store   job.Store
	emitter Emitter
	logger  *slog.Logger

	interval time.Duration
	batch    int
	wake     func(queue string)
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(store job.Store, emitter Emitter, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:    store,
		emitter:  emitter,
		logger:   logger,
		interval: 250 * time.Millisecond,
		batch:    1000,
		wake:     func(string) {},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.tickLoop(context.WithoutCancel(ctx))
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Stop ends the tick loop and waits for the current tick.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Warn("promote jobs error", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick promotes every delayed job that is due and every stalled job to
// waiting. It returns how many jobs were promoted.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	total := 0
	for {
		promoted, err := s.store.PromoteJobs(ctx, s.now().UTC(), s.batch)
		if err != nil {
			return total, err
		}
		for _, j := range promoted {
			s.emitter.EmitJobWaiting(ctx, j)
			s.wake(j.Queue)
		}
		total += len(promoted)
		if s.batch <= 0 || len(promoted) < s.batch {
			return total, nil
		}
	}
}

// ScheduleNext enqueues the occurrence that follows prev in its repeat
// series. Fire times already in the past are skipped. It returns nil when
// prev does not repeat, its rule is exhausted, or the occurrence was
// already enqueued by an earlier finish of prev.
func (s *Scheduler) ScheduleNext(ctx context.Context, prev *job.Job) (*job.Job, error) {
	next, ok, err := prev.NextOccurrence(s.now())
	if err != nil {
		return nil, fmt.Errorf("scheduler: next occurrence of %s: %w", prev.ID, err)
	}
	if !ok {
		s.logger.Debug("repeat series finished",
			slog.String("repeat_id", prev.RepeatID.String()),
			slog.Int("repeat_count", prev.RepeatCount),
		)
		return nil, nil
	}

	if err := s.store.EnqueueJob(ctx, next); err != nil {
		if errors.Is(err, jobq.ErrJobAlreadyExists) {
			s.logger.Debug("repeat occurrence already scheduled",
				slog.String("job_id", next.ID.String()),
				slog.String("repeat_id", next.RepeatID.String()),
				slog.Int("repeat_count", next.RepeatCount),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("scheduler: enqueue next occurrence: %w", err)
	}

	s.emitter.EmitJobAdded(ctx, next)
	s.emitter.EmitJobQueued(ctx, next)
	s.emitter.EmitRepeatScheduled(ctx, prev, next)
	if next.State == job.StateWaiting {
		s.wake(next.Queue)
	}

	s.logger.Info("repeat scheduled",
		slog.String("job_name", next.Name),
		slog.String("job_id", next.ID.String()),
		slog.String("repeat_id", next.RepeatID.String()),
		slog.Int("repeat_count", next.RepeatCount),
		slog.Time("ready_at", next.ReadyAt),
	)
	return next, nil
}
