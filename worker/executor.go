// Package worker runs jobs. An Executor takes one claimed job through the
// middleware chain and its handler and persists the outcome. A Pool owns
// the claim slots, heartbeats and the stall reaper.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/ext"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/middleware"
)

// ErrAbandoned is the cause attached to handler contexts cancelled because
// the shutdown grace period ran out. Their jobs are left to stall
// recovery.
var ErrAbandoned = errors.New("worker: job abandoned at shutdown")

// Repeater creates the next occurrence of a repeating job once an
// occurrence has finished. scheduler.Scheduler satisfies this interface.
type Repeater interface {
	ScheduleNext(ctx context.Context, prev *job.Job) (*job.Job, error)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMiddleware sets the chain every attempt runs through. Without it
// the executor uses middleware.Default.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithRetention trims finished jobs after every finish.
func WithRetention(r jobq.Retention) ExecutorOption {
	return func(e *Executor) { e.retention = r }
}

// WithRepeater schedules the next occurrence of repeating jobs.
func WithRepeater(r Repeater) ExecutorOption {
	return func(e *Executor) { e.repeater = r }
}

// WithExecutorClock replaces time.Now.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// Executor runs a single claimed job through middleware and the registered
// handler, decides between completion, retry and failure, and writes the
// outcome under the claim's lock token.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	mw         middleware.Middleware
	retention  jobq.Retention
	repeater   Repeater
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		mw:         middleware.Default(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one attempt of j, which the caller claimed under token.
// It returns the handler error, ErrAbandoned when the attempt was cut
// short by shutdown, or the store error when the outcome could not be
// written. An outcome rejected with jobq.ErrLockLost is discarded and
// fires no events.
func (e *Executor) Execute(ctx context.Context, j *job.Job, token string) error {
	var (
		progressMu sync.Mutex
		progress   = j.Progress
	)
	report := func(ctx context.Context, p float64) error {
		if err := e.store.UpdateProgress(ctx, j.ID, token, p); err != nil {
			return err
		}
		progressMu.Lock()
		progress = p
		progressMu.Unlock()
		e.extensions.EmitJobProgress(ctx, j, p)
		return nil
	}

	start := e.now()
	result, runErr := e.run(job.WithProgressReporter(job.WithJob(ctx, j), report), j)
	elapsed := e.now().Sub(start)

	if errors.Is(context.Cause(ctx), ErrAbandoned) {
		e.logger.Warn("job abandoned at shutdown",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
		)
		return ErrAbandoned
	}

	now := e.now().UTC()
	out := j.Clone()
	progressMu.Lock()
	out.Progress = progress
	progressMu.Unlock()
	out.AttemptsMade++
	out.UpdatedAt = now
	out.LockToken = ""

	switch {
	case runErr == nil:
		out.State = job.StateCompleted
		out.Result = result
		out.FailureReason = ""
		out.FinishedAt = &now
	case job.IsTerminal(runErr) || !out.CanRetry():
		out.State = job.StateFailed
		out.FailureReason = runErr.Error()
		out.FinishedAt = &now
	default:
		delay := backoff.NextAttempt(out.AttemptsMade, out.Backoff)
		out.ReadyAt = now.Add(delay)
		out.FailureReason = runErr.Error()
		if delay > 0 {
			out.State = job.StateDelayed
		} else {
			out.State = job.StateWaiting
		}
	}

	// The outcome write must reach the store even if ctx ended with the
	// handler; a reclaimed job's write is rejected there.
	ctx = context.WithoutCancel(ctx)
	if err := e.store.FinishJob(ctx, out, token); err != nil {
		if errors.Is(err, jobq.ErrLockLost) {
			e.logger.Warn("discarding outcome of reclaimed job",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.String("state", string(out.State)),
			)
			return err
		}
		e.logger.Error("failed to write job outcome",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return err
	}

	switch out.State {
	case job.StateCompleted:
		e.extensions.EmitJobCompleted(ctx, out, elapsed)
	case job.StateFailed:
		e.extensions.EmitJobFailed(ctx, out, runErr)
	default:
		e.extensions.EmitJobRetrying(ctx, out, runErr, out.ReadyAt)
		e.extensions.EmitJobQueued(ctx, out)
	}

	if out.State.IsFinished() {
		e.Finished(ctx, out)
	}
	return runErr
}

func (e *Executor) run(ctx context.Context, j *job.Job) ([]byte, error) {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		return nil, job.Terminal(fmt.Errorf("%w: %q", jobq.ErrUnknownJobType, j.Name))
	}
	return e.mw(ctx, j, func(ctx context.Context) ([]byte, error) {
		return handler(ctx, j.Payload)
	})
}

// Finished runs the follow-up of a job that reached a terminal state,
// whoever moved it there: the next repeat occurrence is scheduled and
// retention is applied.
func (e *Executor) Finished(ctx context.Context, j *job.Job) {
	if j.Repeat != nil && e.repeater != nil {
		if _, err := e.repeater.ScheduleNext(ctx, j); err != nil {
			e.logger.Error("failed to schedule next occurrence",
				slog.String("job_id", j.ID.String()),
				slog.String("repeat_id", j.RepeatID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	keep := e.retention.KeepCompleted
	if j.State == job.StateFailed {
		keep = e.retention.KeepFailed
	}
	if keep <= 0 {
		return
	}
	n, err := e.store.TrimJobs(ctx, j.State, keep)
	if err != nil {
		e.logger.Warn("retention trim failed",
			slog.String("state", string(j.State)),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		e.logger.Debug("retention trimmed jobs",
			slog.String("state", string(j.State)),
			slog.Int64("removed", n),
		)
	}
}
