package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/ext"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/queue"
)

// Pinger checks store connectivity. Every store backend satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// permit is the capacity one claim holds. *queue.Permit satisfies it.
type permit interface {
	Cancel()
	Release()
}

type unlimited struct{}

func (unlimited) Cancel()  {}
func (unlimited) Release() {}

// abandonWait bounds how long Stop waits for handlers it has cancelled.
const abandonWait = time.Second

// inflight is a job a slot is executing. A detached job is no longer
// heartbeated: its lock was lost or it was abandoned at shutdown.
type inflight struct {
	job      *job.Job
	token    string
	detached bool
}

// Pool runs Concurrency claim slots for each configured queue, extends the
// lock of every in-flight job and reaps jobs whose owner went silent.
type Pool struct {
	store      job.Store
	pinger     Pinger
	executor   *Executor
	extensions *ext.Registry
	manager    *queue.Manager
	workerID   id.WorkerID
	logger     *slog.Logger
	now        func() time.Time

	concurrency       int
	queues            []string
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	stalledInterval   time.Duration
	lockDuration      time.Duration
	maxStalled        int
	shutdownTimeout   time.Duration

	wake   map[string]chan struct{}
	health *gate

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	bgCancel  context.CancelFunc
	jobCtx    context.Context
	jobCancel context.CancelCauseFunc
	slots     sync.WaitGroup
	bg        sync.WaitGroup

	activeMu sync.Mutex
	active   map[string]*inflight
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConfig applies the worker settings of cfg.
func WithConfig(cfg jobq.Config) PoolOption {
	return func(p *Pool) {
		p.concurrency = cfg.Concurrency
		p.queues = cfg.Queues
		p.pollInterval = cfg.PollInterval
		p.heartbeatInterval = cfg.HeartbeatInterval
		p.stalledInterval = cfg.StalledInterval
		p.lockDuration = cfg.EffectiveLockDuration()
		p.maxStalled = cfg.MaxStalledCount
		p.shutdownTimeout = cfg.ShutdownTimeout
	}
}

// WithPoolConcurrency sets the number of slots per queue.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool claims from.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle slot sleeps when nothing wakes it.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often in-flight locks are extended.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStallDetection sets the reaper interval, how long a job may go
// without a heartbeat, and how many stalls a job survives. A zero interval
// disables the reaper.
func WithStallDetection(interval, lockDuration time.Duration, maxStalled int) PoolOption {
	return func(p *Pool) {
		p.stalledInterval = interval
		p.lockDuration = lockDuration
		p.maxStalled = maxStalled
	}
}

// WithShutdownTimeout sets the grace period in-flight handlers get on Stop.
func WithShutdownTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.shutdownTimeout = d }
}

// WithQueueManager gates every claim on m.
func WithQueueManager(m *queue.Manager) PoolOption {
	return func(p *Pool) { p.manager = m }
}

// WithPinger sets the connectivity check used to reopen claiming after
// the store became unavailable. Defaults to the store when it has Ping.
func WithPinger(pg Pinger) PoolOption {
	return func(p *Pool) { p.pinger = pg }
}

// WithWorkerID sets the identity recorded on claimed jobs.
func WithWorkerID(wid id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = wid }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:             store,
		executor:          executor,
		extensions:        extensions,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		now:               time.Now,
		concurrency:       10,
		queues:            []string{job.DefaultQueue},
		pollInterval:      time.Second,
		heartbeatInterval: 10 * time.Second,
		stalledInterval:   30 * time.Second,
		lockDuration:      30 * time.Second,
		maxStalled:        1,
		shutdownTimeout:   30 * time.Second,
		health:            newGate(),
		active:            make(map[string]*inflight),
	}
	if pg, ok := store.(Pinger); ok {
		p.pinger = pg
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wake = make(map[string]chan struct{}, len(p.queues))
	for _, q := range p.queues {
		p.wake[q] = make(chan struct{}, p.concurrency)
	}
	return p
}

// WorkerID returns the pool's identity.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Wake nudges one idle slot of queue to claim immediately.
func (p *Pool) Wake(queue string) {
	ch, ok := p.wake[queue]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// ActiveCount returns the number of jobs being executed.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// Start launches the slots, the heartbeat loop and the reaper. It returns
// immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	base := context.WithoutCancel(ctx)
	var bgCtx context.Context
	bgCtx, p.bgCancel = context.WithCancel(base)
	p.jobCtx, p.jobCancel = context.WithCancelCause(base)

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for _, q := range p.queues {
		for range p.concurrency {
			p.slots.Add(1)
			go p.slot(bgCtx, q)
		}
	}

	if p.heartbeatInterval > 0 {
		p.bg.Add(1)
		go p.heartbeatLoop(bgCtx)
	}
	if p.stalledInterval > 0 {
		p.bg.Add(1)
		go p.reaperLoop(bgCtx)
	}
	return nil
}

// Stop stops claiming at once and waits up to the shutdown timeout, or
// until ctx is done, for in-flight handlers. Handlers still running after
// that have their context cancelled with ErrAbandoned and their heartbeats
// stop, so their jobs are not finished and stall recovery picks them up.
// Stop waits a bounded time for cancelled handlers to return and leaves
// behind any that ignore their context.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	done := make(chan struct{})
	go func() {
		p.slots.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-timer.C:
		p.abandon()
		p.awaitAbandoned(ctx, done)
	case <-ctx.Done():
		p.abandon()
		p.awaitAbandoned(context.WithoutCancel(ctx), done)
	}

	p.bgCancel()
	p.bg.Wait()
	p.jobCancel(context.Canceled)
	return nil
}

func (p *Pool) abandon() {
	p.logger.Warn("worker pool shutdown timed out, abandoning active jobs",
		slog.Int("active", p.ActiveCount()),
	)
	p.activeMu.Lock()
	for _, f := range p.active {
		f.detached = true
	}
	p.activeMu.Unlock()
	p.jobCancel(ErrAbandoned)
}

func (p *Pool) awaitAbandoned(ctx context.Context, done <-chan struct{}) {
	t := time.NewTimer(abandonWait)
	defer t.Stop()
	select {
	case <-done:
		return
	case <-t.C:
	case <-ctx.Done():
	}
	p.logger.Warn("handlers ignored cancellation, leaving them running",
		slog.Int("active", p.ActiveCount()),
	)
}

// slot claims and executes jobs of one queue, one at a time.
func (p *Pool) slot(ctx context.Context, queue string) {
	defer p.slots.Done()

	for {
		if !p.health.wait(p.stopCh) {
			return
		}
		select {
		case <-p.stopCh:
			return
		default:
		}

		pm, wait := p.acquire(queue)
		if pm == nil {
			if wait <= 0 {
				wait = p.pollInterval
			}
			if !p.pause(queue, wait) {
				return
			}
			continue
		}

		token := uuid.NewString()
		j, err := p.store.ClaimJob(ctx, queue, job.Claim{
			Token:    token,
			WorkerID: p.workerID,
			Now:      p.now().UTC(),
		})
		if err != nil {
			pm.Cancel()
			if errors.Is(err, jobq.ErrStoreUnavailable) {
				p.storeDown(ctx, err)
				continue
			}
			p.logger.Error("claim error",
				slog.String("queue", queue),
				slog.String("error", err.Error()),
			)
			if !p.pause(queue, p.pollInterval) {
				return
			}
			continue
		}
		if j == nil {
			pm.Cancel()
			if !p.pause(queue, p.pollInterval) {
				return
			}
			continue
		}

		p.execute(j, token)
		pm.Release()
		p.Wake(queue)
	}
}

func (p *Pool) acquire(queue string) (permit, time.Duration) {
	if p.manager == nil {
		return unlimited{}, 0
	}
	pm, wait := p.manager.Acquire(queue)
	if pm == nil {
		return nil, wait
	}
	return pm, 0
}

func (p *Pool) execute(j *job.Job, token string) {
	ctx := p.jobCtx

	key := j.ID.String()
	p.activeMu.Lock()
	p.active[key] = &inflight{job: j, token: token}
	p.activeMu.Unlock()
	defer func() {
		p.activeMu.Lock()
		delete(p.active, key)
		p.activeMu.Unlock()
	}()

	p.extensions.EmitJobActive(ctx, j)
	if err := p.executor.Execute(ctx, j, token); err != nil {
		p.logger.Debug("job attempt ended with error",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}
}

// pause sleeps for d, until queue is woken, or until the pool stops. It
// reports whether the slot should keep going.
func (p *Pool) pause(queue string, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.wake[queue]:
		return true
	case <-p.stopCh:
		return false
	}
}

// storeDown closes the health gate and, for the first slot to notice,
// pings the store until it answers again.
func (p *Pool) storeDown(ctx context.Context, cause error) {
	if !p.health.close() {
		return
	}
	p.logger.Warn("store unavailable, claiming paused", slog.String("error", cause.Error()))

	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		err := retry.Do(ctx, reconnectBackoff(), func(ctx context.Context) error {
			if p.pinger == nil {
				return nil
			}
			if err := p.pinger.Ping(ctx); err != nil {
				p.logger.Debug("store ping failed", slog.String("error", err.Error()))
				return retry.RetryableError(err)
			}
			return nil
		})
		// Without a retry limit only cancellation ends the loop early.
		if err == nil {
			p.logger.Info("store reachable again, claiming resumed")
		}
		p.health.open()
	}()
}

func reconnectBackoff() retry.Backoff {
	return retry.WithCappedDuration(5*time.Second, retry.NewExponential(100*time.Millisecond))
}

// heartbeatLoop extends the lock of every in-flight job.
func (p *Pool) heartbeatLoop(ctx context.Context) {
	defer p.bg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sendHeartbeats(ctx)
		}
	}
}

func (p *Pool) sendHeartbeats(ctx context.Context) {
	p.activeMu.Lock()
	jobs := make([]*inflight, 0, len(p.active))
	for _, f := range p.active {
		if !f.detached {
			jobs = append(jobs, f)
		}
	}
	p.activeMu.Unlock()

	now := p.now().UTC()
	for _, f := range jobs {
		err := p.store.HeartbeatJob(ctx, f.job.ID, f.token, now)
		switch {
		case err == nil:
		case errors.Is(err, jobq.ErrLockLost):
			// The handler runs on; its outcome is rejected at finish.
			p.logger.Warn("lock lost, heartbeat stopped",
				slog.String("job_id", f.job.ID.String()),
				slog.String("job_name", f.job.Name),
			)
			p.activeMu.Lock()
			f.detached = true
			p.activeMu.Unlock()
		default:
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", f.job.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically reclaims jobs whose lock expired.
func (p *Pool) reaperLoop(ctx context.Context) {
	defer p.bg.Done()

	ticker := time.NewTicker(p.stalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ReapStalled(ctx)
		}
	}
}

// ReapStalled moves active jobs whose last heartbeat is older than the
// lock duration to stalled, or to failed once they exceed the stall limit.
func (p *Pool) ReapStalled(ctx context.Context) {
	now := p.now().UTC()
	reaped, err := p.store.ReapStalled(ctx, now.Add(-p.lockDuration), p.maxStalled, now)
	if err != nil {
		p.logger.Error("reap stalled jobs error", slog.String("error", err.Error()))
		return
	}

	for _, j := range reaped {
		if j.State == job.StateFailed {
			p.logger.Warn("job failed after stalling",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.Int("stalled_count", j.StalledCount),
			)
			p.extensions.EmitJobFailed(ctx, j, errors.New(j.FailureReason))
			p.executor.Finished(ctx, j)
			continue
		}
		p.logger.Warn("job stalled",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("stalled_count", j.StalledCount),
		)
		p.extensions.EmitJobStalled(ctx, j)
	}
}

// gate blocks slots while the store is unreachable.
type gate struct {
	mu     sync.Mutex
	closed bool
	ch     chan struct{}
}

func newGate() *gate {
	ch := make(chan struct{})
	close(ch)
	return &gate{ch: ch}
}

// close shuts the gate and reports whether this call did so.
func (g *gate) close() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.closed = true
	g.ch = make(chan struct{})
	return true
}

func (g *gate) open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		return
	}
	g.closed = false
	close(g.ch)
}

// wait blocks until the gate is open or stop is closed. It reports
// whether the gate opened.
func (g *gate) wait(stop <-chan struct{}) bool {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-stop:
		return false
	}
}
