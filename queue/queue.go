package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour such as rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously in the local pool. Zero means no queue-specific
	// limit (the pool's per-queue slot count still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained claims per second from this
	// queue. Zero disables the per-queue token bucket.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager gates claims. A claim needs room in the global rolling window,
// a token from the queue's bucket and a free queue concurrency slot. It is
// safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
	window *window
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithWindow bounds claims across all queues to max per rolling d.
func WithWindow(maxClaims int, d time.Duration) ManagerOption {
	return func(m *Manager) {
		if maxClaims > 0 && d > 0 {
			m.window = newWindow(maxClaims, d)
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no queue-level limits.
func NewManager(configs []Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		queues: make(map[string]*queueState, len(configs)),
		now:    time.Now,
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Permit is the right to claim one job from a queue. Exactly one of
// Cancel or Release must be called.
type Permit struct {
	m       *Manager
	queue   string
	stamp   time.Time
	windows bool
	res     *rate.Reservation
}

// Acquire reserves capacity for one claim from queue. When refused it
// returns nil and how long until the rate limits could admit a claim; a
// zero wait means the queue is at its concurrency cap.
func (m *Manager) Acquire(queue string) (*Permit, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	qs := m.queues[queue]
	if qs != nil && qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return nil, 0
	}

	p := &Permit{m: m, queue: queue}
	if m.window != nil {
		stamp, wait, ok := m.window.reserve(now)
		if !ok {
			return nil, wait
		}
		p.stamp, p.windows = stamp, true
	}
	if qs != nil && qs.limiter != nil {
		r := qs.limiter.ReserveN(now, 1)
		if d := r.DelayFrom(now); !r.OK() || d > 0 {
			r.CancelAt(now)
			if p.windows {
				m.window.cancel(p.stamp)
			}
			return nil, d
		}
		p.res = r
	}
	if qs != nil {
		qs.active++
	}
	return p, 0
}

// Cancel returns the unused capacity, as if Acquire had never happened.
// Use it when the claim found no job.
func (p *Permit) Cancel() {
	m := p.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.windows {
		m.window.cancel(p.stamp)
	}
	if p.res != nil {
		p.res.CancelAt(m.now())
	}
	m.decrement(p.queue)
}

// Release ends the job's concurrency slot. The rate budget it consumed
// stays consumed.
func (p *Permit) Release() {
	m := p.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decrement(p.queue)
}

func (m *Manager) decrement(queue string) {
	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// SetQueueConfig dynamically updates (or creates) a queue configuration.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.queues[cfg.Name]
	qs := newQueueState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the current number of active jobs for a configured
// queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// WindowUsage returns the claims counted in the current global window.
func (m *Manager) WindowUsage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.window == nil {
		return 0
	}
	m.window.expire(m.now())
	return len(m.window.stamps)
}
