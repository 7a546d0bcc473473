package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := NewManager(nil)
	p, _ := m.Acquire("any-queue")
	if p == nil {
		t.Fatal("expected Acquire to succeed for unconfigured queue")
	}
	p.Release()
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager([]Config{{Name: "emails", MaxConcurrency: 2}})

	p1, _ := m.Acquire("emails")
	p2, _ := m.Acquire("emails")
	if p1 == nil || p2 == nil {
		t.Fatal("first two Acquires should succeed")
	}
	p3, wait := m.Acquire("emails")
	if p3 != nil {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}
	if wait != 0 {
		t.Errorf("concurrency refusal wait = %v, want 0", wait)
	}

	p1.Release()
	if p, _ := m.Acquire("emails"); p == nil {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestManager_CancelFreesSlot(t *testing.T) {
	m := NewManager([]Config{{Name: "q", MaxConcurrency: 1}})

	p, _ := m.Acquire("q")
	if m.ActiveCount("q") != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount("q"))
	}
	p.Cancel()
	if m.ActiveCount("q") != 0 {
		t.Fatalf("expected 0 active after Cancel, got %d", m.ActiveCount("q"))
	}
}

// ---------------------------------------------------------------------------
// Token bucket
// ---------------------------------------------------------------------------

func TestManager_RateLimit_Throttles(t *testing.T) {
	clock := newFakeClock()
	m := NewManager([]Config{{Name: "limited", RateLimit: 1.0, RateBurst: 1}}, WithClock(clock.Now))

	p, _ := m.Acquire("limited")
	if p == nil {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	p.Release()

	if p, wait := m.Acquire("limited"); p != nil {
		t.Fatal("second Acquire should fail (rate limited)")
	} else if wait <= 0 || wait > time.Second {
		t.Errorf("wait = %v, want within (0, 1s]", wait)
	}

	clock.Advance(1100 * time.Millisecond)
	if p, _ := m.Acquire("limited"); p == nil {
		t.Fatal("Acquire should succeed after token refill")
	}
}

func TestManager_RateLimit_CancelRestoresToken(t *testing.T) {
	clock := newFakeClock()
	m := NewManager([]Config{{Name: "limited", RateLimit: 1.0, RateBurst: 1}}, WithClock(clock.Now))

	p, _ := m.Acquire("limited")
	p.Cancel()

	if p, _ := m.Acquire("limited"); p == nil {
		t.Fatal("cancelled permit should return its token")
	}
}

// ---------------------------------------------------------------------------
// Rolling window
// ---------------------------------------------------------------------------

func TestManager_Window_BoundsClaims(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(nil, WithWindow(3, time.Second), WithClock(clock.Now))

	for i := range 3 {
		p, _ := m.Acquire("q")
		if p == nil {
			t.Fatalf("Acquire %d should succeed", i)
		}
		p.Release()
		clock.Advance(100 * time.Millisecond)
	}

	p, wait := m.Acquire("q")
	if p != nil {
		t.Fatal("fourth Acquire inside the window should fail")
	}
	// First stamp at t=0 leaves the window at t=1s; now is t=300ms.
	if wait != 700*time.Millisecond {
		t.Errorf("wait = %v, want 700ms", wait)
	}

	clock.Advance(wait + time.Millisecond)
	if p, _ := m.Acquire("q"); p == nil {
		t.Fatal("Acquire should succeed once the oldest claim left the window")
	}
}

func TestManager_Window_NoDoubleBurstAcrossBoundary(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(nil, WithWindow(5, time.Second), WithClock(clock.Now))

	clock.Advance(900 * time.Millisecond)
	for range 5 {
		p, _ := m.Acquire("q")
		if p == nil {
			t.Fatal("expected admission")
		}
	}

	// 200ms later a fixed window would have reset. A rolling one must not.
	clock.Advance(200 * time.Millisecond)
	if p, _ := m.Acquire("q"); p != nil {
		t.Fatal("rolling window admitted a sixth claim within one second")
	}
}

func TestManager_Window_CancelReturnsBudget(t *testing.T) {
	m := NewManager(nil, WithWindow(1, time.Minute))

	p, _ := m.Acquire("q")
	p.Cancel()
	if m.WindowUsage() != 0 {
		t.Fatalf("WindowUsage = %d, want 0", m.WindowUsage())
	}
	if p, _ := m.Acquire("q"); p == nil {
		t.Fatal("cancelled permit should free its window slot")
	}
}

func TestManager_Window_IsPerManager(t *testing.T) {
	// Each dispatcher owns its own Manager; their windows do not share
	// budget.
	a := NewManager(nil, WithWindow(1, time.Minute))
	b := NewManager(nil, WithWindow(1, time.Minute))

	if p, _ := a.Acquire("q"); p == nil {
		t.Fatal("first manager refused its first claim")
	}
	if p, _ := b.Acquire("q"); p == nil {
		t.Fatal("second manager refused its first claim")
	}
	if p, _ := a.Acquire("q"); p != nil {
		t.Fatal("first manager admitted past its window")
	}
}

func TestManager_SetQueueConfig(t *testing.T) {
	m := NewManager([]Config{{Name: "q", MaxConcurrency: 1}})

	p, _ := m.Acquire("q")
	if p == nil {
		t.Fatal("first Acquire should succeed")
	}

	m.SetQueueConfig(Config{Name: "q", MaxConcurrency: 2})
	if m.ActiveCount("q") != 1 {
		t.Fatalf("reconfiguring should keep the active count, got %d", m.ActiveCount("q"))
	}
	if p, _ := m.Acquire("q"); p == nil {
		t.Fatal("Acquire should succeed after raising MaxConcurrency")
	}
}

// ---------------------------------------------------------------------------
// Concurrency safety
// ---------------------------------------------------------------------------

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager([]Config{{Name: "concurrent", MaxConcurrency: 50}})

	var acquired atomic.Int64
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p, _ := m.Acquire("concurrent"); p != nil {
				acquired.Add(1)
				time.Sleep(time.Millisecond)
				p.Release()
			}
		}()
	}

	wg.Wait()

	if acquired.Load() == 0 {
		t.Fatal("expected some Acquires to succeed")
	}
	if m.ActiveCount("concurrent") != 0 {
		t.Fatalf("expected 0 active after all goroutines, got %d", m.ActiveCount("concurrent"))
	}
}

func TestManager_ReleaseUnderflow(t *testing.T) {
	m := NewManager([]Config{{Name: "q", MaxConcurrency: 5}})

	p, _ := m.Acquire("q")
	p.Release()
	p.Release()
	if m.ActiveCount("q") != 0 {
		t.Fatal("active count should not go below 0")
	}
}
