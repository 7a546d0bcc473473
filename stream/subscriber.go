package stream

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of broker events.
//
// Delivery is credit based. Each delivered event spends one credit and the
// consumer hands credits back with AddCredits once it has dealt with an
// event. A subscriber that is out of credits, or whose buffer is full,
// misses events; publishers never block on it.
type Subscriber struct {
	id      string
	ch      chan *Event
	credits atomic.Int64
	missed  atomic.Int64
	closed  atomic.Bool
	filter  atomic.Pointer[func(*Event) bool]

	mu     sync.Mutex
	topics []string
}

// NewSubscriber creates a subscriber buffering up to bufferSize events and
// holding initialCredits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{id: id, ch: make(chan *Event, bufferSize)}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is removed
// from its broker or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits returns n credits to the subscriber.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the remaining credits.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Missed returns how many events matched the subscriber but could not be
// delivered for lack of credits or buffer space.
func (s *Subscriber) Missed() int64 { return s.missed.Load() }

// SetFilter installs a predicate; events it rejects are skipped without
// spending credits. A nil fn removes the filter.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	if fn == nil {
		s.filter.Store(nil)
		return
	}
	s.filter.Store(&fn)
}

// OnlyTypes returns a filter accepting events of the listed types.
func OnlyTypes(types ...EventType) func(*Event) bool {
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(evt *Event) bool {
		_, ok := set[evt.Type]
		return ok
	}
}

// Topics returns the subscribed topic names in sorted order.
func (s *Subscriber) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.topics)
}

func (s *Subscriber) joined(topic string) {
	s.mu.Lock()
	if i, found := slices.BinarySearch(s.topics, topic); !found {
		s.topics = slices.Insert(s.topics, i, topic)
	}
	s.mu.Unlock()
}

func (s *Subscriber) left(topic string) {
	s.mu.Lock()
	if i, found := slices.BinarySearch(s.topics, topic); found {
		s.topics = slices.Delete(s.topics, i, i+1)
	}
	s.mu.Unlock()
}

// send delivers evt if the filter accepts it and a credit and buffer slot
// are available. It reports whether evt was delivered.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}
	if fn := s.filter.Load(); fn != nil && !(*fn)(evt) {
		return false
	}

	if s.credits.Add(-1) < 0 {
		s.credits.Add(1)
		s.missed.Add(1)
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.credits.Add(1)
		s.missed.Add(1)
		return false
	}
}

// Close closes the event channel. Later calls do nothing.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
