package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/jobq/ext"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Broker)(nil)
	_ ext.JobAdded        = (*Broker)(nil)
	_ ext.JobWaiting      = (*Broker)(nil)
	_ ext.JobDelayed      = (*Broker)(nil)
	_ ext.JobActive       = (*Broker)(nil)
	_ ext.JobProgress     = (*Broker)(nil)
	_ ext.JobCompleted    = (*Broker)(nil)
	_ ext.JobFailed       = (*Broker)(nil)
	_ ext.JobRetrying     = (*Broker)(nil)
	_ ext.JobStalled      = (*Broker)(nil)
	_ ext.JobRemoved      = (*Broker)(nil)
	_ ext.RepeatScheduled = (*Broker)(nil)
	_ ext.Shutdown        = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the ext.Extension
// interface to receive lifecycle events and fans them out to subscribers
// via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Publish broadcasts evt to every topic it resolves to. Hooks call it for
// local events; relay.Listener calls it for events from other processes.
func (b *Broker) Publish(evt *Event) {
	topics := resolveTopics(evt)
	delivered, dropped := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
	b.totalDropped.Add(int64(dropped))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Job lifecycle hooks ─────────────────────────────

// jobEvent builds the envelope for an event about j.
func jobEvent(typ EventType, j *job.Job, data JobEventData) *Event {
	data.JobID = j.ID.String()
	data.JobName = j.Name
	data.Queue = j.Queue
	data.State = string(j.State)
	data.Priority = j.Priority
	data.AttemptsMade = j.AttemptsMade
	data.MaxAttempts = j.MaxAttempts
	if !j.RepeatID.IsNil() {
		data.RepeatID = j.RepeatID.String()
	}
	return &Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Queue:     j.Queue,
		Data:      mustMarshal(data),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (b *Broker) OnJobAdded(_ context.Context, j *job.Job) error {
	b.Publish(jobEvent(EventJobAdded, j, JobEventData{ReadyAt: formatTime(j.ReadyAt)}))
	return nil
}

func (b *Broker) OnJobWaiting(_ context.Context, j *job.Job) error {
	b.Publish(jobEvent(EventJobWaiting, j, JobEventData{}))
	return nil
}

func (b *Broker) OnJobDelayed(_ context.Context, j *job.Job) error {
	b.Publish(jobEvent(EventJobDelayed, j, JobEventData{ReadyAt: formatTime(j.ReadyAt)}))
	return nil
}

func (b *Broker) OnJobActive(_ context.Context, j *job.Job) error {
	b.Publish(jobEvent(EventJobActive, j, JobEventData{}))
	return nil
}

func (b *Broker) OnJobProgress(_ context.Context, j *job.Job, progress float64) error {
	b.Publish(jobEvent(EventJobProgress, j, JobEventData{Progress: progress}))
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.Publish(jobEvent(EventJobCompleted, j, JobEventData{ElapsedMs: elapsed.Milliseconds()}))
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	b.Publish(jobEvent(EventJobFailed, j, JobEventData{
		Error:        errorString(jobErr),
		StalledCount: j.StalledCount,
	}))
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, jobErr error, readyAt time.Time) error {
	b.Publish(jobEvent(EventJobRetrying, j, JobEventData{
		Error:   errorString(jobErr),
		ReadyAt: formatTime(readyAt),
	}))
	return nil
}

func (b *Broker) OnJobStalled(_ context.Context, j *job.Job) error {
	b.Publish(jobEvent(EventJobStalled, j, JobEventData{StalledCount: j.StalledCount}))
	return nil
}

func (b *Broker) OnJobRemoved(_ context.Context, jobID id.JobID) error {
	b.Publish(&Event{
		Type:      EventJobRemoved,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(jobID.String()),
		Data:      mustMarshal(JobEventData{JobID: jobID.String()}),
	})
	return nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ── Repeat hooks ────────────────────────────────────

func (b *Broker) OnRepeatScheduled(_ context.Context, prev, next *job.Job) error {
	b.Publish(&Event{
		Type:      EventRepeatScheduled,
		Timestamp: time.Now().UTC(),
		Topic:     RepeatTopic(next.RepeatID.String()),
		Queue:     next.Queue,
		Data: mustMarshal(RepeatEventData{
			RepeatID:    next.RepeatID.String(),
			JobName:     next.Name,
			Queue:       next.Queue,
			PrevJobID:   prev.ID.String(),
			NextJobID:   next.ID.String(),
			RepeatCount: next.RepeatCount,
			NextRunAt:   formatTime(next.ReadyAt),
		}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:errcheck // sync.Map keys are subscriber IDs
		value.(*Subscriber).Close()            //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
