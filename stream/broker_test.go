package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func TestBrokerSubscribeAndPublish(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("sub-1", TopicJobs)

	b.Publish(&Event{
		Type:      EventJobAdded,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-123"),
		Data:      json.RawMessage(`{"job_id":"job-123"}`),
	})

	if received := receive(t, sub); received.Type != EventJobAdded {
		t.Errorf("Type = %q, want %q", received.Type, EventJobAdded)
	}
}

func TestBrokerMultipleTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	firehose := b.Subscribe("firehose-sub", TopicFirehose)
	jobsSub := b.Subscribe("jobs-sub", TopicJobs)
	queueSub := b.Subscribe("queue-sub", QueueTopic("emails"))

	b.Publish(&Event{
		Type:      EventJobCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-456"),
		Queue:     "emails",
		Data:      json.RawMessage(`{}`),
	})

	for _, sub := range []*Subscriber{firehose, jobsSub, queueSub} {
		receive(t, sub)
	}
}

func TestBrokerJobTopicIsolation(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("job-sub", JobTopic("job-abc"))

	b.Publish(&Event{
		Type:      EventJobProgress,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-abc"),
		Data:      json.RawMessage(`{"progress":40}`),
	})
	if received := receive(t, sub); received.Type != EventJobProgress {
		t.Errorf("Type = %q, want %q", received.Type, EventJobProgress)
	}

	b.Publish(&Event{
		Type:      EventJobActive,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-other"),
		Data:      json.RawMessage(`{}`),
	})

	select {
	case <-sub.C():
		t.Fatal("should not receive event for different job")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("sub-rm", TopicFirehose)
	b.RemoveSubscriber("sub-rm")

	b.Publish(&Event{
		Type:      EventJobAdded,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("j1"),
		Data:      json.RawMessage(`{}`),
	})

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("channel should be closed after RemoveSubscriber")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBrokerStats(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	_ = b.Subscribe("s1", TopicJobs)
	_ = b.Subscribe("s2", TopicRepeats, TopicFirehose)

	stats := b.Stats()
	if stats.SubscriberCount != 2 {
		t.Errorf("SubscriberCount = %d, want 2", stats.SubscriberCount)
	}
	if stats.TopicCount != 3 {
		t.Errorf("TopicCount = %d, want 3", stats.TopicCount)
	}
}

func TestBrokerCountsDrops(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithDefaultCredits(1))
	_ = b.Subscribe("s1", TopicJobs)

	evt := &Event{Type: EventJobWaiting, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}
	b.Publish(evt)
	b.Publish(evt)

	stats := b.Stats()
	if stats.TotalPublished != 1 {
		t.Errorf("TotalPublished = %d, want 1", stats.TotalPublished)
	}
	if stats.TotalDropped != 1 {
		t.Errorf("TotalDropped = %d, want 1", stats.TotalDropped)
	}
}

func TestBrokerHooksPublishJobData(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("hooks", TopicFirehose)
	ctx := context.Background()

	j := &job.Job{
		ID:           id.NewJobID(),
		Name:         "email.send",
		Queue:        "emails",
		State:        job.StateDelayed,
		AttemptsMade: 1,
		MaxAttempts:  3,
		ReadyAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	_ = b.OnJobRetrying(ctx, j, errors.New("smtp timeout"), j.ReadyAt)
	evt := receive(t, sub)
	if evt.Type != EventJobRetrying {
		t.Fatalf("Type = %q, want %q", evt.Type, EventJobRetrying)
	}
	if evt.Topic != JobTopic(j.ID.String()) || evt.Queue != "emails" {
		t.Errorf("Topic = %q, Queue = %q", evt.Topic, evt.Queue)
	}

	var data JobEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.JobID != j.ID.String() || data.JobName != "email.send" {
		t.Errorf("unexpected identity %+v", data)
	}
	if data.Error != "smtp timeout" || data.AttemptsMade != 1 || data.MaxAttempts != 3 {
		t.Errorf("unexpected retry data %+v", data)
	}
	if data.ReadyAt != "2026-01-02T03:04:05Z" {
		t.Errorf("ReadyAt = %q", data.ReadyAt)
	}

	_ = b.OnJobRemoved(ctx, j.ID)
	if evt := receive(t, sub); evt.Type != EventJobRemoved {
		t.Fatalf("Type = %q, want %q", evt.Type, EventJobRemoved)
	}
}

func TestBrokerRepeatScheduled(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	series := id.NewRepeatID()
	sub := b.Subscribe("repeat", RepeatTopic(series.String()))

	prev := &job.Job{ID: id.NewJobID(), Name: "report", Queue: "default", RepeatID: series, RepeatCount: 1}
	next := &job.Job{ID: id.NewJobID(), Name: "report", Queue: "default", RepeatID: series, RepeatCount: 2,
		ReadyAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	_ = b.OnRepeatScheduled(context.Background(), prev, next)

	evt := receive(t, sub)
	var data RepeatEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.PrevJobID != prev.ID.String() || data.NextJobID != next.ID.String() || data.RepeatCount != 2 {
		t.Errorf("unexpected repeat data %+v", data)
	}
}

func TestBrokerShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("s1", TopicJobs)

	_ = b.OnShutdown(context.Background())

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed after shutdown")
	}
	if b.Topics().TopicCount() != 0 {
		t.Errorf("TopicCount = %d, want 0", b.Topics().TopicCount())
	}
}

func TestSubscriberCredits(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("credit-sub", 10, 2)
	evt := &Event{Type: EventJobAdded, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}

	if !sub.send(evt) {
		t.Fatal("first send should succeed")
	}
	if !sub.send(evt) {
		t.Fatal("second send should succeed")
	}
	if sub.send(evt) {
		t.Fatal("third send should fail (no credits)")
	}

	sub.AddCredits(5)
	if sub.Credits() != 5 {
		t.Errorf("Credits = %d, want 5", sub.Credits())
	}
	if !sub.send(evt) {
		t.Fatal("send after credit replenishment should succeed")
	}
}

func TestSubscriberFilter(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("filter-sub", 10, 100)
	sub.SetFilter(func(e *Event) bool {
		return e.Type == EventJobFailed
	})

	if sub.send(&Event{Type: EventJobCompleted, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}) {
		t.Fatal("completed event should be filtered out")
	}
	if !sub.send(&Event{Type: EventJobFailed, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}) {
		t.Fatal("failed event should pass filter")
	}
}

func TestTopicValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic string
		valid bool
	}{
		{TopicJobs, true},
		{TopicRepeats, true},
		{TopicFirehose, true},
		{"job:job-123", true},
		{"repeat:rpt-abc", true},
		{"queue:default", true},
		{"invalid", false},
		{"workflow:run-abc", false},
		{"job:", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := ValidateTopic(tt.topic)
			if tt.valid && err != nil {
				t.Errorf("ValidateTopic(%q) returned error: %v", tt.topic, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidateTopic(%q) should return error", tt.topic)
			}
		})
	}
}

func TestTopicRegistry(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub1 := NewSubscriber("s1", 10, 100)
	sub2 := NewSubscriber("s2", 10, 100)

	tr.Subscribe("topic-a", sub1)
	tr.Subscribe("topic-a", sub2)
	tr.Subscribe("topic-b", sub1)

	if tr.TopicCount() != 2 {
		t.Errorf("TopicCount = %d, want 2", tr.TopicCount())
	}
	if tr.SubscriberCount("topic-a") != 2 {
		t.Errorf("SubscriberCount(topic-a) = %d, want 2", tr.SubscriberCount("topic-a"))
	}

	tr.Unsubscribe("topic-a", "s2")
	if tr.SubscriberCount("topic-a") != 1 {
		t.Errorf("SubscriberCount(topic-a) = %d, want 1", tr.SubscriberCount("topic-a"))
	}

	tr.UnsubscribeAll("s1")
	if tr.TopicCount() != 0 {
		t.Errorf("TopicCount after UnsubscribeAll = %d, want 0", tr.TopicCount())
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub := NewSubscriber("dedup-sub", 10, 100)
	tr.Subscribe("topic-x", sub)
	tr.Subscribe("topic-y", sub)

	evt := &Event{Type: EventJobAdded, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}

	delivered, dropped := tr.Broadcast([]string{"topic-x", "topic-y"}, evt)
	if delivered != 1 || dropped != 0 {
		t.Errorf("Broadcast = (%d, %d), want (1, 0)", delivered, dropped)
	}
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		evt      *Event
		expected []string
	}{
		{
			evt:      &Event{Type: EventJobAdded, Topic: "job:j1"},
			expected: []string{TopicFirehose, TopicJobs, "job:j1"},
		},
		{
			evt:      &Event{Type: EventJobFailed, Topic: "job:j2", Queue: "emails"},
			expected: []string{TopicFirehose, TopicJobs, "queue:emails", "job:j2"},
		},
		{
			evt:      &Event{Type: EventRepeatScheduled, Topic: "repeat:r1"},
			expected: []string{TopicFirehose, TopicRepeats, "repeat:r1"},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.evt.Type), func(t *testing.T) {
			topics := resolveTopics(tt.evt)
			if len(topics) != len(tt.expected) {
				t.Fatalf("got %d topics, want %d: %v", len(topics), len(tt.expected), topics)
			}
			for i, topic := range topics {
				if topic != tt.expected[i] {
					t.Errorf("topic[%d] = %q, want %q", i, topic, tt.expected[i])
				}
			}
		})
	}
}

func TestSubscriberCountsMissedEvents(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("slow", 1, 10)
	evt := &Event{Type: EventJobProgress, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}

	if !sub.send(evt) {
		t.Fatal("first send should fill the buffer")
	}
	if sub.send(evt) {
		t.Fatal("second send should find the buffer full")
	}
	if sub.Missed() != 1 {
		t.Errorf("Missed = %d, want 1", sub.Missed())
	}
	if sub.Credits() != 9 {
		t.Errorf("Credits = %d, want 9 (full buffer must not spend a credit)", sub.Credits())
	}
}

func TestOnlyTypesFilter(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("finished", TopicJobs)
	sub.SetFilter(OnlyTypes(EventJobCompleted, EventJobFailed))

	for _, typ := range []EventType{EventJobActive, EventJobProgress, EventJobFailed} {
		b.Publish(&Event{Type: typ, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)})
	}

	if evt := receive(t, sub); evt.Type != EventJobFailed {
		t.Fatalf("got %s, want %s", evt.Type, EventJobFailed)
	}
	if sub.Missed() != 0 {
		t.Errorf("filtered events counted as missed: %d", sub.Missed())
	}

	sub.SetFilter(nil)
	b.Publish(&Event{Type: EventJobActive, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)})
	if evt := receive(t, sub); evt.Type != EventJobActive {
		t.Fatalf("got %s after clearing filter", evt.Type)
	}
}

func TestSubscriberTopicsSorted(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("multi", QueueTopic("emails"), TopicFirehose, JobTopic("j1"))
	got := sub.Topics()
	want := []string{TopicFirehose, JobTopic("j1"), QueueTopic("emails")}
	if len(got) != len(want) {
		t.Fatalf("Topics = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Topics = %v, want %v", got, want)
		}
	}

	b.Unsubscribe("multi", TopicFirehose)
	if len(sub.Topics()) != 2 {
		t.Errorf("Topics after unsubscribe = %v", sub.Topics())
	}
}
