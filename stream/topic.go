package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topics:
//
//	job:<jobID>       one job
//	repeat:<repeatID> every occurrence of a repeating job
//	queue:<name>      every event of one queue
//	jobs              every job event
//	repeats           every repeat.scheduled event
//	firehose          everything
const (
	TopicJobs     = "jobs"
	TopicRepeats  = "repeats"
	TopicFirehose = "firehose"
)

// JobTopic returns the topic of one job.
func JobTopic(jobID string) string { return "job:" + jobID }

// RepeatTopic returns the topic of a repeat series.
func RepeatTopic(repeatID string) string { return "repeat:" + repeatID }

// QueueTopic returns the topic of a queue.
func QueueTopic(queue string) string { return "queue:" + queue }

// TopicRegistry maps topics to their subscribers. It is safe for
// concurrent use.
type TopicRegistry struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscriber
}

// NewTopicRegistry creates an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{subs: make(map[string]map[string]*Subscriber)}
}

// Subscribe puts sub on topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	set := tr.subs[topic]
	if set == nil {
		set = make(map[string]*Subscriber)
		tr.subs[topic] = set
	}
	set[sub.ID()] = sub
	tr.mu.Unlock()

	sub.joined(topic)
}

// Unsubscribe takes the subscriber with subscriberID off topic. A topic
// without subscribers is forgotten.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.removeLocked(topic, subscriberID)
}

// UnsubscribeAll takes the subscriber with subscriberID off every topic.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic := range tr.subs {
		tr.removeLocked(topic, subscriberID)
	}
}

func (tr *TopicRegistry) removeLocked(topic, subscriberID string) {
	set := tr.subs[topic]
	sub, ok := set[subscriberID]
	if !ok {
		return
	}
	delete(set, subscriberID)
	if len(set) == 0 {
		delete(tr.subs, topic)
	}
	sub.left(topic)
}

// targets returns the distinct subscribers of topics.
func (tr *TopicRegistry) targets(topics []string) map[string]*Subscriber {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make(map[string]*Subscriber)
	for _, topic := range topics {
		for subID, sub := range tr.subs[topic] {
			out[subID] = sub
		}
	}
	return out
}

// Publish sends evt to the subscribers of topic and returns how many
// received it.
func (tr *TopicRegistry) Publish(topic string, evt *Event) int {
	delivered, _ := tr.Broadcast([]string{topic}, evt)
	return delivered
}

// Broadcast sends evt once to every subscriber of any of topics. It
// returns how many subscribers received it and how many skipped it
// because of a filter or missing capacity.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) (delivered, dropped int) {
	for _, sub := range tr.targets(topics) {
		if sub.send(evt) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// TopicCount returns the number of topics with subscribers.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.subs)
}

// SubscriberCount returns the number of subscribers on topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.subs[topic])
}

// resolveTopics lists the topics evt is published on, broadest first.
func resolveTopics(evt *Event) []string {
	topics := make([]string, 0, 4)
	topics = append(topics, TopicFirehose)

	if kind, _, ok := strings.Cut(string(evt.Type), "."); ok {
		switch kind {
		case "job":
			topics = append(topics, TopicJobs)
		case "repeat":
			topics = append(topics, TopicRepeats)
		}
	}
	if evt.Queue != "" {
		topics = append(topics, QueueTopic(evt.Queue))
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return topics
}

// ParseTopicEntity splits an entity topic such as "job:<id>" into its
// kind and ID. Global topics yield two empty strings.
func ParseTopicEntity(topic string) (entityType, entityID string) {
	kind, entity, ok := strings.Cut(topic, ":")
	if !ok {
		return "", ""
	}
	return kind, entity
}

// ValidateTopic reports whether topic is a global topic or names a known
// entity kind with a non-empty ID.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicJobs, TopicRepeats, TopicFirehose:
		return nil
	}
	kind, entity := ParseTopicEntity(topic)
	if kind == "" || entity == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch kind {
	case "job", "repeat", "queue":
		return nil
	}
	return fmt.Errorf("stream: unknown topic kind %q", kind)
}
