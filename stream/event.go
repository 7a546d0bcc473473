// Package stream provides a real-time event broker for jobq lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobAdded     EventType = "job.added"
	EventJobWaiting   EventType = "job.waiting"
	EventJobDelayed   EventType = "job.delayed"
	EventJobActive    EventType = "job.active"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"
	EventJobStalled   EventType = "job.stalled"
	EventJobRemoved   EventType = "job.removed"

	// Repeat events.
	EventRepeatScheduled EventType = "repeat.scheduled"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type" msgpack:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts" msgpack:"ts"`

	// Topic is the entity channel this event was published on.
	Topic string `json:"topic" msgpack:"topic"`

	// Queue is the queue of the job the event is about, if known.
	Queue string `json:"queue,omitempty" msgpack:"queue,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data" msgpack:"data"`

	// Origin names the process that emitted the event. It is empty for
	// events raised locally and set once an event crosses a relay.
	Origin string `json:"origin,omitempty" msgpack:"origin,omitempty"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID        string  `json:"job_id"`
	JobName      string  `json:"job_name,omitempty"`
	Queue        string  `json:"queue,omitempty"`
	State        string  `json:"state,omitempty"`
	Priority     int     `json:"priority,omitempty"`
	AttemptsMade int     `json:"attempts_made,omitempty"`
	MaxAttempts  int     `json:"max_attempts,omitempty"`
	StalledCount int     `json:"stalled_count,omitempty"`
	Progress     float64 `json:"progress,omitempty"`
	ElapsedMs    int64   `json:"elapsed_ms,omitempty"`
	Error        string  `json:"error,omitempty"`
	ReadyAt      string  `json:"ready_at,omitempty"`
	RepeatID     string  `json:"repeat_id,omitempty"`
}

// RepeatEventData is the payload for repeat.scheduled.
type RepeatEventData struct {
	RepeatID    string `json:"repeat_id"`
	JobName     string `json:"job_name"`
	Queue       string `json:"queue"`
	PrevJobID   string `json:"prev_job_id"`
	NextJobID   string `json:"next_job_id"`
	RepeatCount int    `json:"repeat_count"`
	NextRunAt   string `json:"next_run_at"`
}
