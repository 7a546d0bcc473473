package job

import (
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
)

// New validates o and builds a job in its initial state: delayed when its
// first eligible time is after now, waiting otherwise. A repeat rule sets
// the first eligible time to the rule's first fire time.
func New(name string, payload []byte, o Options, now time.Time) (*Job, error) {
	if name == "" {
		return nil, jobq.NewValidationError("name", "is required")
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	now = now.UTC()
	j := &Job{
		Entity:      jobq.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       o.Queue,
		Payload:     payload,
		Priority:    o.Priority,
		MaxAttempts: o.Attempts,
		Backoff:     o.Backoff,
		Timeout:     o.Timeout,
		ReadyAt:     now.Add(o.Delay),
	}

	if o.Repeat != nil {
		rule := *o.Repeat
		first, ok, err := rule.Next(j.ReadyAt, 0)
		if err != nil {
			return nil, jobq.NewValidationError("repeat", err.Error())
		}
		if !ok {
			return nil, jobq.NewValidationError("repeat", "rule has no future occurrence")
		}
		j.Repeat = &rule
		j.RepeatID = id.NewRepeatID()
		j.RepeatCount = 1
		j.ID = id.NewOccurrenceID(j.RepeatID, 1)
		j.ReadyAt = first
	}

	j.State = initialState(j.ReadyAt, now)
	return j, nil
}

// NextOccurrence builds the sibling that follows j in its repeat series.
// The sibling's ID is fixed by the series and its count.
// It returns false when j does not repeat or its rule is exhausted.
func (j *Job) NextOccurrence(now time.Time) (*Job, bool, error) {
	if j.Repeat == nil {
		return nil, false, nil
	}
	next, ok, err := j.Repeat.Upcoming(j.ReadyAt, now, j.RepeatCount)
	if err != nil || !ok {
		return nil, false, err
	}

	now = now.UTC()
	rule := *j.Repeat
	sib := &Job{
		Entity:      jobq.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewOccurrenceID(j.RepeatID, j.RepeatCount+1),
		Name:        j.Name,
		Queue:       j.Queue,
		Payload:     cloneBytes(j.Payload),
		Priority:    j.Priority,
		MaxAttempts: j.MaxAttempts,
		Backoff:     j.Backoff,
		Timeout:     j.Timeout,
		ReadyAt:     next,
		Repeat:      &rule,
		RepeatID:    j.RepeatID,
		RepeatCount: j.RepeatCount + 1,
	}
	sib.State = initialState(next, now)
	return sib, true, nil
}

func initialState(readyAt, now time.Time) State {
	if readyAt.After(now) {
		return StateDelayed
	}
	return StateWaiting
}
