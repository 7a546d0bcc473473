package redis

import (
	"fmt"
	"time"

	"github.com/xraph/jobq/job"
)

// DefaultPrefix is prepended to every key the store writes.
const DefaultPrefix = "jobq:"

// rankIDOffset is the length of the "%07d:%013d:" head of a rank.
const rankIDOffset = 7 + 1 + 13 + 1

// jobKey returns the Hash key of a job: {prefix}job:{id}
func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

// indexKey returns the lexicographic Sorted Set holding the ranks of every
// job in state, optionally narrowed to one queue:
// {prefix}idx:{state}[:{queue}]
func (s *Store) indexKey(state job.State, queue string) string {
	if queue == "" {
		return s.prefix + "idx:" + string(state)
	}
	return s.prefix + "idx:" + string(state) + ":" + queue
}

// rank encodes the claim order of j as a string whose byte order equals
// priority desc, ReadyAt asc, ID asc.
func rank(j *job.Job) string {
	return fmt.Sprintf("%07d:%013d:%s", job.MaxPriority-j.Priority, max(j.ReadyAt.UnixMilli(), 0), j.ID.String())
}

// rankID extracts the job ID from a rank.
func rankID(r string) string {
	if len(r) <= rankIDOffset {
		return ""
	}
	return r[rankIDOffset:]
}

// indexScore is the score a job carries in the time index of its state:
// ReadyAt for delayed, the last heartbeat for active, FinishedAt for
// completed and failed.
func indexScore(j *job.Job) string {
	var t time.Time
	switch j.State {
	case job.StateDelayed:
		t = j.ReadyAt
	case job.StateActive:
		if j.HeartbeatAt != nil {
			t = *j.HeartbeatAt
		}
	case job.StateCompleted, job.StateFailed:
		if j.FinishedAt != nil {
			t = *j.FinishedAt
		}
	}
	return millis(t)
}

func millis(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixMilli())
}
