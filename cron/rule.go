package cron

import (
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/jobq"
)

// cronParser supports five-field cron, an optional leading seconds field
// and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.SecondOptional | cronlib.Minute | cronlib.Hour | cronlib.Dom |
		cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Rule describes when a repeating job fires.
type Rule struct {
	Pattern   string        `json:"pattern,omitempty"    bson:"pattern,omitempty"`
	Every     time.Duration `json:"every,omitempty"      bson:"every,omitempty"`
	TZ        string        `json:"tz,omitempty"         bson:"tz,omitempty"`
	Limit     int           `json:"limit,omitempty"      bson:"limit,omitempty"`
	StartDate *time.Time    `json:"start_date,omitempty" bson:"start_date,omitempty"`
	EndDate   *time.Time    `json:"end_date,omitempty"   bson:"end_date,omitempty"`
}

// ParseSchedule parses a cron expression and returns the schedule.
// Parsed expressions are cached.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	if v, ok := parsed.Load(expr); ok {
		return v.(cronlib.Schedule), nil //nolint:errcheck // parsed only stores schedules
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	parsed.Store(expr, sched)
	return sched, nil
}

// parsed caches ParseSchedule results by expression.
var parsed sync.Map

// every fires at a fixed distance from the previous fire time. Unlike
// robfig's ConstantDelaySchedule it keeps sub-second precision.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

// Validate reports the first problem with r as a *jobq.ValidationError.
func (r Rule) Validate() error {
	switch {
	case r.Pattern == "" && r.Every == 0:
		return jobq.NewValidationError("repeat", "one of pattern or every is required")
	case r.Pattern != "" && r.Every != 0:
		return jobq.NewValidationError("repeat", "pattern and every are mutually exclusive")
	case r.Every < 0:
		return jobq.NewValidationError("repeat.every", "must be positive")
	case r.Limit < 0:
		return jobq.NewValidationError("repeat.limit", "must not be negative")
	case r.StartDate != nil && r.EndDate != nil && !r.EndDate.After(*r.StartDate):
		return jobq.NewValidationError("repeat.end_date", "must be after start_date")
	}
	if _, err := r.location(); err != nil {
		return jobq.NewValidationError("repeat.tz", err.Error())
	}
	if _, err := r.schedule(); err != nil {
		return jobq.NewValidationError("repeat.pattern", err.Error())
	}
	return nil
}

func (r Rule) location() (*time.Location, error) {
	if r.TZ == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.TZ)
}

func (r Rule) schedule() (cronlib.Schedule, error) {
	if r.Every > 0 {
		return every(r.Every), nil
	}
	return ParseSchedule(r.Pattern)
}

// Next returns the first fire time strictly after after, given that count
// occurrences already exist. It returns false once the rule is exhausted
// by Limit or EndDate.
func (r Rule) Next(after time.Time, count int) (time.Time, bool, error) {
	if r.Limit > 0 && count >= r.Limit {
		return time.Time{}, false, nil
	}
	sched, err := r.schedule()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cron: %w", err)
	}
	loc, err := r.location()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cron: %w", err)
	}

	next := sched.Next(after.In(loc))
	if r.StartDate != nil && next.Before(*r.StartDate) {
		if r.Every > 0 {
			next = r.StartDate.In(loc)
		} else {
			next = sched.Next(r.StartDate.Add(-time.Nanosecond).In(loc))
		}
	}
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	if r.EndDate != nil && next.After(*r.EndDate) {
		return time.Time{}, false, nil
	}
	return next.UTC(), true, nil
}

// Upcoming returns the fire time following prev. A fire time already in
// the past relative to now is skipped in favor of the next one after now.
func (r Rule) Upcoming(prev, now time.Time, count int) (time.Time, bool, error) {
	next, ok, err := r.Next(prev, count)
	if err != nil || !ok {
		return next, ok, err
	}
	if next.Before(now) {
		return r.Next(now, count)
	}
	return next, true, nil
}
