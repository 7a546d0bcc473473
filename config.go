package jobq

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds configuration for the Dispatcher.
type Config struct {
	// Concurrency is the number of jobs processed concurrently per queue.
	Concurrency int `mapstructure:"concurrency" validate:"gte=1"`

	// Queues is the list of queues this dispatcher will claim from.
	Queues []string `mapstructure:"queues" validate:"min=1,dive,required"`

	// PollInterval is how long an idle slot waits before trying to claim
	// again when nothing woke it.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`

	// SchedulerInterval is the tick of the scheduler that promotes
	// delayed and stalled jobs to waiting.
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval" validate:"gt=0"`

	// ShutdownTimeout is the grace period in-flight handlers get after
	// Stop before their jobs are abandoned to stall recovery.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`

	// HeartbeatInterval is how often active jobs extend their lock.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`

	// StalledInterval is how often the reaper looks for active jobs whose
	// lock expired.
	StalledInterval time.Duration `mapstructure:"stalled_interval" validate:"gt=0"`

	// MaxStalledCount is how many times a job may be recovered from a
	// stall before it is failed.
	MaxStalledCount int `mapstructure:"max_stalled_count" validate:"gte=0"`

	// LockDuration is how long an active job may go without a heartbeat.
	// Zero means StalledInterval * max(1, MaxStalledCount).
	LockDuration time.Duration `mapstructure:"lock_duration" validate:"gte=0"`

	// Limiter bounds claims per rolling window across all queues. The
	// window is counted per dispatcher, so N instances sharing a store
	// admit up to N*Max claims per window.
	Limiter Limiter `mapstructure:"limiter"`

	// Retention bounds how many finished jobs are kept.
	Retention Retention `mapstructure:"retention"`
}

// Limiter caps claims at Max per rolling Duration. A zero Max disables it.
type Limiter struct {
	Max      int           `mapstructure:"max" validate:"gte=0"`
	Duration time.Duration `mapstructure:"duration" validate:"required_with=Max"`
}

// Enabled reports whether the limiter bounds anything.
func (l Limiter) Enabled() bool { return l.Max > 0 && l.Duration > 0 }

// Retention keeps the newest N completed and M failed jobs. Zero keeps all.
type Retention struct {
	KeepCompleted int `mapstructure:"keep_completed" validate:"gte=0"`
	KeepFailed    int `mapstructure:"keep_failed" validate:"gte=0"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{"default"},
		PollInterval:      1 * time.Second,
		SchedulerInterval: 250 * time.Millisecond,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StalledInterval:   30 * time.Second,
		MaxStalledCount:   1,
	}
}

// EffectiveLockDuration returns LockDuration, or the value derived from the
// stall settings when it is zero.
func (c Config) EffectiveLockDuration() time.Duration {
	if c.LockDuration > 0 {
		return c.LockDuration
	}
	return c.StalledInterval * time.Duration(max(1, c.MaxStalledCount))
}

var configValidator = validator.New()

// Validate checks the struct constraints and the relations between fields.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return NewValidationError(verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("jobq: validate config: %w", err)
	}
	if c.EffectiveLockDuration() <= c.HeartbeatInterval {
		return NewValidationError("Config.LockDuration", "must exceed HeartbeatInterval")
	}
	return nil
}
