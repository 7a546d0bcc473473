package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/cron"
)

// Options configures per-job behavior such as attempts, delay and queue.
type Options struct {
	// Queue is the queue name this job is submitted to.
	Queue string `json:"queue" validate:"required,max=128,excludesall=:{}"`

	// Delay postpones the first attempt.
	Delay time.Duration `json:"delay" validate:"gte=0"`

	// Attempts is the maximum number of attempts, including the first.
	Attempts int `json:"attempts" validate:"gte=1"`

	// Backoff computes the wait between attempts.
	Backoff backoff.Policy `json:"backoff"`

	// Priority determines claim ordering. Higher values are claimed first.
	Priority int `json:"priority" validate:"gte=0,lte=2097152"`

	// Repeat makes the job recurring.
	Repeat *cron.Rule `json:"repeat"`

	// Timeout bounds a single attempt. Zero means unlimited.
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Queue:    DefaultQueue,
		Attempts: 1,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithDelay postpones the first attempt by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithAttempts sets the maximum number of attempts.
func WithAttempts(n int) Option {
	return func(o *Options) { o.Attempts = n }
}

// WithBackoff sets the retry policy.
func WithBackoff(p backoff.Policy) Option {
	return func(o *Options) { o.Backoff = p }
}

// WithPriority sets the job priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithRepeat makes the job recur according to r.
func WithRepeat(r cron.Rule) Option {
	return func(o *Options) { o.Repeat = &r }
}

// WithTimeout sets the maximum execution duration for one attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// Apply returns a copy of o with opts applied.
func (o Options) Apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

var optionsValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate returns a *jobq.ValidationError describing the first invalid
// field, or nil.
func (o Options) Validate() error {
	if err := optionsValidator.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Options.")
			return jobq.NewValidationError(field, describe(fe))
		}
		return jobq.NewValidationError("", err.Error())
	}
	if o.Repeat != nil {
		return o.Repeat.Validate()
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return "must be >= " + fe.Param()
	case "lte", "max":
		return "must be <= " + fe.Param()
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "excludesall":
		return "must not contain any of " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// ──────────────────────────────────────────────────
// Wire form
// ──────────────────────────────────────────────────

// wireOptions is the JSON form accepted from producers. Durations are
// milliseconds. Absent fields keep their defaults.
type wireOptions struct {
	Queue    *string      `json:"queue"`
	Delay    *int64       `json:"delay"`
	Attempts *int         `json:"attempts"`
	Backoff  *wireBackoff `json:"backoff"`
	Priority *int         `json:"priority"`
	Repeat   *wireRepeat  `json:"repeat"`
	Timeout  *int64       `json:"timeout"`
}

type wireBackoff struct {
	Type     backoff.Type `json:"type"`
	Delay    int64        `json:"delay"`
	MaxDelay int64        `json:"max_delay"`
	Jitter   bool         `json:"jitter"`
}

type wireRepeat struct {
	Pattern   string     `json:"pattern"`
	Every     int64      `json:"every"`
	TZ        string     `json:"tz"`
	Limit     int        `json:"limit"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// ParseOptions decodes producer-supplied JSON options on top of base.
// Unknown fields are rejected. The result is validated.
func ParseOptions(data []byte, base Options) (Options, error) {
	o := base
	if len(bytes.TrimSpace(data)) == 0 {
		return o, o.Validate()
	}

	var w wireOptions
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return o, jobq.NewValidationError("options", fmt.Sprintf("decode: %v", err))
	}

	if w.Queue != nil {
		o.Queue = *w.Queue
	}
	if w.Delay != nil {
		o.Delay = time.Duration(*w.Delay) * time.Millisecond
	}
	if w.Attempts != nil {
		o.Attempts = *w.Attempts
	}
	if w.Backoff != nil {
		o.Backoff = backoff.Policy{
			Type:     w.Backoff.Type,
			Delay:    time.Duration(w.Backoff.Delay) * time.Millisecond,
			MaxDelay: time.Duration(w.Backoff.MaxDelay) * time.Millisecond,
			Jitter:   w.Backoff.Jitter,
		}
	}
	if w.Priority != nil {
		o.Priority = *w.Priority
	}
	if w.Repeat != nil {
		o.Repeat = &cron.Rule{
			Pattern:   w.Repeat.Pattern,
			Every:     time.Duration(w.Repeat.Every) * time.Millisecond,
			TZ:        w.Repeat.TZ,
			Limit:     w.Repeat.Limit,
			StartDate: w.Repeat.StartDate,
			EndDate:   w.Repeat.EndDate,
		}
	}
	if w.Timeout != nil {
		o.Timeout = time.Duration(*w.Timeout) * time.Millisecond
	}
	return o, o.Validate()
}
