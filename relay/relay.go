package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/jobq/stream"
)

// DefaultStream is the Redis stream key events are appended to.
const DefaultStream = "jobq:events"

// DefaultMaxLen approximately caps the stream length.
const DefaultMaxLen int64 = 10_000

// eventField is the stream entry field holding the encoded event.
const eventField = "event"

type options struct {
	stream string
	maxLen int64
	node   string
	logger *slog.Logger
	types  map[stream.EventType]bool
	block  time.Duration
	fromID string
}

// Option configures a Publisher or Listener.
type Option func(*options)

// WithStream replaces DefaultStream.
func WithStream(key string) Option {
	return func(o *options) { o.stream = key }
}

// WithMaxLen sets the approximate stream length cap. Zero disables
// trimming.
func WithMaxLen(n int64) Option {
	return func(o *options) { o.maxLen = n }
}

// WithNode names this process. A Listener never republishes events its
// own node's Publisher appended. Defaults to a random UUID.
func WithNode(node string) Option {
	return func(o *options) { o.node = node }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEvents restricts a Publisher to the listed event types. By default
// every type is relayed.
func WithEvents(types ...stream.EventType) Option {
	return func(o *options) {
		o.types = make(map[stream.EventType]bool, len(types))
		for _, t := range types {
			o.types[t] = true
		}
	}
}

// WithBlock sets how long one XREAD waits for new entries.
func WithBlock(d time.Duration) Option {
	return func(o *options) { o.block = d }
}

// FromBeginning makes a Listener replay the entries already in the
// stream instead of starting at its tail.
func FromBeginning() Option {
	return func(o *options) { o.fromID = "0" }
}

func newOptions(opts []Option) options {
	o := options{
		stream: DefaultStream,
		maxLen: DefaultMaxLen,
		node:   uuid.NewString(),
		logger: slog.Default(),
		block:  time.Second,
		fromID: "$",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func encode(evt *stream.Event) ([]byte, error) {
	return msgpack.Marshal(evt)
}

func decode(v any) (*stream.Event, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("relay: unexpected field type %T", v)
	}
	var evt stream.Event
	if err := msgpack.Unmarshal([]byte(s), &evt); err != nil {
		return nil, fmt.Errorf("relay: decode event: %w", err)
	}
	return &evt, nil
}

// transient marks errors worth retrying: anything that is not a server
// reply or a cancelled context.
func transient(err error) error {
	var reply goredis.Error
	if errors.As(err, &reply) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return retry.RetryableError(err)
}

// runner owns the goroutine of a Publisher or Listener.
type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *runner) start(ctx context.Context, run func(context.Context)) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		run(ctx)
	}()
}

func (r *runner) stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
