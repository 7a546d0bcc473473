package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/xraph/jobq/stream"
)

// Listener tails a Redis stream and republishes the events other nodes
// appended into a local Broker.
type Listener struct {
	client goredis.Cmdable
	broker *stream.Broker
	opts   options
	runner runner

	received atomic.Int64
}

// NewListener creates a Listener feeding broker.
func NewListener(client goredis.Cmdable, broker *stream.Broker, opts ...Option) *Listener {
	return &Listener{client: client, broker: broker, opts: newOptions(opts)}
}

// Start begins tailing the stream in the background.
func (l *Listener) Start(ctx context.Context) error {
	l.runner.start(context.WithoutCancel(ctx), func(ctx context.Context) {
		if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.opts.logger.Error("relay listener stopped", slog.String("error", err.Error()))
		}
	})
	return nil
}

// Stop ends the tail loop.
func (l *Listener) Stop(ctx context.Context) error {
	return l.runner.stop(ctx)
}

// Received returns how many events were republished.
func (l *Listener) Received() int64 { return l.received.Load() }

// Run tails the stream until ctx is done. Connection failures are retried
// with exponential backoff capped at five seconds. It returns the error
// of a server reply it cannot recover from.
func (l *Listener) Run(ctx context.Context) error {
	lastID := l.opts.fromID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var streams []goredis.XStream
		err := retry.Do(ctx, reconnectBackoff(), func(ctx context.Context) error {
			res, err := l.client.XRead(ctx, &goredis.XReadArgs{
				Streams: []string{l.opts.stream, lastID},
				Count:   100,
				Block:   l.opts.block,
			}).Result()
			if errors.Is(err, goredis.Nil) {
				streams = nil
				return nil
			}
			if err != nil {
				l.opts.logger.Debug("relay read failed", slog.String("error", err.Error()))
				return transient(err)
			}
			streams = res
			return nil
		})
		if err != nil {
			return err
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				lastID = msg.ID
				l.deliver(msg)
			}
		}
	}
}

func (l *Listener) deliver(msg goredis.XMessage) {
	evt, err := decode(msg.Values[eventField])
	if err != nil {
		l.opts.logger.Warn("relay skipped entry",
			slog.String("id", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if evt.Origin == l.opts.node {
		return
	}
	l.broker.Publish(evt)
	l.received.Add(1)
}

func reconnectBackoff() retry.Backoff {
	return retry.WithCappedDuration(5*time.Second, retry.NewExponential(100*time.Millisecond))
}
