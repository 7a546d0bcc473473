package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/xraph/jobq/stream"
)

// Publisher appends every locally raised event of a Broker to a Redis
// stream so Listeners in other processes can observe them.
type Publisher struct {
	client goredis.Cmdable
	broker *stream.Broker
	opts   options
	runner runner

	appended atomic.Int64
	failed   atomic.Int64
}

// NewPublisher creates a Publisher reading the firehose of broker.
func NewPublisher(client goredis.Cmdable, broker *stream.Broker, opts ...Option) *Publisher {
	return &Publisher{client: client, broker: broker, opts: newOptions(opts)}
}

func (p *Publisher) subscriberID() string { return "relay-publisher-" + p.opts.node }

// Start subscribes to the broker and begins appending events.
func (p *Publisher) Start(ctx context.Context) error {
	sub := p.broker.Subscribe(p.subscriberID(), stream.TopicFirehose)
	p.runner.start(context.WithoutCancel(ctx), func(ctx context.Context) { p.run(ctx, sub) })
	p.opts.logger.Info("event relay publisher started",
		slog.String("stream", p.opts.stream),
		slog.String("node", p.opts.node),
	)
	return nil
}

// Stop unsubscribes and waits for the in-flight append.
func (p *Publisher) Stop(ctx context.Context) error {
	p.broker.RemoveSubscriber(p.subscriberID())
	return p.runner.stop(ctx)
}

// Appended returns how many events reached the stream.
func (p *Publisher) Appended() int64 { return p.appended.Load() }

// Failed returns how many events were given up on.
func (p *Publisher) Failed() int64 { return p.failed.Load() }

func (p *Publisher) run(ctx context.Context, sub *stream.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			sub.AddCredits(1)
			if evt.Origin != "" || !p.wanted(evt.Type) {
				continue
			}
			if err := p.append(ctx, evt); err != nil {
				p.failed.Add(1)
				p.opts.logger.Warn("relay append failed",
					slog.String("event", string(evt.Type)),
					slog.String("error", err.Error()),
				)
				continue
			}
			p.appended.Add(1)
		}
	}
}

func (p *Publisher) wanted(t stream.EventType) bool {
	return p.opts.types == nil || p.opts.types[t]
}

func (p *Publisher) append(ctx context.Context, evt *stream.Event) error {
	out := *evt
	out.Origin = p.opts.node
	data, err := encode(&out)
	if err != nil {
		return err
	}

	args := &goredis.XAddArgs{
		Stream: p.opts.stream,
		Values: map[string]any{eventField: data},
	}
	if p.opts.maxLen > 0 {
		args.MaxLen = p.opts.maxLen
		args.Approx = true
	}

	b := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := p.client.XAdd(ctx, args).Err(); err != nil {
			return transient(err)
		}
		return nil
	})
}
