package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix replaces DefaultPrefix, letting several independent
// deployments share one server.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
	prefix string
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate loads the Lua scripts so the first transitions skip the
// EVALSHA round trip that misses.
func (s *Store) Migrate(ctx context.Context) error {
	for _, sc := range []*goredis.Script{
		enqueueScript, claimScript, heartbeatScript, progressScript, transitionScript,
		promoteScript, reapScript, deleteScript, evictScript, trimScript,
	} {
		if err := sc.Load(ctx, s.client).Err(); err != nil {
			return fmt.Errorf("%w: %w", jobq.ErrMigrationFailed, s.wrap("load script", err))
		}
	}
	s.logger.Debug("redis scripts loaded", slog.String("prefix", s.prefix))
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.wrap("ping", s.client.Ping(ctx).Err())
}

// Close is a no-op: the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// wrap annotates err with op. Anything that is not a server reply means
// the server could not be reached and is reported as unavailable.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var reply goredis.Error
	if errors.As(err, &reply) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("jobq/redis: %s: %w", op, err)
	}
	return jobq.Unavailable("redis "+op, err)
}
