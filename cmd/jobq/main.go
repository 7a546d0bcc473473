// Command jobq runs a jobq worker node with the HTTP API.
//
// Usage:
//
//	jobq -config /etc/jobq.yaml
//
// Configuration is read from the optional YAML file and JOBQ_* environment
// variables (JOBQ_STORE_BACKEND=redis, JOBQ_QUEUE_CONCURRENCY=20, ...).
// The node registers a single built-in handler, jobq.echo, which
// completes with its payload as result. Programs embedding jobq register
// their own handlers through the engine package instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/api"
	"github.com/xraph/jobq/engine"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/relay"
)

func main() {
	configPath := flag.String("config", os.Getenv("JOBQ_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := newLogger(os.Stderr, cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("jobq exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	b, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	if err := b.Migrate(ctx); err != nil {
		_ = b.Close()
		return fmt.Errorf("%w: %w", jobq.ErrMigrationFailed, err)
	}

	d, err := jobq.New(
		jobq.WithStore(b),
		jobq.WithConfig(cfg.Queue),
		jobq.WithLogger(logger),
	)
	if err != nil {
		_ = b.Close()
		return err
	}
	eng, err := engine.Build(d)
	if err != nil {
		_ = b.Close()
		return err
	}
	engine.Register(eng, job.NewDefinition("jobq.echo",
		func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
			return payload, nil
		},
	))

	// eng.Stop stops the runners that did start and closes the backend.
	abort := func(err error, started ...stopper) error {
		return unwind(ctx, cfg.Queue.ShutdownTimeout, err, append(started, eng)...)
	}

	if err := eng.Start(ctx); err != nil {
		return abort(fmt.Errorf("start engine: %w", err))
	}
	logger.Info("jobq started",
		slog.String("backend", cfg.Store.Backend),
		slog.Any("queues", cfg.Queue.Queues),
		slog.Int("concurrency", cfg.Queue.Concurrency),
	)

	var relays []stopper
	if cfg.Relay.Enabled {
		// Publisher and listener must share a node name or the listener
		// would republish this node's own events.
		node := cfg.Relay.Node
		if node == "" {
			node = uuid.NewString()
		}
		opts := []relay.Option{
			relay.WithStream(cfg.Relay.Stream),
			relay.WithNode(node),
			relay.WithLogger(logger),
		}
		pub := relay.NewPublisher(b.redis, eng.Events(), opts...)
		lis := relay.NewListener(b.redis, eng.Events(), opts...)
		if err := pub.Start(ctx); err != nil {
			return abort(fmt.Errorf("start relay publisher: %w", err))
		}
		if err := lis.Start(ctx); err != nil {
			return abort(fmt.Errorf("start relay listener: %w", err), pub)
		}
		relays = append(relays, lis, pub)
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.New(eng, api.WithLogger(logger)).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("api listening", slog.String("addr", cfg.HTTP.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("jobq shutting down")

		// The engine drains in-flight jobs for up to ShutdownTimeout; give
		// the rest of shutdown a little longer than that.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout+5*time.Second)
		defer cancel()

		var errs []error
		if srv != nil {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		for _, r := range relays {
			errs = append(errs, r.Stop(shutdownCtx))
		}
		errs = append(errs, eng.Stop(shutdownCtx))
		return errors.Join(errs...)
	})

	return g.Wait()
}

type stopper interface {
	Stop(ctx context.Context) error
}

// unwind stops what a failed startup already started, in order, and
// returns cause joined with any stop errors.
func unwind(ctx context.Context, timeout time.Duration, cause error, started ...stopper) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	errs := []error{cause}
	for _, s := range started {
		errs = append(errs, s.Stop(ctx))
	}
	return errors.Join(errs...)
}
