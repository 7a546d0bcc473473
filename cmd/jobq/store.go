package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobq/store"
	"github.com/xraph/jobq/store/memory"
	"github.com/xraph/jobq/store/mongo"
	"github.com/xraph/jobq/store/postgres"
	redisstore "github.com/xraph/jobq/store/redis"
)

// backend is an opened store plus the redis client when there is one.
type backend struct {
	store.Store
	redis *goredis.Client
}

// Close closes the store and the redis client it was built on.
func (b *backend) Close() error {
	err := b.Store.Close()
	if b.redis != nil {
		if cerr := b.redis.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func openBackend(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case "memory":
		return &backend{Store: memory.New()}, nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		s := redisstore.New(client,
			redisstore.WithPrefix(cfg.Prefix),
			redisstore.WithLogger(logger),
		)
		return &backend{Store: s, redis: client}, nil

	case "postgres":
		s, err := postgres.New(ctx, cfg.URL, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &backend{Store: s}, nil

	case "mongo":
		s, err := mongo.New(cfg.URL, cfg.Database, mongo.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &backend{Store: s}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
