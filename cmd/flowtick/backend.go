package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/flowtick/internal/config"
	"github.com/petrijr/flowtick/internal/engine"
	"github.com/petrijr/flowtick/internal/persistence"
	"github.com/petrijr/flowtick/pkg/api"
)

// backend is a scheduler wired to the configured store.
type backend struct {
	engine  *engine.Engine
	metrics *api.BasicMetrics
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackend connects to the store named by cfg and builds a scheduler on
// it. Audit and failure records go to the log, to the store when it keeps
// them, and to in-process counters.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{metrics: &api.BasicMetrics{}}

	p, err := openPersistence(ctx, cfg.Store, b)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	p.Sink = api.NewCompositeSink(api.NewLoggingSink(logger), p.Sink, b.metrics)

	registry := engine.NewRegistry()
	for agentType, fn := range builtinExecutors() {
		if err := registry.Register(agentType, fn); err != nil {
			_ = b.Close()
			return nil, err
		}
	}

	b.engine = engine.NewEngineWithConfig(engine.Config{
		Persistence: p,
		Registry:    registry,
		Logger:      logger,
		OwnerID:     cfg.Scheduler.OwnerID,
		Concurrency: cfg.Scheduler.Concurrency,
	})
	return b, nil
}

func openPersistence(ctx context.Context, sc config.StoreConfig, b *backend) (persistence.Persistence, error) {
	switch sc.Driver {
	case "memory":
		return persistence.Persistence{Runs: persistence.NewInMemoryRunStore()}, nil

	case "sqlite":
		db, err := sql.Open("sqlite", sc.DSN)
		if err != nil {
			return persistence.Persistence{}, fmt.Errorf("open sqlite: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		db.SetMaxOpenConns(1)
		runs, err := persistence.NewSQLiteRunStore(db)
		if err != nil {
			return persistence.Persistence{}, err
		}
		sink, err := persistence.NewSQLiteSink(db)
		if err != nil {
			return persistence.Persistence{}, err
		}
		return persistence.Persistence{Runs: runs, Sink: sink}, nil

	case "postgres":
		db, err := sql.Open("pgx", sc.DSN)
		if err != nil {
			return persistence.Persistence{}, fmt.Errorf("open postgres: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return persistence.Persistence{}, fmt.Errorf("ping postgres: %w", err)
		}
		runs, err := persistence.NewPostgresRunStore(db)
		if err != nil {
			return persistence.Persistence{}, err
		}
		sink, err := persistence.NewPostgresSink(db)
		if err != nil {
			return persistence.Persistence{}, err
		}
		return persistence.Persistence{Runs: runs, Sink: sink}, nil

	case "redis":
		opts, err := redisOptions(sc.DSN)
		if err != nil {
			return persistence.Persistence{}, err
		}
		client := redis.NewClient(opts)
		b.closers = append(b.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return persistence.Persistence{}, fmt.Errorf("ping redis: %w", err)
		}
		return persistence.Persistence{Runs: persistence.NewRedisRunStore(client, sc.Prefix)}, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(sc.DSN))
		if err != nil {
			return persistence.Persistence{}, fmt.Errorf("connect mongo: %w", err)
		}
		b.closers = append(b.closers, func() error { return client.Disconnect(context.Background()) })
		runs := persistence.NewMongoRunStore(client, sc.Database, "")
		if err := runs.EnsureIndexes(ctx); err != nil {
			return persistence.Persistence{}, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return persistence.Persistence{Runs: runs, Sink: persistence.NewMongoSink(client, sc.Database)}, nil
	}
	return persistence.Persistence{}, fmt.Errorf("unknown store driver %q", sc.Driver)
}

// redisOptions accepts either a redis:// URL or a bare host:port address.
func redisOptions(dsn string) (*redis.Options, error) {
	if strings.Contains(dsn, "://") {
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: dsn}, nil
}
