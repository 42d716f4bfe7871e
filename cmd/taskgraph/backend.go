package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/taskgraph"
	"github.com/petrijr/taskgraph/internal/config"
	"github.com/petrijr/taskgraph/internal/telemetry"
)

// backend is an engine and a work queue over the configured store.
type backend struct {
	Engine taskgraph.Engine
	Queue  taskgraph.Queue

	closers []func() error
}

// Close releases the store connections.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func engineOptions(a *app) []taskgraph.Option {
	cfg := a.cfg
	opts := []taskgraph.Option{
		taskgraph.WithLogger(a.logger),
		taskgraph.WithMaxInFlight(cfg.Engine.MaxInFlight),
		taskgraph.WithApprovalTimeout(cfg.Engine.ApprovalTimeout),
		taskgraph.WithPollInterval(cfg.Engine.PollInterval),
		taskgraph.WithBackoff(cfg.Backoff()),
	}

	observers := []taskgraph.Observer{taskgraph.NewLoggingObserver(a.logger)}
	if m, err := telemetry.NewMetricsObserver(nil); err != nil {
		a.logger.Warn("metrics disabled", "error", err)
	} else {
		observers = append(observers, m)
	}
	return append(opts, taskgraph.WithObserver(taskgraph.NewCompositeObserver(observers...)))
}

// openBackend connects to the store named by cfg.Store and pairs the engine
// with a queue on the same store.
func openBackend(ctx context.Context, cfg *config.Config, exec taskgraph.TaskExecutor, opts ...taskgraph.Option) (*backend, error) {
	b := &backend{}
	dsn := cfg.Store.DSN

	switch cfg.Store.Driver {
	case "memory":
		b.Engine = taskgraph.NewInMemoryEngine(exec, opts...)
		b.Queue = taskgraph.NewInMemoryQueue(0)

	case "sqlite":
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One connection serializes writers and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
		b.closers = append(b.closers, db.Close)
		if b.Engine, err = taskgraph.NewSQLiteEngine(db, exec, opts...); err != nil {
			b.Close()
			return nil, err
		}
		if b.Queue, err = taskgraph.NewSQLiteQueue(db); err != nil {
			b.Close()
			return nil, err
		}

	case "postgres":
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if b.Engine, err = taskgraph.NewPostgresEngine(db, exec, opts...); err != nil {
			b.Close()
			return nil, err
		}
		if b.Queue, err = taskgraph.NewPostgresQueue(db); err != nil {
			b.Close()
			return nil, err
		}

	case "redis":
		ropts, err := redisOptions(dsn)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(ropts)
		b.closers = append(b.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.Engine = taskgraph.NewRedisEngine(client, cfg.Store.Prefix, exec, opts...)
		b.Queue = taskgraph.NewRedisQueue(client, cfg.Store.Prefix)

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(dsn))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		b.closers = append(b.closers, func() error { return client.Disconnect(context.Background()) })
		if err := client.Ping(ctx, nil); err != nil {
			b.Close()
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		b.Engine = taskgraph.NewMongoEngine(client, cfg.Store.Database, exec, opts...)
		b.Queue = taskgraph.NewMongoQueue(client, cfg.Store.Database)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return b, nil
}

// redisOptions accepts a redis:// URL or a bare host:port.
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
