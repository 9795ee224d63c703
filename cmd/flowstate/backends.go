package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/flowstate/internal/config"
	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/internal/taskqueue"
)

// backends holds the opened stores and queue plus everything to close on
// shutdown.
type backends struct {
	persistence persistence.Persistence
	queue       taskqueue.Queue
	closers     []io.Closer
}

func (b *backends) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	if err := b.openStorage(ctx, cfg); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := b.openQueue(cfg); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backends) openStorage(ctx context.Context, cfg *config.Config) error {
	// Flow records stay in memory unless the backend stores them.
	b.persistence = persistence.InMemory()

	switch cfg.Storage.Driver {
	case "memory":
		return nil

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		b.closers = append(b.closers, db)
		partitions, err := persistence.NewSQLitePartitionStore(db)
		if err != nil {
			return err
		}
		flows, err := persistence.NewSQLiteFlowStore(db)
		if err != nil {
			return err
		}
		b.persistence = persistence.Persistence{Partitions: partitions, Flows: flows}
		return nil

	case "postgres":
		db, err := sql.Open("pgx", cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		b.closers = append(b.closers, db)
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		partitions, err := persistence.NewPostgresPartitionStore(db)
		if err != nil {
			return err
		}
		b.persistence.Partitions = partitions
		return nil

	case "redis":
		client := b.redisClient(cfg)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		b.persistence.Partitions = persistence.NewRedisPartitionStore(client, cfg.Redis.Prefix)
		return nil

	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		b.closers = append(b.closers, closerFunc(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		}))
		if err := client.Ping(connectCtx, nil); err != nil {
			return fmt.Errorf("ping mongo: %w", err)
		}
		b.persistence.Partitions = persistence.NewMongoPartitionStore(client, cfg.Mongo.Database)
		return nil
	}
	return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func (b *backends) openQueue(cfg *config.Config) error {
	switch cfg.Queue.Driver {
	case "memory":
		b.queue = taskqueue.NewInMemoryQueue(cfg.Queue.Capacity)
		return nil
	case "redis":
		b.queue = taskqueue.NewRedisQueue(b.redisClient(cfg), cfg.Redis.Prefix)
		return nil
	}
	return fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
}

// redisClient returns the shared client, creating it on first use.
func (b *backends) redisClient(cfg *config.Config) *redis.Client {
	for _, c := range b.closers {
		if client, ok := c.(*redis.Client); ok {
			return client
		}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	b.closers = append(b.closers, client)
	return client
}
