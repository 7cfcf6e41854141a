// Package bootstrap opens the logger and the storage backends shared by the
// server and worker binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/smallnest/hilagent/config"
	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/memory"
	"github.com/smallnest/hilagent/store"
	storemem "github.com/smallnest/hilagent/store/memory"
	"github.com/smallnest/hilagent/store/postgres"
	storeredis "github.com/smallnest/hilagent/store/redis"
	"github.com/smallnest/hilagent/store/sqlite"
)

// Logger builds the rotating file logger and installs it as the default.
func Logger(cfg config.LogConfig) (*log.GologLogger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger, err := log.NewFileLogger(log.FileOptions{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Level:      level,
		Console:    cfg.Console,
	})
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetDefaultLogger(logger)
	return logger, nil
}

// Backends holds the open connections. Pool is nil unless a backend uses
// Postgres.
type Backends struct {
	Redis       *redis.Client
	Pool        *pgxpool.Pool
	Checkpoints store.CheckpointStore
	Memory      memory.Store

	closers []func()
}

// Open connects Redis, Postgres when configured, and builds the checkpoint
// and long-term memory stores, creating their tables.
func Open(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *Backends, err error) {
	b := &Backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	b.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	b.closers = append(b.closers, func() { b.Redis.Close() })
	if err := b.Redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("connected to redis %s db %d", cfg.Redis.Addr, cfg.Redis.DB)

	if cfg.Checkpoint.Backend == "postgres" || cfg.Memory.Backend == "postgres" {
		b.Pool, err = postgres.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MinConns, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, b.Pool.Close)
		if err := b.Pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("connected to postgres (min %d, max %d conns)", cfg.Postgres.MinConns, cfg.Postgres.MaxConns)
	}

	if b.Checkpoints, err = b.openCheckpoints(ctx, cfg.Checkpoint); err != nil {
		return nil, err
	}
	logger.Info("checkpoint backend: %s", cfg.Checkpoint.Backend)

	if b.Memory, err = b.openMemory(ctx, cfg.Memory); err != nil {
		return nil, err
	}
	if cfg.Memory.Backend == "memory" {
		logger.Warn("long-term memory is process local; server and worker will not share it")
	}
	return b, nil
}

func (b *Backends) openCheckpoints(ctx context.Context, cfg config.CheckpointConfig) (store.CheckpointStore, error) {
	switch cfg.Backend {
	case "postgres":
		s := postgres.NewPostgresCheckpointStoreWithPool(b.Pool, cfg.Table)
		if err := s.InitSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		return storeredis.NewRedisCheckpointStoreWithClient(b.Redis, "", cfg.RedisTTL), nil
	case "sqlite":
		s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{Path: cfg.SqlitePath, TableName: cfg.Table})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { s.Close() })
		return s, nil
	case "memory":
		return storemem.NewMemoryCheckpointStore(), nil
	}
	return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
}

func (b *Backends) openMemory(ctx context.Context, cfg config.MemoryConfig) (memory.Store, error) {
	switch cfg.Backend {
	case "postgres":
		s := memory.NewPostgresStore(b.Pool, cfg.Table)
		if err := s.InitSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return memory.NewInMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
}

// Close releases everything Open acquired, in reverse order.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
