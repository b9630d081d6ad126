package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/db"
	"github.com/hackgods/consultation-scheduling/internal/directory"
	"github.com/hackgods/consultation-scheduling/internal/events"
)

// Directory is the writable topic and user directory. Only seeding and
// operator tooling write to it.
type Directory interface {
	appointment.TopicDirectory
	appointment.UserDirectory
	CreateTopic(ctx context.Context, t *appointment.Topic) error
	CreateUser(ctx context.Context, u *appointment.User) error
}

// Backend bundles everything that lives in the configured database.
type Backend struct {
	Driver    string
	Repo      appointment.Repository
	Outbox    events.Store
	Directory Directory

	// Topics and Users are what the service reads; they may be cached.
	Topics appointment.TopicDirectory
	Users  appointment.UserDirectory

	ping    func(context.Context) error
	migrate func(context.Context) error
	close   func()
}

// Open connects to the store named by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(connCtx, cfg.PostgresDSN, db.PoolOptions{
			MaxConns:        int32(cfg.PostgresMaxConns),
			MinConns:        int32(cfg.PostgresMinConns),
			ApplicationName: "consultation-scheduling",
		})
		cancel()
		if err != nil {
			return nil, err
		}
		logger.Info("connected to postgres")
		return postgresBackend(pool), nil

	case config.StoreSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("opened sqlite", "path", cfg.SQLitePath)
		return sqliteBackend(sqlDB), nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func postgresBackend(pool *pgxpool.Pool) *Backend {
	repo := appointment.NewPgRepository(pool)
	dir := directory.NewPgDirectory(pool)
	return &Backend{
		Driver:    config.StorePostgres,
		Repo:      repo,
		Outbox:    repo,
		Directory: dir,
		Topics:    dir,
		Users:     dir,
		ping:      pool.Ping,
		migrate:   func(ctx context.Context) error { return db.MigratePostgres(ctx, pool) },
		close:     pool.Close,
	}
}

func sqliteBackend(sqlDB *sql.DB) *Backend {
	repo := appointment.NewSQLiteRepository(sqlDB)
	dir := directory.NewSQLDirectory(sqlDB)
	return &Backend{
		Driver:    config.StoreSQLite,
		Repo:      repo,
		Outbox:    repo,
		Directory: dir,
		Topics:    dir,
		Users:     dir,
		ping:      sqlDB.PingContext,
		migrate:   func(ctx context.Context) error { return db.MigrateSQLite(ctx, sqlDB) },
		close:     func() { _ = sqlDB.Close() },
	}
}

// Migrate applies the embedded schema. Safe to run on every start.
func (b *Backend) Migrate(ctx context.Context) error {
	return b.migrate(ctx)
}

// CacheDirectory puts a Redis read-through cache in front of topic and
// user lookups. A zero ttl leaves the directory uncached.
func (b *Backend) CacheDirectory(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) {
	if rdb == nil || ttl <= 0 {
		return
	}
	cache := directory.NewCache(b.Directory, b.Directory, rdb, ttl, logger)
	b.Topics = cache
	b.Users = cache
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

func (b *Backend) Close() {
	b.close()
}
