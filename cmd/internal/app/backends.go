package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"murmur/cmd/internal/chat"
)

// readinessCheck probes one shared dependency.
type readinessCheck struct {
	name  string
	probe func(ctx context.Context) error
}

// backends owns the shared persistence clients built once per process.
//
// Ownership model:
//   - backends owns the pool, the redis client and the pebble database
//   - stores built on a shared client have a no-op Close
type backends struct {
	pool  *pgxpool.Pool
	redis *redis.Client

	store    chat.MessageStore
	registry chat.ConnectionRegistry

	checks []readinessCheck
}

// openBackends builds the message store and connection registry named by cfg.
func openBackends(ctx context.Context, cfg Config, log Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			_ = b.Close(context.Background())
		}
	}()

	if cfg.usesBackend(BackendPostgres) {
		b.pool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.DBAutoMigrate {
			if err := chat.ApplyPostgresSchema(ctx, b.pool, chat.WithSchema(cfg.DBSchema)); err != nil {
				return nil, fmt.Errorf("app: apply schema: %w", err)
			}
		}
		pool := b.pool
		b.checks = append(b.checks, readinessCheck{name: "postgres", probe: func(ctx context.Context) error {
			return PingDB(ctx, pool, cfg.ReadinessCheckLimit)
		}})
		log.Info("db.enabled", "schema", cfg.DBSchema, "auto_migrate", cfg.DBAutoMigrate)
	}

	if cfg.usesBackend(BackendRedis) {
		b.redis, err = NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client := b.redis
		b.checks = append(b.checks, readinessCheck{name: "redis", probe: func(ctx context.Context) error {
			return PingRedis(ctx, client, cfg.ReadinessCheckLimit)
		}})
		log.Info("redis.enabled", "addr", cfg.RedisAddr, "prefix", cfg.RedisPrefix)
	}

	store, err := b.newStore(cfg)
	if err != nil {
		return nil, err
	}
	b.store = store

	registry, err := b.newRegistry(cfg)
	if err != nil {
		return nil, err
	}
	b.registry = registry

	log.Info("backends.ready", "store", cfg.StoreBackend, "registry", cfg.RegistryBackend)
	return b, nil
}

func (b *backends) newStore(cfg Config) (chat.MessageStore, error) {
	switch cfg.StoreBackend {
	case BackendMemory:
		return chat.NewInMemoryStore(), nil
	case BackendPostgres:
		s, err := chat.NewPostgresStore(b.pool, chat.WithSchema(cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := chat.NewRedisStore(b.redis, chat.WithKeyPrefix(cfg.RedisPrefix))
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPebble:
		s, err := chat.OpenPebbleStore(cfg.PebbleDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}
}

func (b *backends) newRegistry(cfg Config) (chat.ConnectionRegistry, error) {
	switch cfg.RegistryBackend {
	case BackendMemory:
		return chat.NewMemoryRegistry(), nil
	case BackendPostgres:
		r, err := chat.NewPostgresRegistry(b.pool, chat.WithSchema(cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendRedis:
		r, err := chat.NewRedisRegistry(b.redis, chat.WithKeyPrefix(cfg.RedisPrefix))
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("app: unknown registry backend %q", cfg.RegistryBackend)
	}
}

// ready runs every readiness probe and returns the name of the first failing one.
func (b *backends) ready(ctx context.Context) (string, error) {
	for _, c := range b.checks {
		if err := c.probe(ctx); err != nil {
			return c.name, err
		}
	}
	return "", nil
}

// Close releases the store, then the shared clients it was built on.
func (b *backends) Close(_ context.Context) error {
	var errs []error
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.pool != nil {
		b.pool.Close()
	}
	return errors.Join(errs...)
}
