package app

import (
	"context"
	"fmt"
	"time"

	"latch/cmd/identity"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
// Migrations are applied separately (`latch migrate` or LATCH_AUTO_MIGRATE).
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// pgStore ties a PostgresStore to the pool the app owns.
type pgStore struct {
	*identity.PostgresStore
	pool *pgxpool.Pool
}

func (s pgStore) Close() error {
	s.pool.Close()
	return nil
}

// OpenStore opens the identity store selected by cfg. migrate forces Postgres migrations
// regardless of cfg.AutoMigrate.
func OpenStore(ctx context.Context, cfg Config, log Logger, migrate bool) (identity.Store, error) {
	driver, err := cfg.StoreDriver()
	if err != nil {
		return nil, err
	}

	switch driver {
	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		st, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		if migrate || cfg.AutoMigrate {
			applied, err := st.Migrate(ctx)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			log.Info("db.migrate", "driver", driver, "applied", applied)
		}
		log.Info("db.enabled", "driver", driver, "schema", cfg.DBSchema)
		return pgStore{PostgresStore: st, pool: pool}, nil

	case StoreSQLite:
		st, err := identity.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("db.enabled", "driver", driver, "path", cfg.SQLitePath)
		return st, nil

	default:
		log.Warn("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), nil
	}
}
