package identity

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

const (
	migrationTable     = "schema_migrations"
	postgresMigrations = "migrations/postgres"
	sqliteMigrations   = "migrations/sqlite"
	schemaPlaceholder  = "{{schema}}"
)

type migration struct {
	name string
	sql  string
}

func loadMigrations(root string) ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		b, err := fs.ReadFile(migrationFS, path.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, migration{name: name, sql: string(b)})
	}
	return out, nil
}

// Migrate applies the embedded PostgreSQL migrations into the store schema, each at most once.
// It returns the names of the migrations applied by this call.
func (s *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("identity: nil store")
	}
	migs, err := loadMigrations(postgresMigrations)
	if err != nil {
		return nil, err
	}

	schema := pgx.Identifier{s.schema}.Sanitize()
	table := pgIdent(s.schema, migrationTable)

	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS `+table+` (
		   name TEXT PRIMARY KEY,
		   applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		 )`); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}

	var applied []string
	for _, m := range migs {
		done, err := s.applyPostgresMigration(ctx, table, schema, m)
		if err != nil {
			return applied, err
		}
		if done {
			applied = append(applied, m.name)
		}
	}
	return applied, nil
}

func (s *PostgresStore) applyPostgresMigration(ctx context.Context, table, schema string, m migration) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serializes concurrent migrators on the same table.
	if _, err := tx.Exec(ctx, `LOCK TABLE `+table+` IN EXCLUSIVE MODE`); err != nil {
		return false, fmt.Errorf("lock migration table: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE name = $1)`, m.name,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", m.name, err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, strings.ReplaceAll(m.sql, schemaPlaceholder, schema)); err != nil {
		return false, fmt.Errorf("exec migration %s: %w", m.name, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+table+` (name, applied_at) VALUES ($1, $2)`, m.name, time.Now().UTC(),
	); err != nil {
		return false, fmt.Errorf("record migration %s: %w", m.name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", m.name, err)
	}
	return true, nil
}

// migrateSQLite applies the embedded SQLite migrations, each at most once.
func migrateSQLite(ctx context.Context, db *sql.DB) ([]string, error) {
	migs, err := loadMigrations(sqliteMigrations)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS `+migrationTable+` (
		   name TEXT PRIMARY KEY,
		   applied_at INTEGER NOT NULL
		 )`); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}

	var applied []string
	for _, m := range migs {
		var found int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM `+migrationTable+` WHERE name = ?`, m.name).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return applied, fmt.Errorf("check migration %s: %w", m.name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("begin migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("exec migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			m.name, toMillis(time.Now()),
		); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit migration %s: %w", m.name, err)
		}
		applied = append(applied, m.name)
	}
	return applied, nil
}
