package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

const migrationsLogPrefix = "db:migrations"

// Migration is one forward-only SQL migration file.
type Migration struct {
	Name string
	SQL  string
}

// MigrationReport lists applied and pending migrations.
type MigrationReport struct {
	Applied []string
	Pending []string
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS bridge_schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// LoadMigrations reads all .sql files from dir, sorted by name.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []Migration
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		out = append(out, Migration{Name: name, SQL: string(data)})
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// pendingMigrations returns the migrations whose names are not in applied,
// keeping their order.
func pendingMigrations(all []Migration, applied []string) []Migration {
	return lo.Filter(all, func(m Migration, _ int) bool {
		return !lo.Contains(applied, m.Name)
	})
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("%s - failed to create migrations table: %w", migrationsLogPrefix, err)
	}
	rows, err := pool.Query(ctx, `SELECT name FROM bridge_schema_migrations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list applied migrations: %w", migrationsLogPrefix, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s - failed to scan applied migrations: %w", migrationsLogPrefix, err)
	}
	return names, nil
}

// RunMigrations applies every migration not yet recorded, each in its own
// transaction. It returns the names it applied.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) ([]string, error) {
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return nil, err
	}

	pending := pendingMigrations(migrations, applied)
	slog.Info(fmt.Sprintf("%s - Running %d of %d migrations", migrationsLogPrefix, len(pending), len(migrations)))

	var done []string
	for _, m := range pending {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO bridge_schema_migrations (name) VALUES ($1)`, m.Name)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("%s - migration %s failed: %w", migrationsLogPrefix, m.Name, err)
		}
		done = append(done, m.Name)
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", migrationsLogPrefix))
	return done, nil
}

// MigrationStatus reports which migrations in dir have been applied.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, dir string) (*MigrationReport, error) {
	migrations, err := LoadMigrations(dir)
	if err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return nil, err
	}
	pending := lo.Map(pendingMigrations(migrations, applied), func(m Migration, _ int) string { return m.Name })
	return &MigrationReport{Applied: applied, Pending: pending}, nil
}
