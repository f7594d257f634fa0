package pg

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations creates the schema and applies pending migrations in name order
func (cm *ConnectionManager) RunMigrations(ctx context.Context, logger logr.Logger) error {
	return cm.WithTx(ctx, func(tx pgx.Tx) error {
		// serializes concurrent runs against the same database
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('netsync.migrations'))`); err != nil {
			return errors.Wrap(err, "failed to take migration lock")
		}
		if _, err := tx.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+SchemaName); err != nil {
			return errors.Wrap(err, "failed to create schema")
		}
		if _, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS `+SchemaName+`.migrations (
				id SERIAL PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			)`); err != nil {
			return errors.Wrap(err, "failed to create migrations table")
		}

		applied, err := appliedMigrations(ctx, tx)
		if err != nil {
			return err
		}

		entries, err := fs.ReadDir(migrationsFS, "migrations")
		if err != nil {
			return errors.Wrap(err, "failed to read migrations directory")
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Name() < entries[j].Name()
		})

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".sql") || applied[name] {
				continue
			}
			sql, err := fs.ReadFile(migrationsFS, path.Join("migrations", name))
			if err != nil {
				return errors.Wrapf(err, "failed to read migration %s", name)
			}
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return errors.Wrapf(err, "failed to apply migration %s", name)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO `+SchemaName+`.migrations (name) VALUES ($1)`, name); err != nil {
				return errors.Wrapf(err, "failed to record migration %s", name)
			}
			logger.Info("Applied migration", "name", name)
		}
		return nil
	})
}

func appliedMigrations(ctx context.Context, tx pgx.Tx) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `SELECT name FROM `+SchemaName+`.migrations ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query migrations")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan migrations")
	}
	applied := make(map[string]bool, len(names))
	for _, name := range names {
		applied[name] = true
	}
	return applied, nil
}
