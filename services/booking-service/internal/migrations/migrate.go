// Package migrations embeds the booking schema and applies it in order.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
)

//go:embed *.sql
var files embed.FS

// Names lists the embedded migrations in apply order.
func Names() ([]string, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every embedded migration not yet recorded in schema_migrations.
// Each file runs in its own transaction together with its bookkeeping row.
func Apply(ctx context.Context, pool *db.Pool, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name text PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	names, err := Names()
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, name := range names {
		sql, err := files.ReadFile(name)
		if err != nil {
			return applied, err
		}
		var ran bool
		err = pool.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
			if err := db.AdvisoryXactLock(ctx, tx, "migrations"); err != nil {
				return err
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&exists); err != nil {
				return err
			}
			if exists {
				ran = false
				return nil
			}
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name)
			ran = err == nil
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("apply %s: %w", name, err)
		}
		if ran {
			applied++
			logger.Info("migration applied", "name", name)
		}
	}
	return applied, nil
}
