package postgres

import (
	"context"
	"fmt"
)

const currentSchemaVersion = 1

var migrations = map[int]string{
	1: `
		CREATE TABLE IF NOT EXISTS flows (
			tenant_id  TEXT NOT NULL DEFAULT '',
			namespace  TEXT NOT NULL,
			id         TEXT NOT NULL,
			revision   INT  NOT NULL,
			definition JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, namespace, id, revision)
		);

		CREATE TABLE IF NOT EXISTS executions (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL DEFAULT '',
			namespace  TEXT NOT NULL,
			flow_id    TEXT NOT NULL,
			parent_id  TEXT NOT NULL DEFAULT '',
			state      TEXT NOT NULL,
			document   JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_executions_flow_state
			ON executions (tenant_id, namespace, flow_id, state);
		CREATE INDEX IF NOT EXISTS idx_executions_parent
			ON executions (parent_id);
		CREATE INDEX IF NOT EXISTS idx_executions_queued_fifo
			ON executions (tenant_id, namespace, flow_id, created_at)
			WHERE state = 'QUEUED';
	`,
}

func (p *Persistence) migrate(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting database migrations")

	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int

	err = p.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for version := current + 1; version <= currentSchemaVersion; version++ {
		statement, ok := migrations[version]
		if !ok {
			return fmt.Errorf("missing migration for version %d", version)
		}

		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, statement); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to apply migration %d: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}

		p.logger.InfoContext(ctx, "Applied migration", "version", version)
	}

	return nil
}
