// Package postgres provides the PostgreSQL-backed repository. Flow and
// execution documents are stored as jsonb alongside the indexed columns
// the engine queries on.
package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/kestrelflow/kestrel/pkg/repository"
)

// Persistence bundles the repositories sharing one connection pool.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	flows      *FlowRepository
	executions *ExecutionRepository
}

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	p := &Persistence{
		db:         db,
		logger:     logger,
		flows:      &FlowRepository{db: db, logger: logger},
		executions: &ExecutionRepository{db: db, logger: logger},
	}

	if err := p.migrate(ctx); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Persistence) FlowRepository() repository.FlowRepository {
	return p.flows
}

func (p *Persistence) ExecutionRepository() repository.ExecutionRepository {
	return p.executions
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Persistence) Close(_ context.Context) error {
	return p.db.Close()
}
