package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kestrelflow/kestrel/pkg/repository"
	"github.com/kestrelflow/kestrel/pkg/repository/memory"
	"github.com/kestrelflow/kestrel/pkg/repository/postgres"
)

// Persistence bundles the flow and execution repositories behind one
// backend so a binary can switch storage with a single URL.
type Persistence interface {
	FlowRepository() repository.FlowRepository
	ExecutionRepository() repository.ExecutionRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewPersistence selects the backend from the URL scheme. Anything that
// is not a PostgreSQL URL falls back to the in-memory repositories, which
// lose all state on restart.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) Persistence {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		p, err := postgres.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to connect to PostgreSQL: %w", err))
		}

		return p
	}

	return &memoryPersistence{
		flows:      memory.NewFlowRepository(),
		executions: memory.NewExecutionRepository(),
	}
}

type memoryPersistence struct {
	flows      *memory.FlowRepository
	executions *memory.ExecutionRepository
}

func (p *memoryPersistence) FlowRepository() repository.FlowRepository {
	return p.flows
}

func (p *memoryPersistence) ExecutionRepository() repository.ExecutionRepository {
	return p.executions
}

func (p *memoryPersistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *memoryPersistence) Close(_ context.Context) error {
	return nil
}
