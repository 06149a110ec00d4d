// Package repository defines the persistence contracts the engine depends
// on. Durable storage itself is an external collaborator: the engine only
// assumes find-by-id, save and list-by-state semantics.
package repository

import (
	"context"
	"errors"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/state"
)

var (
	ErrFlowNotFound      = errors.New("flow not found")
	ErrExecutionNotFound = errors.New("execution not found")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound) || errors.Is(err, ErrExecutionNotFound)
}

// FlowRepository stores versioned flow definitions. A nil revision selects
// the latest revision.
type FlowRepository interface {
	FindByID(ctx context.Context, tenant, namespace, id string, revision *int) (*flow.Flow, error)
	Save(ctx context.Context, f *flow.Flow) error

	// List returns the latest revision of every matching flow. Empty
	// tenant or namespace act as wildcards.
	List(ctx context.Context, tenant, namespace string) ([]*flow.Flow, error)
}

// ExecutionRepository stores execution documents.
type ExecutionRepository interface {
	FindByID(ctx context.Context, id string) (*execution.Execution, error)
	Save(ctx context.Context, e *execution.Execution) error

	// CountRunning counts executions of the flow currently occupying a
	// concurrency slot (QUEUED or RUNNING, non-terminal).
	CountRunning(ctx context.Context, tenant, namespace, flowID string) (int, error)

	// FindOldestQueued returns the QUEUED execution of the flow that was
	// queued first, for FIFO promotion. Returns ErrExecutionNotFound when
	// none is queued.
	FindOldestQueued(ctx context.Context, tenant, namespace, flowID string) (*execution.Execution, error)

	// FindByStates lists executions of the flow in any of the given
	// states. An empty flowID matches all flows of the namespace.
	FindByStates(ctx context.Context, tenant, namespace, flowID string, states []state.Type) ([]*execution.Execution, error)

	// FindChildren lists executions spawned with the given parent id.
	FindChildren(ctx context.Context, parentID string) ([]*execution.Execution, error)
}
