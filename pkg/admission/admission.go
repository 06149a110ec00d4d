// Package admission enforces per-flow concurrency limits at execution
// start. Every admitted execution occupies a slot until it reaches a
// terminal state; executions beyond the limit are queued, cancelled or
// failed according to the flow's concurrency behavior, and queued
// executions are promoted in FIFO order as slots free up.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/repository"
)

// Decision is the admission outcome for one new execution.
type Decision string

const (
	DecisionRun    Decision = "RUN"
	DecisionQueue  Decision = "QUEUE"
	DecisionCancel Decision = "CANCEL"
	DecisionFail   Decision = "FAIL"
)

// SlotStore tracks occupied concurrency slots per flow. Implementations
// must make Acquire atomic: two concurrent calls may never both succeed
// past the limit.
type SlotStore interface {
	// Acquire claims a slot for the flow when fewer than limit are held.
	Acquire(ctx context.Context, flowUID string, limit int) (bool, error)
	// Release frees one slot. Releasing below zero is clamped.
	Release(ctx context.Context, flowUID string) error
	Count(ctx context.Context, flowUID string) (int, error)
}

// Controller decides admission for new executions and promotes queued
// ones when slots free up.
type Controller struct {
	slots      SlotStore
	executions repository.ExecutionRepository
	logger     *slog.Logger
}

func NewController(slots SlotStore, executions repository.ExecutionRepository, logger *slog.Logger) *Controller {
	return &Controller{slots: slots, executions: executions, logger: logger}
}

// Admit decides what happens to a new execution of the flow. Flows
// without a concurrency policy always run.
func (c *Controller) Admit(ctx context.Context, f *flow.Flow) (Decision, error) {
	if f.Concurrency == nil || f.Concurrency.Limit <= 0 {
		return DecisionRun, nil
	}

	acquired, err := c.slots.Acquire(ctx, f.UID(), f.Concurrency.Limit)
	if err != nil {
		return "", fmt.Errorf("acquiring concurrency slot for %s: %w", f.UID(), err)
	}

	if acquired {
		return DecisionRun, nil
	}

	switch f.Concurrency.Behavior {
	case flow.BehaviorCancel:
		return DecisionCancel, nil
	case flow.BehaviorFail:
		return DecisionFail, nil
	default:
		return DecisionQueue, nil
	}
}

// Release frees the slot held by a terminal execution and returns the
// oldest queued execution of the flow, with its slot already acquired, or
// nil when nothing is promotable. The caller transitions the promoted
// execution to RUNNING and persists it.
func (c *Controller) Release(ctx context.Context, f *flow.Flow) (*execution.Execution, error) {
	if f.Concurrency == nil || f.Concurrency.Limit <= 0 {
		return nil, nil
	}

	if err := c.slots.Release(ctx, f.UID()); err != nil {
		return nil, fmt.Errorf("releasing concurrency slot for %s: %w", f.UID(), err)
	}

	queued, err := c.executions.FindOldestQueued(ctx, f.TenantID, f.Namespace, f.ID)
	if err != nil {
		if errors.Is(err, repository.ErrExecutionNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("finding queued execution for %s: %w", f.UID(), err)
	}

	acquired, err := c.slots.Acquire(ctx, f.UID(), f.Concurrency.Limit)
	if err != nil {
		return nil, fmt.Errorf("re-acquiring concurrency slot for %s: %w", f.UID(), err)
	}

	if !acquired {
		// Another producer took the freed slot first; the queued
		// execution stays queued until the next release.
		return nil, nil
	}

	c.logger.InfoContext(ctx, "Promoting queued execution",
		"execution_id", queued.ID, "flow_id", f.ID)

	return queued, nil
}
