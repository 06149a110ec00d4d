// Package subflow creates child executions for subflow and for-each-item
// task runs, propagating the correlation id across the whole execution
// tree and merging labels with task-level values winning.
package subflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/repository"
)

// Coordinator resolves subflow references and materializes child
// executions.
type Coordinator struct {
	flows  repository.FlowRepository
	logger *slog.Logger
}

func NewCoordinator(flows repository.FlowRepository, logger *slog.Logger) *Coordinator {
	return &Coordinator{flows: flows, logger: logger}
}

// Spawn creates a CREATED child execution for the given subflow spec.
// The child lives in the parent's tenant, pins the requested revision (or the
// latest), resolves the given inputs against the child flow's typed input
// declarations and inherits the parent's correlation id.
func (c *Coordinator) Spawn(ctx context.Context, parent *execution.Execution, spec flow.SubflowSpec, inputs map[string]any) (*execution.Execution, error) {
	child, err := c.flows.FindByID(ctx, parent.TenantID, spec.Namespace, spec.FlowID, spec.Revision)
	if err != nil {
		return nil, fmt.Errorf("resolving subflow %s/%s: %w", spec.Namespace, spec.FlowID, err)
	}

	if child.Disabled {
		return nil, fmt.Errorf("subflow %s/%s is disabled", spec.Namespace, spec.FlowID)
	}

	resolved, err := child.ResolveInputs(inputs)
	if err != nil {
		return nil, fmt.Errorf("resolving subflow inputs for %s/%s: %w", spec.Namespace, spec.FlowID, err)
	}

	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}

	// The correlation id always comes from the parent, never from a
	// task-level label.
	labels[execution.LabelCorrelationID] = parent.CorrelationID()

	ex := execution.New(child, resolved, labels)
	ex.ParentID = parent.ID

	c.logger.InfoContext(ctx, "Spawned subflow execution",
		"execution_id", ex.ID,
		"parent_execution_id", parent.ID,
		"flow_id", child.ID,
		"namespace", child.Namespace,
		"revision", child.Revision)

	return ex, nil
}
