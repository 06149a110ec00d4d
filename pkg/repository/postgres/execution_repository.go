package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/repository"
	"github.com/kestrelflow/kestrel/pkg/state"
)

// slotStates are the states in which an execution occupies a concurrency
// slot.
var slotStates = []state.Type{
	state.Queued, state.Running, state.Paused, state.Killing, state.Retrying,
}

// ExecutionRepository stores execution documents as jsonb.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ExecutionRepository) Save(ctx context.Context, e *execution.Execution) error {
	document, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize execution: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (id, tenant_id, namespace, flow_id, parent_id, state, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET state = EXCLUDED.state,
		              document = EXCLUDED.document,
		              updated_at = now()
	`, e.ID, e.TenantID, e.Namespace, e.FlowID, e.ParentID, string(e.State.Current), document)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) FindByID(ctx context.Context, id string) (*execution.Execution, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM executions WHERE id = $1`, id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", repository.ErrExecutionNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}

	return decode(document)
}

// CountRunning is read inside the admission controller's atomic section:
// the count query and the slot decision are serialized per flow by the
// slot store.
func (r *ExecutionRepository) CountRunning(ctx context.Context, tenant, namespace, flowID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions
		WHERE tenant_id = $1 AND namespace = $2 AND flow_id = $3
		  AND state = ANY($4)
	`, tenant, namespace, flowID, pq.Array(stateStrings(slotStates))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count running executions: %w", err)
	}

	return count, nil
}

func (r *ExecutionRepository) FindOldestQueued(ctx context.Context, tenant, namespace, flowID string) (*execution.Execution, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT document FROM executions
		WHERE tenant_id = $1 AND namespace = $2 AND flow_id = $3 AND state = 'QUEUED'
		ORDER BY created_at ASC
		LIMIT 1
	`, tenant, namespace, flowID).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no queued execution for %s/%s/%s",
			repository.ErrExecutionNotFound, tenant, namespace, flowID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query queued execution: %w", err)
	}

	return decode(document)
}

func (r *ExecutionRepository) FindByStates(ctx context.Context, tenant, namespace, flowID string, states []state.Type) ([]*execution.Execution, error) {
	query := `
		SELECT document FROM executions
		WHERE tenant_id = $1 AND namespace = $2 AND state = ANY($3)
	`
	args := []any{tenant, namespace, pq.Array(stateStrings(states))}

	if flowID != "" {
		query += ` AND flow_id = $4`
		args = append(args, flowID)
	}

	query += ` ORDER BY created_at ASC`

	return r.queryExecutions(ctx, query, args...)
}

func (r *ExecutionRepository) FindChildren(ctx context.Context, parentID string) ([]*execution.Execution, error) {
	return r.queryExecutions(ctx, `
		SELECT document FROM executions
		WHERE parent_id = $1
		ORDER BY created_at ASC
	`, parentID)
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*execution.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*execution.Execution, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		e, err := decode(document)
		if err != nil {
			return nil, err
		}

		executions = append(executions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func decode(document []byte) (*execution.Execution, error) {
	var e execution.Execution
	if err := json.Unmarshal(document, &e); err != nil {
		return nil, fmt.Errorf("failed to deserialize execution: %w", err)
	}

	return &e, nil
}

func stateStrings(states []state.Type) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}

	return out
}
