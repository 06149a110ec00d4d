package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/repository"
)

// FlowRepository stores flow revisions as jsonb documents.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *FlowRepository) Save(ctx context.Context, f *flow.Flow) error {
	if f.Revision == 0 {
		var latest int

		err := r.db.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(revision), 0) FROM flows
			WHERE tenant_id = $1 AND namespace = $2 AND id = $3
		`, f.TenantID, f.Namespace, f.ID).Scan(&latest)
		if err != nil {
			return fmt.Errorf("failed to resolve next revision: %w", err)
		}

		f.Revision = latest + 1
	}

	definition, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to serialize flow: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO flows (tenant_id, namespace, id, revision, definition)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, namespace, id, revision)
		DO UPDATE SET definition = EXCLUDED.definition
	`, f.TenantID, f.Namespace, f.ID, f.Revision, definition)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

func (r *FlowRepository) FindByID(ctx context.Context, tenant, namespace, id string, revision *int) (*flow.Flow, error) {
	var (
		row *sql.Row
	)

	if revision != nil {
		row = r.db.QueryRowContext(ctx, `
			SELECT definition FROM flows
			WHERE tenant_id = $1 AND namespace = $2 AND id = $3 AND revision = $4
		`, tenant, namespace, id, *revision)
	} else {
		row = r.db.QueryRowContext(ctx, `
			SELECT definition FROM flows
			WHERE tenant_id = $1 AND namespace = $2 AND id = $3
			ORDER BY revision DESC
			LIMIT 1
		`, tenant, namespace, id)
	}

	var definition []byte

	err := row.Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s/%s", repository.ErrFlowNotFound, tenant, namespace, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query flow: %w", err)
	}

	var f flow.Flow
	if err := json.Unmarshal(definition, &f); err != nil {
		return nil, fmt.Errorf("failed to deserialize flow: %w", err)
	}

	return &f, nil
}

func (r *FlowRepository) List(ctx context.Context, tenant, namespace string) ([]*flow.Flow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (tenant_id, namespace, id) definition FROM flows
		WHERE ($1 = '' OR tenant_id = $1) AND ($2 = '' OR namespace = $2)
		ORDER BY tenant_id, namespace, id, revision DESC
	`, tenant, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	flows := make([]*flow.Flow, 0)

	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		var f flow.Flow
		if err := json.Unmarshal(definition, &f); err != nil {
			return nil, fmt.Errorf("failed to deserialize flow: %w", err)
		}

		flows = append(flows, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}
