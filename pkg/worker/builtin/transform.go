package builtin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kestrelflow/kestrel/pkg/expression"
	"github.com/kestrelflow/kestrel/pkg/worker"
)

// TransformRunnable evaluates one expression over the execution
// variables and returns the result under the "result" output key.
type TransformRunnable struct {
	Expression string
}

type TransformFactory struct{}

func NewTransformFactory() *TransformFactory {
	return &TransformFactory{}
}

func (f *TransformFactory) ID() string {
	return "transform"
}

func (f *TransformFactory) Create(config map[string]any) (worker.Runnable, error) {
	source, ok := config["expression"].(string)
	if !ok || source == "" {
		return nil, fmt.Errorf("transform task requires an expression")
	}

	return &TransformRunnable{Expression: source}, nil
}

func (r *TransformRunnable) Run(ctx context.Context, rc worker.RunContext, logger *slog.Logger) (map[string]any, error) {
	result, err := expression.RenderAny(r.Expression, rc.Variables)
	if err != nil {
		return nil, fmt.Errorf("evaluating expression: %w", err)
	}

	return map[string]any{"result": result}, nil
}
