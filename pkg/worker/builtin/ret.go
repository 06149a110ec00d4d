package builtin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kestrelflow/kestrel/pkg/expression"
	"github.com/kestrelflow/kestrel/pkg/worker"
)

// ReturnRunnable emits a single rendered value under the "value" output
// key.
type ReturnRunnable struct {
	Value any
}

type ReturnFactory struct{}

func NewReturnFactory() *ReturnFactory {
	return &ReturnFactory{}
}

func (f *ReturnFactory) ID() string {
	return "return"
}

func (f *ReturnFactory) Create(config map[string]any) (worker.Runnable, error) {
	value, ok := config["value"]
	if !ok {
		return nil, fmt.Errorf("return task requires a value")
	}

	return &ReturnRunnable{Value: value}, nil
}

func (r *ReturnRunnable) Run(ctx context.Context, rc worker.RunContext, logger *slog.Logger) (map[string]any, error) {
	template, ok := r.Value.(string)
	if !ok {
		return map[string]any{"value": r.Value}, nil
	}

	rendered, err := expression.RenderAny(template, rc.Variables)
	if err != nil {
		return nil, fmt.Errorf("rendering value: %w", err)
	}

	return map[string]any{"value": rendered}, nil
}
