package builtin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kestrelflow/kestrel/pkg/expression"
	"github.com/kestrelflow/kestrel/pkg/worker"
)

// OutputRunnable renders a map of values and emits them as task
// outputs, making them available to downstream tasks and flow outputs.
type OutputRunnable struct {
	Values map[string]any
}

type OutputFactory struct{}

func NewOutputFactory() *OutputFactory {
	return &OutputFactory{}
}

func (f *OutputFactory) ID() string {
	return "output"
}

func (f *OutputFactory) Create(config map[string]any) (worker.Runnable, error) {
	values, ok := config["values"].(map[string]any)
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("output task requires values")
	}

	return &OutputRunnable{Values: values}, nil
}

func (r *OutputRunnable) Run(ctx context.Context, rc worker.RunContext, logger *slog.Logger) (map[string]any, error) {
	outputs := make(map[string]any, len(r.Values))

	for key, value := range r.Values {
		template, ok := value.(string)
		if !ok {
			outputs[key] = value

			continue
		}

		rendered, err := expression.RenderAny(template, rc.Variables)
		if err != nil {
			return nil, fmt.Errorf("rendering value %q: %w", key, err)
		}

		outputs[key] = rendered
	}

	return outputs, nil
}
