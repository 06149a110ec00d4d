package builtin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kestrelflow/kestrel/pkg/expression"
	"github.com/kestrelflow/kestrel/pkg/worker"
)

// FailRunnable always fails with a rendered message. It exists to test
// error handling, retries and errors hooks.
type FailRunnable struct {
	Message string
}

type FailFactory struct{}

func NewFailFactory() *FailFactory {
	return &FailFactory{}
}

func (f *FailFactory) ID() string {
	return "fail"
}

func (f *FailFactory) Create(config map[string]any) (worker.Runnable, error) {
	message, _ := config["message"].(string)
	if message == "" {
		message = "task failed"
	}

	return &FailRunnable{Message: message}, nil
}

func (r *FailRunnable) Run(ctx context.Context, rc worker.RunContext, logger *slog.Logger) (map[string]any, error) {
	message, err := expression.Render(r.Message, rc.Variables)
	if err != nil {
		return nil, fmt.Errorf("rendering message: %w", err)
	}

	return nil, errors.New(message)
}
