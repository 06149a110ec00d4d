package builtin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kestrelflow/kestrel/pkg/expression"
	"github.com/kestrelflow/kestrel/pkg/worker"
)

// LogRunnable writes a rendered message to the worker log and echoes it
// into the task outputs.
type LogRunnable struct {
	Message string
	Level   string
}

type LogFactory struct{}

func NewLogFactory() *LogFactory {
	return &LogFactory{}
}

func (f *LogFactory) ID() string {
	return "log"
}

func (f *LogFactory) Create(config map[string]any) (worker.Runnable, error) {
	message, ok := config["message"].(string)
	if !ok || message == "" {
		return nil, fmt.Errorf("log task requires a message")
	}

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &LogRunnable{Message: message, Level: level}, nil
}

func (r *LogRunnable) Run(ctx context.Context, rc worker.RunContext, logger *slog.Logger) (map[string]any, error) {
	message, err := expression.Render(r.Message, rc.Variables)
	if err != nil {
		return nil, fmt.Errorf("rendering message: %w", err)
	}

	switch r.Level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	return map[string]any{"message": message, "level": r.Level}, nil
}
