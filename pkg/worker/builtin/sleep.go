package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelflow/kestrel/pkg/worker"
)

// SleepRunnable blocks for a fixed duration, honoring context
// cancellation. Useful in tests and as a backoff placeholder.
type SleepRunnable struct {
	Duration time.Duration
}

type SleepFactory struct{}

func NewSleepFactory() *SleepFactory {
	return &SleepFactory{}
}

func (f *SleepFactory) ID() string {
	return "sleep"
}

func (f *SleepFactory) Create(config map[string]any) (worker.Runnable, error) {
	raw, ok := config["duration"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("sleep task requires a duration")
	}

	duration, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing duration %q: %w", raw, err)
	}

	return &SleepRunnable{Duration: duration}, nil
}

func (r *SleepRunnable) Run(ctx context.Context, rc worker.RunContext, logger *slog.Logger) (map[string]any, error) {
	timer := time.NewTimer(r.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return map[string]any{"slept": r.Duration.String()}, nil
}
