package cmd

import (
	"log/slog"

	"github.com/kestrelflow/kestrel/pkg/worker"
	"github.com/kestrelflow/kestrel/pkg/worker/builtin"
)

// NewRegistry builds a task registry with the built-in runnables plus any
// plugins found under pluginsPath.
func NewRegistry(logger *slog.Logger, pluginsPath string) *worker.Registry {
	reg := worker.NewRegistry(logger)
	builtin.Register(reg)

	if pluginsPath != "" {
		if err := reg.LoadPlugins(pluginsPath); err != nil {
			panic(err)
		}
	}

	return reg
}
