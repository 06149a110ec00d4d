// Package worker consumes dispatched leaf task runs from the queue,
// executes them through the runnable registry and reports each attempt
// back to the executor. Workers never transition task run state; they
// only produce attempts and outputs.
package worker

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"strings"
)

// RunContext is everything a runnable sees about the task run it
// executes.
type RunContext struct {
	ExecutionID string
	TaskRunID   string
	TaskID      string
	Config      map[string]any
	Variables   map[string]any
}

// Runnable executes one leaf task attempt and returns its outputs.
type Runnable interface {
	Run(ctx context.Context, rc RunContext, logger *slog.Logger) (map[string]any, error)
}

// Factory builds runnables for one task type from its configuration.
type Factory interface {
	ID() string
	Create(config map[string]any) (Runnable, error)
}

// Registry maps leaf task types to runnable factories.
type Registry struct {
	logger    *slog.Logger
	factories map[string]Factory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(factory Factory) {
	r.factories[factory.ID()] = factory
}

// Create builds a runnable for the task type, or errors for unknown
// types.
func (r *Registry) Create(taskType string, config map[string]any) (Runnable, error) {
	factory, ok := r.factories[taskType]
	if !ok {
		return nil, fmt.Errorf("task type %q not registered", taskType)
	}

	return factory.Create(config)
}

// Types lists the registered task types.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}

	return types
}

// LoadPlugins registers runnable factories from Go plugins in the given
// directory. Each .so file must export a Runnable symbol implementing
// Factory.
func (r *Registry) LoadPlugins(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			r.logger.Warn("Plugin directory not found, skipping", "path", path)

			return nil
		}

		return fmt.Errorf("reading plugin directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".so") {
			continue
		}

		p, err := plugin.Open(path + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("opening plugin %s: %w", entry.Name(), err)
		}

		symbol, err := p.Lookup("Runnable")
		if err != nil {
			return fmt.Errorf("plugin %s has no Runnable symbol: %w", entry.Name(), err)
		}

		factory, ok := symbol.(Factory)
		if !ok {
			return fmt.Errorf("plugin %s: Runnable does not implement Factory", entry.Name())
		}

		r.Register(factory)
		r.logger.Info("Registered plugin runnable", "type", factory.ID(), "plugin", entry.Name())
	}

	return nil
}
