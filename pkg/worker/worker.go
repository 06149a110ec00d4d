package worker

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelflow/kestrel/pkg/events"
	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/otelhelper"
	"github.com/kestrelflow/kestrel/pkg/queue"
	"github.com/kestrelflow/kestrel/pkg/state"
)

// Worker consumes WorkerTask events and reports WorkerTaskResult events.
type Worker struct {
	id       string
	logger   *slog.Logger
	registry *Registry
	bus      queue.EventBus
	tracer   trace.Tracer
}

func New(id string, registry *Registry, bus queue.EventBus, logger *slog.Logger) *Worker {
	return &Worker{
		id:       id,
		logger:   logger.With("module", "worker", "worker_id", id),
		registry: registry,
		bus:      bus,
		tracer:   otel.Tracer("kestrel.worker"),
	}
}

// Start subscribes to the worker task topic and blocks until the context
// is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.bus.Handle(events.WorkerTaskEvent, w.handleWorkerTask)

	if err := w.bus.Subscribe(ctx, events.WorkerTaskTopic); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started", "types", w.registry.Types())

	<-ctx.Done()

	return nil
}

func (w *Worker) handleWorkerTask(ctx context.Context, event any) error {
	task, ok := event.(*events.WorkerTask)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for WorkerTask")

		return nil
	}

	logger := w.logger.With(
		"execution_id", task.ExecutionID,
		"task_run_id", task.TaskRun.ID,
		"task_id", task.Task.ID,
		"task_type", task.Task.Type,
	)
	logger.InfoContext(ctx, "Executing task")

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.task",
		attribute.String(otelhelper.ExecutionIDKey, task.ExecutionID),
		attribute.String(otelhelper.TaskRunIDKey, task.TaskRun.ID),
		attribute.String(otelhelper.TaskIDKey, task.Task.ID),
		attribute.String(otelhelper.TaskTypeKey, task.Task.Type),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	attemptState := state.New(state.Running)
	outputs, err := w.run(ctx, task, logger)

	var final state.Type
	if err != nil {
		logger.ErrorContext(ctx, "Task attempt failed", "error", err)
		otelhelper.SetError(span, err)

		final = state.Failed

		if outputs == nil {
			outputs = map[string]any{}
		}

		outputs["error"] = err.Error()
	} else {
		final = state.Success
	}

	attemptState, stateErr := attemptState.WithState(final)
	if stateErr != nil {
		return stateErr
	}

	result := task.TaskRun
	result.Attempts = append(result.Attempts, execution.Attempt{State: attemptState, Outputs: outputs})
	result.Outputs = mergeOutputs(result.Outputs, outputs)

	return w.bus.Publish(ctx, task.ExecutionID, events.WorkerTaskResult{
		BaseEvent:   events.NewBaseEvent(events.WorkerTaskResultEvent),
		ExecutionID: task.ExecutionID,
		TaskRun:     result,
		WorkerID:    w.id,
	})
}

// run builds the runnable and executes it under the task's timeout.
func (w *Worker) run(ctx context.Context, task *events.WorkerTask, logger *slog.Logger) (map[string]any, error) {
	runnable, err := w.registry.Create(task.Task.Type, task.Task.Config)
	if err != nil {
		return nil, err
	}

	if task.Task.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, task.Task.Timeout.D())
		defer cancel()
	}

	return runnable.Run(ctx, RunContext{
		ExecutionID: task.ExecutionID,
		TaskRunID:   task.TaskRun.ID,
		TaskID:      task.Task.ID,
		Config:      task.Task.Config,
		Variables:   task.Variables,
	}, logger)
}

func mergeOutputs(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}

	if base == nil {
		base = make(map[string]any, len(extra))
	}

	for k, v := range extra {
		base[k] = v
	}

	return base
}
