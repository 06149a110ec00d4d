package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/kestrel/pkg/events"
	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/queue"
	"github.com/kestrelflow/kestrel/pkg/state"
)

type capturingBus struct {
	keys      []string
	published []queue.Event
}

func (b *capturingBus) Publish(_ context.Context, key string, event queue.Event) error {
	b.keys = append(b.keys, key)
	b.published = append(b.published, event)

	return nil
}

func (b *capturingBus) Handle(events.EventType, queue.EventHandler) {}

func (b *capturingBus) Subscribe(context.Context, string) error { return nil }

func (b *capturingBus) Close() error { return nil }

func (b *capturingBus) GenerateID() string { return uuid.New().String() }

type fnRunnable func(ctx context.Context, rc RunContext) (map[string]any, error)

func (f fnRunnable) Run(ctx context.Context, rc RunContext, _ *slog.Logger) (map[string]any, error) {
	return f(ctx, rc)
}

type fnFactory struct {
	id string
	fn fnRunnable
}

func (f *fnFactory) ID() string { return f.id }

func (f *fnFactory) Create(map[string]any) (Runnable, error) { return f.fn, nil }

func testWorker(t *testing.T, factories ...Factory) (*Worker, *capturingBus) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := NewRegistry(logger)

	for _, f := range factories {
		registry.Register(f)
	}

	bus := &capturingBus{}

	return New("worker-1", registry, bus, logger), bus
}

func workerTask(taskType string) *events.WorkerTask {
	return &events.WorkerTask{
		BaseEvent:   events.NewBaseEvent(events.WorkerTaskEvent),
		ExecutionID: "ex-1",
		TaskRun: execution.TaskRun{
			ID:     "run-1",
			TaskID: "step",
			State:  state.New(state.Running),
		},
		Task: flow.Task{
			ID:   "step",
			Type: taskType,
		},
		Variables: map[string]any{"trigger": map[string]any{"id": "42"}},
	}
}

func TestWorker_SuccessfulAttempt(t *testing.T) {
	w, bus := testWorker(t, &fnFactory{id: "echo", fn: func(_ context.Context, rc RunContext) (map[string]any, error) {
		return map[string]any{"echo": rc.Variables["trigger"]}, nil
	}})

	err := w.handleWorkerTask(context.Background(), workerTask("echo"))
	require.NoError(t, err)
	require.Len(t, bus.published, 1)
	assert.Equal(t, "ex-1", bus.keys[0])

	result, ok := bus.published[0].(events.WorkerTaskResult)
	require.True(t, ok)
	assert.Equal(t, "worker-1", result.WorkerID)
	require.Len(t, result.TaskRun.Attempts, 1)
	assert.Equal(t, state.Success, result.TaskRun.Attempts[0].State.Current)
	assert.Equal(t, map[string]any{"id": "42"}, result.TaskRun.Outputs["echo"])
}

func TestWorker_FailedAttemptCarriesError(t *testing.T) {
	w, bus := testWorker(t, &fnFactory{id: "boom", fn: func(context.Context, RunContext) (map[string]any, error) {
		return nil, errors.New("out of stock")
	}})

	err := w.handleWorkerTask(context.Background(), workerTask("boom"))
	require.NoError(t, err)

	result := bus.published[0].(events.WorkerTaskResult)
	require.Len(t, result.TaskRun.Attempts, 1)
	assert.Equal(t, state.Failed, result.TaskRun.Attempts[0].State.Current)
	assert.Equal(t, "out of stock", result.TaskRun.Outputs["error"])
}

func TestWorker_UnknownTypeFails(t *testing.T) {
	w, bus := testWorker(t)

	err := w.handleWorkerTask(context.Background(), workerTask("nope"))
	require.NoError(t, err)

	result := bus.published[0].(events.WorkerTaskResult)
	assert.Equal(t, state.Failed, result.TaskRun.Attempts[0].State.Current)
	assert.Contains(t, result.TaskRun.Outputs["error"], "not registered")
}

func TestWorker_TimeoutCancelsRunnable(t *testing.T) {
	w, bus := testWorker(t, &fnFactory{id: "slow", fn: func(ctx context.Context, _ RunContext) (map[string]any, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	}})

	task := workerTask("slow")
	task.Task.Timeout = flow.Duration(10 * time.Millisecond)

	err := w.handleWorkerTask(context.Background(), task)
	require.NoError(t, err)

	result := bus.published[0].(events.WorkerTaskResult)
	assert.Equal(t, state.Failed, result.TaskRun.Attempts[0].State.Current)
	assert.Equal(t, context.DeadlineExceeded.Error(), result.TaskRun.Outputs["error"])
}
