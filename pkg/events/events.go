// Package events defines the typed messages exchanged between the
// executor, the workers and the scheduler over the queue.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/state"
)

type EventType string

// Topics. Executions are keyed by execution id so all messages for one
// execution land on the same partition, giving the executor an effective
// single-writer discipline per execution.
const (
	ExecutionTopic  = "kestrel.executions"
	WorkerTaskTopic = "kestrel.workertasks"
	KillTopic       = "kestrel.kills"
)

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"
const EventDueMetadataKey = "due"

const (
	ExecutionUpdatedEvent  EventType = "execution.updated"
	ExecutionResumedEvent  EventType = "execution.resumed"
	ExecutionRecheckEvent  EventType = "execution.recheck"
	ExecutionKilledEvent   EventType = "execution.killed"
	ExecutionFinishedEvent EventType = "execution.finished"

	WorkerTaskEvent       EventType = "workertask.ready"
	WorkerTaskResultEvent EventType = "workertask.result"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// ExecutionUpdated carries the full execution snapshot. The executor
// consumes it to reconcile the execution's next legal state.
type ExecutionUpdated struct {
	BaseEvent

	Execution *execution.Execution `json:"execution"`
}

func (e ExecutionUpdated) GetType() EventType { return ExecutionUpdatedEvent }

// ExecutionResumed asks the executor to resume a paused execution,
// optionally supplying externally collected inputs and a target state.
type ExecutionResumed struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	TargetState state.Type     `json:"target_state"`
	OnResume    map[string]any `json:"on_resume,omitempty"`
	ResumedBy   string         `json:"resumed_by,omitempty"`
}

func (e ExecutionResumed) GetType() EventType { return ExecutionResumedEvent }

// ExecutionRecheck re-enters the resolver at a due instant: pause
// timeouts, retry backoffs, SLA deadlines and schedule dates are all
// enforced by time-based re-checks instead of blocking timers.
type ExecutionRecheck struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	Due         time.Time `json:"due"`
}

func (e ExecutionRecheck) GetType() EventType { return ExecutionRecheckEvent }

// ExecutionKilled requests cooperative termination. It is an event, not
// persisted state.
type ExecutionKilled struct {
	BaseEvent

	ExecutionID       string `json:"execution_id"`
	CascadeToChildren bool   `json:"cascade_to_children"`
}

func (e ExecutionKilled) GetType() EventType { return ExecutionKilledEvent }

// ExecutionFinished notifies that an execution reached a terminal state.
// Consumed by flow-listener triggers and waiting sub-flow parents.
type ExecutionFinished struct {
	BaseEvent

	Execution *execution.Execution `json:"execution"`
}

func (e ExecutionFinished) GetType() EventType { return ExecutionFinishedEvent }

// WorkerTask dispatches one leaf task run to the worker pool.
type WorkerTask struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	TaskRun     execution.TaskRun `json:"task_run"`
	Task        flow.Task         `json:"task"`
	Variables   map[string]any    `json:"variables,omitempty"`
}

func (e WorkerTask) GetType() EventType { return WorkerTaskEvent }

// WorkerTaskResult reports the outcome of a leaf task run attempt back to
// the executor.
type WorkerTaskResult struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	TaskRun     execution.TaskRun `json:"task_run"`
	WorkerID    string            `json:"worker_id,omitempty"`
}

func (e WorkerTaskResult) GetType() EventType { return WorkerTaskResultEvent }

// TopicFor maps an event type to the topic it is published on.
func TopicFor(t EventType) string {
	switch t {
	case WorkerTaskEvent:
		return WorkerTaskTopic
	case ExecutionKilledEvent:
		return KillTopic
	default:
		return ExecutionTopic
	}
}
