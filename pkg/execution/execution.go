// Package execution defines the runtime model of a flow run: the execution
// document, its flat task run list and the labels propagated to descendant
// executions.
package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/state"
)

// System labels.
const (
	LabelCorrelationID = "kestrel.io/correlation-id"
	LabelReplayed      = "kestrel.io/replayed"
	LabelReplayOf      = "kestrel.io/replay-of"
)

// ErrTaskRunNotFound is returned by lookups for unknown task run ids.
var ErrTaskRunNotFound = errors.New("task run not found")

// TriggerInfo records which trigger created the execution and the
// variables it contributed (e.g. schedule dates or upstream execution
// metadata).
type TriggerInfo struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Execution is one run instance of a flow revision.
type Execution struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenant_id,omitempty"`
	Namespace    string `json:"namespace"`
	FlowID       string `json:"flow_id"`
	FlowRevision int    `json:"flow_revision"`

	State       state.State `json:"state"`
	TaskRunList []TaskRun   `json:"task_run_list,omitempty"`

	Labels    map[string]string `json:"labels,omitempty"`
	Inputs    map[string]any    `json:"inputs,omitempty"`
	Outputs   map[string]any    `json:"outputs,omitempty"`
	Variables map[string]any    `json:"variables,omitempty"`

	// ParentID and OriginalID are set when the execution was created by a
	// subflow spawn, a replay or a restart.
	ParentID   string `json:"parent_id,omitempty"`
	OriginalID string `json:"original_id,omitempty"`

	// ScheduleDate holds the execution at CREATED until reached.
	ScheduleDate *time.Time `json:"schedule_date,omitempty"`

	Trigger *TriggerInfo `json:"trigger,omitempty"`
}

// New creates a CREATED execution of the given flow. The correlation id
// label defaults to the execution's own id; spawned children inherit it
// from the parent instead.
func New(f *flow.Flow, inputs map[string]any, labels map[string]string) *Execution {
	id := uuid.New().String()

	merged := make(map[string]string, len(f.Labels)+len(labels)+1)
	for k, v := range f.Labels {
		merged[k] = v
	}

	for k, v := range labels {
		merged[k] = v
	}

	if _, ok := merged[LabelCorrelationID]; !ok {
		merged[LabelCorrelationID] = id
	}

	return &Execution{
		ID:           id,
		TenantID:     f.TenantID,
		Namespace:    f.Namespace,
		FlowID:       f.ID,
		FlowRevision: f.Revision,
		State:        state.New(state.Created),
		Labels:       merged,
		Inputs:       inputs,
		Variables:    map[string]any{},
	}
}

// CorrelationID returns the correlation label, falling back to the
// execution's own id.
func (e *Execution) CorrelationID() string {
	if id, ok := e.Labels[LabelCorrelationID]; ok {
		return id
	}

	return e.ID
}

// FindTaskRun returns the task run with the given id.
func (e *Execution) FindTaskRun(id string) (*TaskRun, error) {
	for i := range e.TaskRunList {
		if e.TaskRunList[i].ID == id {
			return &e.TaskRunList[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrTaskRunNotFound, id)
}

// FindTaskRunByTask returns the task run instance for (taskID, value,
// iteration), the triple that uniquely identifies one instance of a task.
func (e *Execution) FindTaskRunByTask(taskID, value string, iteration int) (*TaskRun, bool) {
	for i := range e.TaskRunList {
		tr := &e.TaskRunList[i]
		if tr.TaskID == taskID && tr.Value == value && tr.Iteration == iteration {
			return tr, true
		}
	}

	return nil, false
}

// TaskRunsByTask returns every instance of the given task across
// iterations, in creation order.
func (e *Execution) TaskRunsByTask(taskID string) []*TaskRun {
	var out []*TaskRun

	for i := range e.TaskRunList {
		if e.TaskRunList[i].TaskID == taskID {
			out = append(out, &e.TaskRunList[i])
		}
	}

	return out
}

// ChildTaskRuns returns the task runs owned by the given parent run.
func (e *Execution) ChildTaskRuns(parentTaskRunID string) []*TaskRun {
	var out []*TaskRun

	for i := range e.TaskRunList {
		if e.TaskRunList[i].ParentTaskRunID == parentTaskRunID {
			out = append(out, &e.TaskRunList[i])
		}
	}

	return out
}

// RootTaskRuns returns the task runs with no parent.
func (e *Execution) RootTaskRuns() []*TaskRun {
	return e.ChildTaskRuns("")
}

// AddTaskRun appends a task run to the flat list.
func (e *Execution) AddTaskRun(tr TaskRun) {
	e.TaskRunList = append(e.TaskRunList, tr)
}

// UpdateTaskRun replaces the task run with the same id.
func (e *Execution) UpdateTaskRun(tr TaskRun) error {
	for i := range e.TaskRunList {
		if e.TaskRunList[i].ID == tr.ID {
			e.TaskRunList[i] = tr

			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrTaskRunNotFound, tr.ID)
}

// HasNonTerminalTaskRuns reports whether any task run is still live.
func (e *Execution) HasNonTerminalTaskRuns() bool {
	for i := range e.TaskRunList {
		if !e.TaskRunList[i].State.Current.IsTerminal() {
			return true
		}
	}

	return false
}

// WithState appends a state transition, enforcing the legal transition
// table.
func (e *Execution) WithState(t state.Type) error {
	next, err := e.State.WithState(t)
	if err != nil {
		return fmt.Errorf("execution %s: %w", e.ID, err)
	}

	e.State = next

	return nil
}
