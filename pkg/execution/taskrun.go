package execution

import (
	"github.com/google/uuid"

	"github.com/kestrelflow/kestrel/pkg/state"
)

// Attempt is one independent try of a task run. Retries append attempts;
// earlier attempts are never rewritten.
type Attempt struct {
	State   state.State    `json:"state"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// TaskRun is the runtime instance of a task within one execution. Task
// runs are stored in the execution's flat ordered list with an explicit
// parent id rather than as an object graph.
type TaskRun struct {
	ID              string `json:"id"`
	TaskID          string `json:"task_id"`
	ParentTaskRunID string `json:"parent_task_run_id,omitempty"`

	// Value is the iteration key assigned by an iterating container; it
	// disambiguates sibling instances of the same task across iterations.
	Value     string `json:"value,omitempty"`
	Iteration int    `json:"iteration,omitempty"`

	State    state.State    `json:"state"`
	Attempts []Attempt      `json:"attempts,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`
}

// NewTaskRun creates a CREATED task run for the given task instance.
func NewTaskRun(taskID, parentTaskRunID, value string, iteration int) TaskRun {
	return TaskRun{
		ID:              uuid.New().String(),
		TaskID:          taskID,
		ParentTaskRunID: parentTaskRunID,
		Value:           value,
		Iteration:       iteration,
		State:           state.New(state.Created),
	}
}

// NewSkippedTaskRun materializes an unselected branch task directly in
// SKIPPED state so task run accounting stays symmetric with the selected
// branch.
func NewSkippedTaskRun(taskID, parentTaskRunID, value string, iteration int) TaskRun {
	return TaskRun{
		ID:              uuid.New().String(),
		TaskID:          taskID,
		ParentTaskRunID: parentTaskRunID,
		Value:           value,
		Iteration:       iteration,
		State:           state.New(state.Skipped),
	}
}

// LastAttempt returns the most recent attempt, or nil when none exists.
func (tr *TaskRun) LastAttempt() *Attempt {
	if len(tr.Attempts) == 0 {
		return nil
	}

	return &tr.Attempts[len(tr.Attempts)-1]
}

// AttemptCount returns how many attempts were made.
func (tr *TaskRun) AttemptCount() int {
	return len(tr.Attempts)
}
