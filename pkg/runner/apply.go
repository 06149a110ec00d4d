package runner

import (
	"fmt"

	"github.com/kestrelflow/kestrel/pkg/execution"
)

// Apply merges a result's task run mutations into the execution document.
// It is idempotent: a run instance that already exists is not duplicated
// and a state change that already took effect only re-merges its outputs.
// Worker dispatches, subflow requests and the execution state change are
// the executor's responsibility.
func Apply(ex *execution.Execution, res *Result) error {
	for _, tr := range res.NewTaskRuns {
		if _, ok := ex.FindTaskRunByTask(tr.TaskID, tr.Value, tr.Iteration); ok {
			continue
		}

		ex.AddTaskRun(tr)
	}

	for _, change := range res.StateChanges {
		tr, err := ex.FindTaskRun(change.TaskRunID)
		if err != nil {
			return fmt.Errorf("applying state change: %w", err)
		}

		if tr.State.Current != change.State {
			next, err := tr.State.WithState(change.State)
			if err != nil {
				return fmt.Errorf("applying state change to task run %s: %w", tr.ID, err)
			}

			tr.State = next
		}

		if len(change.Outputs) > 0 {
			if tr.Outputs == nil {
				tr.Outputs = make(map[string]any, len(change.Outputs))
			}

			for k, v := range change.Outputs {
				tr.Outputs[k] = v
			}
		}
	}

	return nil
}
