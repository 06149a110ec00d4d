// Package restart implements the two recovery operations on finished
// executions: restarting a failed execution in place, and replaying an
// execution as a brand-new one linked back to the original.
package restart

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/state"
)

var (
	// ErrNotRestartable is returned when the execution is not in a state
	// a restart can leave.
	ErrNotRestartable = errors.New("execution is not restartable")

	// ErrNotReplayable is returned when the execution has not finished
	// yet.
	ErrNotReplayable = errors.New("execution is not replayable")
)

// Restart revives a FAILED, KILLED or CANCELLED execution in place:
// successful and skipped task runs are kept, every other run is reset to
// CREATED with its attempt history retained so the next worker attempt
// appends after the recorded failure, and the descendants of reset runs
// are pruned for the resolver to recreate. The same execution id keeps
// its history, labels and correlation.
func Restart(ex *execution.Execution) error {
	if !ex.State.Current.CanTransitionTo(state.Restarted) {
		return fmt.Errorf("%w: execution %s is %s", ErrNotRestartable, ex.ID, ex.State.Current)
	}

	reset := make(map[string]bool, len(ex.TaskRunList))

	for i := range ex.TaskRunList {
		tr := &ex.TaskRunList[i]

		switch tr.State.Current {
		case state.Success, state.Skipped:
		default:
			reset[tr.ID] = true
		}
	}

	parents := parentIndex(ex)
	kept := ex.TaskRunList[:0]

	for i := range ex.TaskRunList {
		tr := ex.TaskRunList[i]

		if hasAncestorIn(tr.ID, parents, reset) {
			// Pruned: the reset ancestor recreates its subtree.
			continue
		}

		if reset[tr.ID] {
			tr.State = state.New(state.Created)
			tr.Outputs = nil
		}

		kept = append(kept, tr)
	}

	ex.TaskRunList = kept

	next, err := ex.State.WithState(state.Restarted)
	if err != nil {
		return fmt.Errorf("restarting execution %s: %w", ex.ID, err)
	}

	ex.State = next

	return nil
}

// Replay clones a finished execution into a new one with the same flow
// revision, inputs and labels. With an empty task run id the clone starts
// from scratch. With a task run id, the chosen run and its subtree are
// dropped for re-execution, its ancestors are reset so the resolver
// re-enters them, and every other run is inherited unchanged. The clone
// is linked back through its labels and OriginalID; the original
// execution is untouched.
func Replay(original *execution.Execution, taskRunID string) (*execution.Execution, error) {
	if !original.State.Current.IsTerminal() {
		return nil, fmt.Errorf("%w: execution %s is still %s", ErrNotReplayable,
			original.ID, original.State.Current)
	}

	var inherited []execution.TaskRun

	if taskRunID != "" {
		if _, err := original.FindTaskRun(taskRunID); err != nil {
			return nil, fmt.Errorf("replaying execution %s: %w", original.ID, err)
		}

		inherited = replayRuns(original, taskRunID)
	}

	clone := &execution.Execution{
		ID:           uuid.New().String(),
		TenantID:     original.TenantID,
		Namespace:    original.Namespace,
		FlowID:       original.FlowID,
		FlowRevision: original.FlowRevision,
		State:        state.New(state.Created),
		TaskRunList:  inherited,
		Labels:       make(map[string]string, len(original.Labels)+2),
		Inputs:       original.Inputs,
		Variables:    map[string]any{},
		OriginalID:   originalOf(original),
		Trigger:      original.Trigger,
	}

	for k, v := range original.Labels {
		clone.Labels[k] = v
	}

	clone.Labels[execution.LabelReplayed] = "true"
	clone.Labels[execution.LabelReplayOf] = original.ID

	return clone, nil
}

// replayRuns copies the original's task runs for a rooted replay. The
// chosen run and everything beneath it are left out, ancestors of the
// chosen run are reset so the resolver descends into them again, and the
// remaining runs carry over as-is.
func replayRuns(original *execution.Execution, taskRunID string) []execution.TaskRun {
	parents := parentIndex(original)

	ancestors := map[string]bool{}
	for pid := parents[taskRunID]; pid != ""; pid = parents[pid] {
		ancestors[pid] = true
	}

	chosen := map[string]bool{taskRunID: true}

	var runs []execution.TaskRun

	for i := range original.TaskRunList {
		tr := original.TaskRunList[i]

		if chosen[tr.ID] || hasAncestorIn(tr.ID, parents, chosen) {
			continue
		}

		if ancestors[tr.ID] {
			tr.State = state.New(state.Created)
			tr.Outputs = nil
			tr.Attempts = nil
		}

		runs = append(runs, tr)
	}

	return runs
}

// originalOf follows an existing replay chain back to its root so every
// replay of a replay still points at the first execution.
func originalOf(ex *execution.Execution) string {
	if ex.OriginalID != "" {
		return ex.OriginalID
	}

	return ex.ID
}

func parentIndex(ex *execution.Execution) map[string]string {
	parents := make(map[string]string, len(ex.TaskRunList))

	for i := range ex.TaskRunList {
		parents[ex.TaskRunList[i].ID] = ex.TaskRunList[i].ParentTaskRunID
	}

	return parents
}

// hasAncestorIn reports whether any ancestor of the run is in the set.
func hasAncestorIn(id string, parents map[string]string, set map[string]bool) bool {
	for pid := parents[id]; pid != ""; pid = parents[pid] {
		if set[pid] {
			return true
		}
	}

	return false
}
