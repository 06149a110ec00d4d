// Package runner implements the task tree resolver: the pure function
// that, given a flow definition and an execution snapshot, computes the
// next set of task run mutations. It never persists or publishes; the
// executor applies its result and re-invokes until a fixpoint.
package runner

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/state"
)

// StateChange transitions one task run to a new state and merges outputs
// into it.
type StateChange struct {
	TaskRunID string
	State     state.Type
	Outputs   map[string]any
}

// WorkerDispatch asks the executor to hand a leaf task run to the worker
// pool. The executor transitions the run to RUNNING when it emits the
// message.
type WorkerDispatch struct {
	TaskRunID string
	Task      flow.Task
	Variables map[string]any
}

// SubflowRequest asks the executor to spawn a child execution for a
// subflow or for-each-item batch task run. The executor records the
// spawned execution id in the task run's outputs, which makes the request
// idempotent under redelivery.
type SubflowRequest struct {
	TaskRunID string
	Task      flow.Task
	Spec      flow.SubflowSpec
	Inputs    map[string]any
	// BatchValue and BatchItems are set for for-each-item batches.
	BatchValue string
	BatchItems []string
}

// SLAViolation reports an exceeded max-duration SLA.
type SLAViolation struct {
	SLA *flow.SLA
}

// Result is the set of mutations the resolver derived from one snapshot.
// Resolving the same snapshot again yields the same result, which is what
// makes the apply loop safe under at-least-once delivery.
type Result struct {
	NewTaskRuns    []execution.TaskRun
	StateChanges   []StateChange
	WorkerTasks    []WorkerDispatch
	Subflows       []SubflowRequest
	ExecutionState *state.Type
	SLAViolation   *SLAViolation
	// NextDue is the earliest instant a time-based re-check is needed:
	// pause timeouts, retry backoffs, loop deadlines and SLA deadlines.
	NextDue *time.Time
}

// Empty reports whether applying the result would change nothing.
func (r *Result) Empty() bool {
	return len(r.NewTaskRuns) == 0 && len(r.StateChanges) == 0 &&
		len(r.WorkerTasks) == 0 && len(r.Subflows) == 0 &&
		r.ExecutionState == nil && r.SLAViolation == nil
}

func (r *Result) proposeDue(due time.Time) {
	if r.NextDue == nil || due.Before(*r.NextDue) {
		r.NextDue = &due
	}
}

// pass carries the per-invocation snapshot through the scope recursion.
type pass struct {
	f    *flow.Flow
	ex   *execution.Execution
	res  *Result
	vars map[string]any
	now  time.Time
}

// findRun locates the task run instance for (taskID, value, iteration),
// looking at the snapshot first and then at runs created earlier in this
// same pass.
func (p *pass) findRun(taskID, value string, iteration int) (*execution.TaskRun, bool) {
	if tr, ok := p.ex.FindTaskRunByTask(taskID, value, iteration); ok {
		return tr, true
	}

	for i := range p.res.NewTaskRuns {
		tr := &p.res.NewTaskRuns[i]
		if tr.TaskID == taskID && tr.Value == value && tr.Iteration == iteration {
			return tr, true
		}
	}

	return nil, false
}

// Resolver computes execution state transitions. It is stateless and safe
// for concurrent use across executions.
type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve computes the next mutations for the execution. Only RUNNING
// executions progress their task tree; terminal executions only progress
// the afterExecution hook, which can no longer alter the execution state.
func (r *Resolver) Resolve(f *flow.Flow, ex *execution.Execution) (*Result, error) {
	res := &Result{}
	p := &pass{f: f, ex: ex, res: res, vars: BuildVariables(f, ex), now: time.Now().UTC()}

	if ex.State.Current.IsTerminal() {
		if len(f.AfterExecution) > 0 {
			r.resolveScope(p, f.AfterExecution, "", rootScope())
		}

		return res, nil
	}

	// PAUSED executions keep resolving so pause timeouts can fire.
	if ex.State.Current != state.Running && ex.State.Current != state.Paused {
		return res, nil
	}

	if violated := r.checkSLA(p); violated {
		return res, nil
	}

	main := r.resolveScope(p, f.Tasks, "", rootScope())
	if !main.done {
		r.reconcilePauseState(p)

		return res, nil
	}

	// Main scope is terminal: run the errors hook on failure, then the
	// finally hook in both outcomes, before concluding the execution.
	final := main.aggregate

	if final == state.Failed && len(f.Errors) > 0 {
		errScope := r.resolveScope(p, f.Errors, "", rootScope())
		if !errScope.done {
			return res, nil
		}
	}

	if len(f.Finally) > 0 {
		finScope := r.resolveScope(p, f.Finally, "", rootScope())
		if !finScope.done {
			return res, nil
		}

		if finScope.aggregate == state.Failed || finScope.aggregate == state.Killed {
			final = finScope.aggregate
		} else if finScope.aggregate == state.Warning && final == state.Success {
			final = state.Warning
		}
	}

	if !res.Empty() {
		// Mutations first; conclude on a later pass once they applied.
		return res, nil
	}

	if ex.State.Current != final {
		res.ExecutionState = &final
	}

	return res, nil
}

// reconcilePauseState mirrors paused task runs onto the execution state:
// a PAUSED run quiesces the execution until a resume event or a pause
// timeout, and an execution whose runs all resumed goes back to RUNNING.
func (r *Resolver) reconcilePauseState(p *pass) {
	if !p.res.Empty() {
		return
	}

	anyPaused := false

	for i := range p.ex.TaskRunList {
		if p.ex.TaskRunList[i].State.Current == state.Paused {
			anyPaused = true

			break
		}
	}

	if anyPaused && p.ex.State.Current == state.Running {
		paused := state.Paused
		p.res.ExecutionState = &paused
	}

	if !anyPaused && p.ex.State.Current == state.Paused {
		running := state.Running
		p.res.ExecutionState = &running
	}
}

func (r *Resolver) checkSLA(p *pass) bool {
	sla := p.f.MaxDurationSLA()
	if sla == nil {
		return false
	}

	deadline := p.ex.State.StartDate().Add(sla.MaxDuration.D())
	if p.now.Before(deadline) {
		p.res.proposeDue(deadline)

		return false
	}

	if sla.Behavior == flow.SLALabel {
		// Labeling does not stop the execution; report the violation at
		// most once and keep resolving.
		if !labelsApplied(p.ex.Labels, sla.Labels) {
			p.res.SLAViolation = &SLAViolation{SLA: sla}
		}

		return false
	}

	p.res.SLAViolation = &SLAViolation{SLA: sla}

	return true
}

func labelsApplied(have map[string]string, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}

	return true
}

// ConcludeLeaf decides the final task run state from a finished worker
// attempt, applying the task's retry policy. It returns the state to
// transition to and, when retrying, the instant the next attempt is due
// together with the outputs recording it.
func (r *Resolver) ConcludeLeaf(task *flow.Task, tr *execution.TaskRun, attemptState state.Type) (state.Type, *time.Time, map[string]any) {
	switch attemptState {
	case state.Success:
		return state.Success, nil, nil
	case state.Warning:
		if task.AllowWarning {
			return state.Success, nil, nil
		}

		return state.Warning, nil, nil
	case state.Failed:
		if task.Retry != nil && !task.Retry.Exhausted(tr.AttemptCount(), firstAttemptDate(tr)) {
			due := time.Now().UTC().Add(task.Retry.NextDelay(tr.AttemptCount()))
			outputs := map[string]any{
				"retry": map[string]any{
					"due":     due.Format(time.RFC3339Nano),
					"attempt": tr.AttemptCount(),
				},
			}

			return state.Retrying, &due, outputs
		}

		return state.Failed, nil, nil
	case state.Killed:
		return state.Killed, nil, nil
	default:
		r.logger.Warn("Unexpected attempt state, treating as failure",
			"task_id", task.ID, "state", attemptState)

		return state.Failed, nil, nil
	}
}

func firstAttemptDate(tr *execution.TaskRun) time.Time {
	if len(tr.Attempts) == 0 {
		return time.Time{}
	}

	return tr.Attempts[0].State.StartDate()
}

// RetryDue reads the pending retry deadline a ConcludeLeaf decision stored
// on the task run.
func RetryDue(tr *execution.TaskRun) (time.Time, error) {
	retry, ok := tr.Outputs["retry"].(map[string]any)
	if !ok {
		return time.Time{}, fmt.Errorf("task run %s has no retry outputs", tr.ID)
	}

	raw, ok := retry["due"].(string)
	if !ok {
		return time.Time{}, fmt.Errorf("task run %s has no retry due date", tr.ID)
	}

	return time.Parse(time.RFC3339Nano, raw)
}
