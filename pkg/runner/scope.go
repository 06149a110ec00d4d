package runner

import (
	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/expression"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/state"
)

// scope identifies one iteration context of the task tree. Iterating
// containers compose their item into the parent value, so every task run
// instance is addressed by (task id, value, iteration).
type scope struct {
	value     string
	iteration int
	item      string
}

func rootScope() scope {
	return scope{}
}

// composeValue nests an iteration item under the enclosing scope's value.
func composeValue(parent, item string) string {
	if parent == "" {
		return item
	}

	return parent + "-" + item
}

// scopeStatus is the resolution outcome of one ordered task list. The
// aggregate is only meaningful when done.
type scopeStatus struct {
	done      bool
	aggregate state.Type
}

// resolveScope resolves an ordered task list with sequential semantics:
// each task starts only after its predecessor reached a terminal state,
// and a halting outcome (unallowed failure, kill, cancel) ends the scope
// without materializing the remaining tasks.
func (r *Resolver) resolveScope(p *pass, tasks []flow.Task, parentRunID string, sc scope) scopeStatus {
	var outcomes []state.Type

	for i := range tasks {
		task := &tasks[i]

		out := r.resolveTask(p, task, parentRunID, sc)
		if !out.terminal {
			return scopeStatus{}
		}

		eff := effectiveState(task, out.state)
		outcomes = append(outcomes, eff)

		if halts(eff) {
			break
		}
	}

	return scopeStatus{done: true, aggregate: aggregateStates(outcomes)}
}

// resolveParallelScope resolves every task of the list concurrently and
// is done once all of them are terminal.
func (r *Resolver) resolveParallelScope(p *pass, tasks []flow.Task, parentRunID string, sc scope) scopeStatus {
	var outcomes []state.Type

	done := true

	for i := range tasks {
		task := &tasks[i]

		out := r.resolveTask(p, task, parentRunID, sc)
		if !out.terminal {
			done = false

			continue
		}

		outcomes = append(outcomes, effectiveState(task, out.state))
	}

	if !done {
		return scopeStatus{}
	}

	return scopeStatus{done: true, aggregate: aggregateStates(outcomes)}
}

// scopeStarted reports whether the first task of a scope already has a run
// instance, without creating one. Used by each-parallel to count in-flight
// iterations against the concurrency limit.
func (p *pass) scopeStarted(tasks []flow.Task, sc scope) bool {
	if len(tasks) == 0 {
		return false
	}

	_, ok := p.findRun(tasks[0].ID, sc.value, sc.iteration)

	return ok
}

// taskOutcome is the resolution status of one task instance.
type taskOutcome struct {
	terminal bool
	state    state.Type
}

func pending() taskOutcome {
	return taskOutcome{}
}

func terminal(t state.Type) taskOutcome {
	return taskOutcome{terminal: true, state: t}
}

// resolveTask progresses one task instance inside the given scope:
// creates its run when due, dispatches leaves, descends into flowables
// and reports the terminal state once reached.
func (r *Resolver) resolveTask(p *pass, task *flow.Task, parentRunID string, sc scope) taskOutcome {
	tr, ok := p.findRun(task.ID, sc.value, sc.iteration)
	if !ok {
		return r.createTaskRun(p, task, parentRunID, sc)
	}

	if tr.State.Current.IsTerminal() {
		return terminal(tr.State.Current)
	}

	if task.IsFlowable() {
		return r.resolveFlowable(p, task, tr, sc)
	}

	return r.resolveLeaf(p, task, tr, sc)
}

// createTaskRun materializes the run for a task whose turn has come,
// evaluating its runIf guard first.
func (r *Resolver) createTaskRun(p *pass, task *flow.Task, parentRunID string, sc scope) taskOutcome {
	if task.RunIf != "" {
		run, err := expression.RenderBool(task.RunIf, scopedVariables(p.vars, sc))
		if err != nil {
			tr := execution.NewTaskRun(task.ID, parentRunID, sc.value, sc.iteration)
			p.res.NewTaskRuns = append(p.res.NewTaskRuns, tr)
			p.res.StateChanges = append(p.res.StateChanges, StateChange{
				TaskRunID: tr.ID,
				State:     state.Failed,
				Outputs:   map[string]any{"error": err.Error()},
			})

			return pending()
		}

		if !run {
			r.skipTaskDeep(p, task, parentRunID, sc)

			return terminal(state.Skipped)
		}
	}

	tr := execution.NewTaskRun(task.ID, parentRunID, sc.value, sc.iteration)
	p.res.NewTaskRuns = append(p.res.NewTaskRuns, tr)

	return pending()
}

// skipTaskDeep materializes SKIPPED runs for a task and its whole declared
// subtree, keeping run accounting symmetric with executed branches.
func (r *Resolver) skipTaskDeep(p *pass, task *flow.Task, parentRunID string, sc scope) {
	tr := execution.NewSkippedTaskRun(task.ID, parentRunID, sc.value, sc.iteration)
	p.res.NewTaskRuns = append(p.res.NewTaskRuns, tr)

	for _, branch := range task.Branches() {
		for i := range branch {
			r.skipTaskDeep(p, &branch[i], tr.ID, sc)
		}
	}
}

// resolveLeaf progresses a leaf run: dispatch on CREATED, re-dispatch a
// due retry, otherwise wait for the worker result.
func (r *Resolver) resolveLeaf(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	switch tr.State.Current {
	case state.Created:
		p.res.WorkerTasks = append(p.res.WorkerTasks, WorkerDispatch{
			TaskRunID: tr.ID,
			Task:      *task,
			Variables: scopedVariables(p.vars, sc),
		})

		return pending()
	case state.Retrying:
		due, err := RetryDue(tr)
		if err != nil {
			r.logger.Warn("Retrying task run without a due date, re-dispatching",
				"task_run_id", tr.ID, "error", err)

			due = p.now
		}

		if p.now.Before(due) {
			p.res.proposeDue(due)

			return pending()
		}

		p.res.WorkerTasks = append(p.res.WorkerTasks, WorkerDispatch{
			TaskRunID: tr.ID,
			Task:      *task,
			Variables: scopedVariables(p.vars, sc),
		})

		return pending()
	default:
		return pending()
	}
}

// halts reports whether a terminal outcome stops a sequential scope from
// starting the remaining tasks.
func halts(t state.Type) bool {
	switch t {
	case state.Failed, state.Killed, state.Cancelled:
		return true
	default:
		return false
	}
}
