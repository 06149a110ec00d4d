package runner

import (
	"strconv"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/expression"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/state"
)

func (r *Resolver) resolveFlowable(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	switch task.Type {
	case flow.TypeSequential, flow.TypeWorkingDirectory:
		return r.resolveSequential(p, task, tr, sc)
	case flow.TypeParallel:
		return r.resolveParallel(p, task, tr, sc)
	case flow.TypeIf:
		return r.resolveIf(p, task, tr, sc)
	case flow.TypeSwitch:
		return r.resolveSwitch(p, task, tr, sc)
	case flow.TypeEachSequential, flow.TypeEachParallel:
		return r.resolveEach(p, task, tr, sc)
	case flow.TypeDag:
		return r.resolveDag(p, task, tr, sc)
	case flow.TypeLoopUntil:
		return r.resolveLoopUntil(p, task, tr, sc)
	case flow.TypePause:
		return r.resolvePause(p, task, tr, sc)
	case flow.TypeSubflow:
		return r.resolveSubflow(p, task, tr, sc)
	case flow.TypeForEachItem:
		return r.resolveForEachItem(p, task, tr, sc)
	default:
		return r.failRun(p, tr, "unknown flowable type "+task.Type)
	}
}

// startRun transitions a freshly created container run to RUNNING,
// optionally recording a one-time decision in its outputs.
func (r *Resolver) startRun(p *pass, tr *execution.TaskRun, outputs map[string]any) {
	p.res.StateChanges = append(p.res.StateChanges, StateChange{
		TaskRunID: tr.ID,
		State:     state.Running,
		Outputs:   outputs,
	})
}

// concludeRun records the terminal state of a container run and reports it
// upward in the same pass.
func (r *Resolver) concludeRun(p *pass, tr *execution.TaskRun, t state.Type, outputs map[string]any) taskOutcome {
	p.res.StateChanges = append(p.res.StateChanges, StateChange{
		TaskRunID: tr.ID,
		State:     t,
		Outputs:   outputs,
	})

	return terminal(t)
}

func (r *Resolver) failRun(p *pass, tr *execution.TaskRun, msg string) taskOutcome {
	return r.concludeRun(p, tr, state.Failed, map[string]any{"error": msg})
}

func (r *Resolver) resolveSequential(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	if tr.State.Current == state.Created {
		r.startRun(p, tr, nil)
	}

	st := r.resolveScope(p, task.Tasks, tr.ID, sc)
	if !st.done {
		return pending()
	}

	return r.concludeRun(p, tr, st.aggregate, nil)
}

func (r *Resolver) resolveParallel(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	if tr.State.Current == state.Created {
		r.startRun(p, tr, nil)
	}

	st := r.resolveParallelScope(p, task.Tasks, tr.ID, sc)
	if !st.done {
		return pending()
	}

	return r.concludeRun(p, tr, st.aggregate, nil)
}

// resolveIf renders the condition exactly once, records the decision in
// the run's outputs and materializes the unselected branch as SKIPPED.
func (r *Resolver) resolveIf(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	var condition bool

	if tr.State.Current == state.Created {
		rendered, err := expression.RenderBool(task.Condition, scopedVariables(p.vars, sc))
		if err != nil {
			return r.failRun(p, tr, err.Error())
		}

		condition = rendered
		r.startRun(p, tr, map[string]any{"condition": condition})

		skipped := task.Else
		if !condition {
			skipped = task.Then
		}

		for i := range skipped {
			r.skipTaskDeep(p, &skipped[i], tr.ID, sc)
		}
	} else {
		recorded, ok := tr.Outputs["condition"].(bool)
		if !ok {
			return r.failRun(p, tr, "if task run lost its condition decision")
		}

		condition = recorded
	}

	selected := task.Then
	if !condition {
		selected = task.Else
	}

	st := r.resolveScope(p, selected, tr.ID, sc)
	if !st.done {
		return pending()
	}

	return r.concludeRun(p, tr, st.aggregate, nil)
}

// resolveSwitch renders the switch expression exactly once, records the
// matched value and materializes every unselected branch as SKIPPED.
func (r *Resolver) resolveSwitch(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	var value string

	if tr.State.Current == state.Created {
		rendered, err := expression.RenderString(task.Condition, scopedVariables(p.vars, sc))
		if err != nil {
			return r.failRun(p, tr, err.Error())
		}

		value = rendered
		r.startRun(p, tr, map[string]any{"value": value})

		matched := false

		for i := range task.Cases {
			if task.Cases[i].Value == value {
				matched = true

				continue
			}

			for j := range task.Cases[i].Tasks {
				r.skipTaskDeep(p, &task.Cases[i].Tasks[j], tr.ID, sc)
			}
		}

		if matched {
			for i := range task.Defaults {
				r.skipTaskDeep(p, &task.Defaults[i], tr.ID, sc)
			}
		}
	} else {
		recorded, ok := tr.Outputs["value"].(string)
		if !ok {
			return r.failRun(p, tr, "switch task run lost its value decision")
		}

		value = recorded
	}

	selected := task.Defaults

	for i := range task.Cases {
		if task.Cases[i].Value == value {
			selected = task.Cases[i].Tasks

			break
		}
	}

	st := r.resolveScope(p, selected, tr.ID, sc)
	if !st.done {
		return pending()
	}

	return r.concludeRun(p, tr, st.aggregate, nil)
}

// resolveEach renders the values expression exactly once and iterates the
// child scope per item: one at a time for each-sequential, all at once
// bounded by the concurrency limit for each-parallel.
func (r *Resolver) resolveEach(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	var items []string

	if tr.State.Current == state.Created {
		rendered, err := expression.RenderItems(task.Values, scopedVariables(p.vars, sc))
		if err != nil {
			return r.failRun(p, tr, err.Error())
		}

		items = rendered
		r.startRun(p, tr, map[string]any{"values": items})
	} else {
		items = stringList(tr.Outputs["values"])
	}

	if len(items) == 0 {
		return r.concludeRun(p, tr, state.Success, nil)
	}

	if task.Type == flow.TypeEachParallel {
		return r.resolveEachParallel(p, task, tr, sc, items)
	}

	var outcomes []state.Type

	for _, item := range items {
		itemScope := scope{value: composeValue(sc.value, item), iteration: sc.iteration, item: item}

		st := r.resolveScope(p, task.Tasks, tr.ID, itemScope)
		if !st.done {
			return pending()
		}

		outcomes = append(outcomes, st.aggregate)

		if halts(st.aggregate) {
			break
		}
	}

	return r.concludeRun(p, tr, aggregateStates(outcomes), nil)
}

func (r *Resolver) resolveEachParallel(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope, items []string) taskOutcome {
	limit := task.ConcurrencyLimit

	var outcomes []state.Type

	inFlight := 0
	done := true

	for _, item := range items {
		itemScope := scope{value: composeValue(sc.value, item), iteration: sc.iteration, item: item}

		if !p.scopeStarted(task.Tasks, itemScope) && limit > 0 && inFlight >= limit {
			done = false

			continue
		}

		st := r.resolveScope(p, task.Tasks, tr.ID, itemScope)
		if !st.done {
			done = false
			inFlight++

			continue
		}

		outcomes = append(outcomes, st.aggregate)
	}

	if !done {
		return pending()
	}

	return r.concludeRun(p, tr, aggregateStates(outcomes), nil)
}

// resolveDag starts each child once all of its dependencies ended
// successfully; children behind a failed, killed or skipped dependency are
// materialized as SKIPPED instead.
func (r *Resolver) resolveDag(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	if tr.State.Current == state.Created {
		r.startRun(p, tr, nil)
	}

	var outcomes []state.Type

	done := true

	for i := range task.Tasks {
		child := &task.Tasks[i]

		if _, ok := p.findRun(child.ID, sc.value, sc.iteration); !ok {
			ready, blocked := r.dagDependencies(p, task, child, sc)
			if blocked {
				r.skipTaskDeep(p, child, tr.ID, sc)
				outcomes = append(outcomes, state.Skipped)

				continue
			}

			if !ready {
				done = false

				continue
			}
		}

		out := r.resolveTask(p, child, tr.ID, sc)
		if !out.terminal {
			done = false

			continue
		}

		outcomes = append(outcomes, effectiveState(child, out.state))
	}

	if !done {
		return pending()
	}

	return r.concludeRun(p, tr, aggregateStates(outcomes), nil)
}

// dagDependencies reports whether a dag child may start (every dependency
// ended successfully) or is permanently blocked (a dependency failed, was
// killed or was skipped).
func (r *Resolver) dagDependencies(p *pass, dag *flow.Task, child *flow.Task, sc scope) (ready, blocked bool) {
	for _, depID := range child.DependsOn {
		var dep *flow.Task

		for i := range dag.Tasks {
			if dag.Tasks[i].ID == depID {
				dep = &dag.Tasks[i]

				break
			}
		}

		if dep == nil {
			return false, true
		}

		depRun, ok := p.findRun(depID, sc.value, sc.iteration)
		if !ok || !depRun.State.Current.IsTerminal() {
			return false, false
		}

		eff := effectiveState(dep, depRun.State.Current)
		if eff == state.Skipped || halts(eff) {
			return false, true
		}
	}

	return true, false
}

// resolveLoopUntil runs the child scope once per iteration and evaluates
// the condition after each completed iteration, bounded by maxIterations
// and maxDuration.
func (r *Resolver) resolveLoopUntil(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	if tr.State.Current == state.Created {
		r.startRun(p, tr, nil)
	}

	iteration, started := p.maxChildIteration(tr.ID)
	if !started {
		iteration = 0
	}

	iterScope := scope{value: sc.value, iteration: iteration, item: sc.item}

	st := r.resolveScope(p, task.Tasks, tr.ID, iterScope)
	if !st.done {
		return pending()
	}

	if halts(st.aggregate) {
		return r.concludeRun(p, tr, st.aggregate, nil)
	}

	condition, err := expression.RenderBool(task.Condition, scopedVariables(p.vars, iterScope))
	if err != nil {
		return r.failRun(p, tr, err.Error())
	}

	if condition {
		return r.concludeRun(p, tr, st.aggregate, map[string]any{"iterations": iteration + 1})
	}

	if task.MaxIterations > 0 && iteration+1 >= task.MaxIterations {
		return r.failRun(p, tr, "loop reached max iterations without satisfying its condition")
	}

	if task.MaxDuration > 0 {
		deadline := tr.State.StartDate().Add(task.MaxDuration.D())
		if !p.now.Before(deadline) {
			return r.failRun(p, tr, "loop reached max duration without satisfying its condition")
		}

		p.res.proposeDue(deadline)
	}

	next := scope{value: sc.value, iteration: iteration + 1, item: sc.item}
	r.resolveScope(p, task.Tasks, tr.ID, next)

	return pending()
}

// resolvePause parks the run in PAUSED until a manual resume or its
// timeout, then runs the optional post-resume tasks.
func (r *Resolver) resolvePause(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	switch tr.State.Current {
	case state.Created:
		r.startRun(p, tr, nil)

		return pending()
	case state.Paused:
		if task.PauseDuration <= 0 {
			return pending()
		}

		due := tr.State.EnteredAt(state.Paused).Add(task.PauseDuration.D())
		if p.now.Before(due) {
			p.res.proposeDue(due)

			return pending()
		}

		behavior := task.OnPauseTimeout
		if behavior == "" {
			behavior = flow.PauseResume
		}

		switch behavior {
		case flow.PauseFail:
			return r.failRun(p, tr, "pause timed out")
		case flow.PauseCancel:
			return r.concludeRun(p, tr, state.Cancelled, nil)
		case flow.PauseWarn:
			p.res.StateChanges = append(p.res.StateChanges, StateChange{
				TaskRunID: tr.ID,
				State:     state.Running,
				Outputs:   map[string]any{"pause_timeout": string(flow.PauseWarn)},
			})

			return pending()
		default:
			p.res.StateChanges = append(p.res.StateChanges, StateChange{
				TaskRunID: tr.ID,
				State:     state.Running,
			})

			return pending()
		}
	case state.Running:
		if !tr.State.Visited(state.Paused) {
			p.res.StateChanges = append(p.res.StateChanges, StateChange{
				TaskRunID: tr.ID,
				State:     state.Paused,
			})

			return pending()
		}

		st := r.resolveScope(p, task.Tasks, tr.ID, sc)
		if !st.done {
			return pending()
		}

		aggregate := st.aggregate
		if aggregate == state.Success && tr.Outputs["pause_timeout"] == string(flow.PauseWarn) {
			aggregate = state.Warning
		}

		return r.concludeRun(p, tr, aggregate, nil)
	default:
		return pending()
	}
}

// resolveSubflow spawns the child execution once and, when waiting,
// concludes from the child's terminal state the executor copied into the
// run's outputs.
func (r *Resolver) resolveSubflow(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	if tr.State.Current == state.Created {
		r.startRun(p, tr, nil)

		return pending()
	}

	if _, ok := tr.Outputs["execution_id"].(string); !ok {
		inputs, err := renderInputMap(task.Subflow.Inputs, scopedVariables(p.vars, sc))
		if err != nil {
			return r.failRun(p, tr, err.Error())
		}

		p.res.Subflows = append(p.res.Subflows, SubflowRequest{
			TaskRunID: tr.ID,
			Task:      *task,
			Spec:      *task.Subflow,
			Inputs:    inputs,
		})

		return pending()
	}

	if !task.Subflow.Wait {
		return r.concludeRun(p, tr, state.Success, nil)
	}

	childState, ok := tr.Outputs["state"].(string)
	if !ok {
		return pending()
	}

	return r.concludeRun(p, tr, childOutcome(state.Type(childState), task.Subflow.TransmitFailed), nil)
}

// resolveForEachItem splits the rendered items into batches and spawns one
// child execution per batch. When the subflow waits, the run concludes
// once every batch reported its terminal state; otherwise it concludes as
// soon as every batch is spawned.
func (r *Resolver) resolveForEachItem(p *pass, task *flow.Task, tr *execution.TaskRun, sc scope) taskOutcome {
	spec := task.ForEachItem

	if tr.State.Current == state.Created {
		items, err := expression.RenderItems(spec.Items, scopedVariables(p.vars, sc))
		if err != nil {
			return r.failRun(p, tr, err.Error())
		}

		rows := spec.BatchRows
		if rows <= 0 {
			rows = 1
		}

		batches := chunk(items, rows)
		r.startRun(p, tr, map[string]any{"batches": batches, "count": len(batches)})

		return pending()
	}

	batches := batchList(tr.Outputs["batches"])
	executions, _ := tr.Outputs["executions"].(map[string]any)
	results, _ := tr.Outputs["results"].(map[string]any)

	spawning := false

	for i, batch := range batches {
		value := strconv.Itoa(i)
		if _, ok := executions[value]; ok {
			continue
		}

		inputs, err := renderInputMap(spec.Subflow.Inputs, scopedVariables(p.vars, sc))
		if err != nil {
			return r.failRun(p, tr, err.Error())
		}

		inputs["items"] = batch

		p.res.Subflows = append(p.res.Subflows, SubflowRequest{
			TaskRunID:  tr.ID,
			Task:       *task,
			Spec:       spec.Subflow,
			Inputs:     inputs,
			BatchValue: value,
			BatchItems: batch,
		})

		spawning = true
	}

	counters := iterationCounters(len(batches), executions, results)
	if !countersEqual(tr.Outputs["iterations"], counters) {
		p.res.StateChanges = append(p.res.StateChanges, StateChange{
			TaskRunID: tr.ID,
			State:     state.Running,
			Outputs:   map[string]any{"iterations": counters},
		})
	}

	if spawning {
		return pending()
	}

	if !spec.Subflow.Wait {
		// Fire-and-forget fan-out: every batch has its child spawned.
		return r.concludeRun(p, tr, state.Success, nil)
	}

	if len(results) < len(batches) {
		return pending()
	}

	var outcomes []state.Type

	for i := range batches {
		raw, _ := results[strconv.Itoa(i)].(string)
		outcomes = append(outcomes, childOutcome(state.Type(raw), spec.Subflow.TransmitFailed))
	}

	return r.concludeRun(p, tr, aggregateStates(outcomes), nil)
}

// iterationCounters derives the per-state counts across the batch
// children: a batch without a spawned child counts as CREATED, a spawned
// one without a recorded result as RUNNING, and a finished one under its
// terminal state.
func iterationCounters(batches int, executions, results map[string]any) map[string]int {
	counters := make(map[string]int, 2)

	for i := 0; i < batches; i++ {
		value := strconv.Itoa(i)

		if raw, ok := results[value].(string); ok {
			counters[raw]++

			continue
		}

		if _, ok := executions[value]; ok {
			counters[string(state.Running)]++

			continue
		}

		counters[string(state.Created)]++
	}

	return counters
}

// countersEqual compares stored iteration counters against freshly derived
// ones. Stored values come back as float64 after a JSON round trip.
func countersEqual(stored any, counters map[string]int) bool {
	switch have := stored.(type) {
	case map[string]int:
		if len(have) != len(counters) {
			return false
		}

		for k, v := range counters {
			if have[k] != v {
				return false
			}
		}

		return true
	case map[string]any:
		if len(have) != len(counters) {
			return false
		}

		for k, v := range counters {
			n, ok := have[k].(float64)
			if !ok || int(n) != v {
				return false
			}
		}

		return true
	default:
		return false
	}
}

// childOutcome maps a child execution's terminal state onto its parent
// task run. Failures are only propagated when transmitFailed is set.
func childOutcome(child state.Type, transmitFailed bool) state.Type {
	switch child {
	case state.Success:
		return state.Success
	case state.Warning:
		return state.Warning
	case state.Failed, state.Killed, state.Cancelled:
		if transmitFailed {
			return child
		}

		return state.Success
	default:
		return state.Failed
	}
}

// renderInputMap renders every string value of a subflow input map through
// the expression engine, passing other values through untouched.
func renderInputMap(inputs map[string]any, vars map[string]any) (map[string]any, error) {
	rendered := make(map[string]any, len(inputs)+1)

	for key, value := range inputs {
		template, ok := value.(string)
		if !ok {
			rendered[key] = value

			continue
		}

		out, err := expression.RenderAny(template, vars)
		if err != nil {
			return nil, err
		}

		rendered[key] = out
	}

	return rendered, nil
}

func chunk(items []string, size int) [][]string {
	var batches [][]string

	for len(items) > size {
		batches = append(batches, items[:size])
		items = items[size:]
	}

	if len(items) > 0 {
		batches = append(batches, items)
	}

	return batches
}

// maxChildIteration returns the highest iteration index among the runs
// owned by the given parent, including runs created earlier in this pass.
func (p *pass) maxChildIteration(parentRunID string) (int, bool) {
	maxIter := 0
	found := false

	scan := func(tr *execution.TaskRun) {
		if tr.ParentTaskRunID != parentRunID {
			return
		}

		found = true

		if tr.Iteration > maxIter {
			maxIter = tr.Iteration
		}
	}

	for i := range p.ex.TaskRunList {
		scan(&p.ex.TaskRunList[i])
	}

	for i := range p.res.NewTaskRuns {
		scan(&p.res.NewTaskRuns[i])
	}

	return maxIter, found
}

// stringList coerces a recorded outputs value back into a string slice
// after a JSON round trip.
func stringList(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

func batchList(value any) [][]string {
	switch v := value.(type) {
	case [][]string:
		return v
	case []any:
		out := make([][]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringList(item))
		}

		return out
	default:
		return nil
	}
}
