// Package executor drives executions through their lifecycle. It consumes
// execution events from the queue, invokes the resolver until a fixpoint,
// applies the resulting mutations, persists the execution document and
// publishes worker dispatches and follow-up events. The resolver stays
// pure; every side effect lives here.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelflow/kestrel/pkg/admission"
	"github.com/kestrelflow/kestrel/pkg/events"
	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/queue"
	"github.com/kestrelflow/kestrel/pkg/repository"
	"github.com/kestrelflow/kestrel/pkg/runner"
	"github.com/kestrelflow/kestrel/pkg/state"
	"github.com/kestrelflow/kestrel/pkg/subflow"
)

// maxResolvePasses bounds the apply loop per event. A run that needs more
// passes simply continues on the next event for the execution.
const maxResolvePasses = 16

// SLA violation labels.
const (
	LabelSLAViolation = "kestrel.io/sla-violation"
)

type Executor struct {
	id         string
	logger     *slog.Logger
	flows      repository.FlowRepository
	executions repository.ExecutionRepository
	resolver   *runner.Resolver
	admission  *admission.Controller
	subflows   *subflow.Coordinator
	bus        queue.EventBus
	rechecks   *recheckTimers
}

func New(
	id string,
	flows repository.FlowRepository,
	executions repository.ExecutionRepository,
	controller *admission.Controller,
	coordinator *subflow.Coordinator,
	bus queue.EventBus,
	logger *slog.Logger,
) *Executor {
	logger = logger.With("module", "executor", "executor_id", id)

	return &Executor{
		id:         id,
		logger:     logger,
		flows:      flows,
		executions: executions,
		resolver:   runner.NewResolver(logger),
		admission:  controller,
		subflows:   coordinator,
		bus:        bus,
		rechecks:   newRecheckTimers(),
	}
}

// Start registers the event handlers and subscribes to the execution and
// kill topics, then blocks until the context is cancelled.
func (e *Executor) Start(ctx context.Context) error {
	e.bus.Handle(events.ExecutionUpdatedEvent, e.handleExecutionUpdated)
	e.bus.Handle(events.ExecutionResumedEvent, e.handleExecutionResumed)
	e.bus.Handle(events.ExecutionRecheckEvent, e.handleExecutionRecheck)
	e.bus.Handle(events.ExecutionFinishedEvent, e.handleExecutionFinished)
	e.bus.Handle(events.WorkerTaskResultEvent, e.handleWorkerTaskResult)
	e.bus.Handle(events.ExecutionKilledEvent, e.handleExecutionKilled)

	if err := e.bus.Subscribe(ctx, events.ExecutionTopic); err != nil {
		return err
	}

	if err := e.bus.Subscribe(ctx, events.KillTopic); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Executor started")

	<-ctx.Done()
	e.rechecks.stop()

	return nil
}

func (e *Executor) handleExecutionUpdated(ctx context.Context, event any) error {
	evt, ok := event.(*events.ExecutionUpdated)
	if !ok || evt.Execution == nil {
		e.logger.ErrorContext(ctx, "Invalid event payload for ExecutionUpdated")

		return nil
	}

	ex, err := e.executions.FindByID(ctx, evt.Execution.ID)
	if errors.Is(err, repository.ErrExecutionNotFound) {
		// First sighting: the producer published before persisting.
		ex = evt.Execution
		if err := e.executions.Save(ctx, ex); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return e.reconcile(ctx, ex)
}

// reconcile advances one execution as far as its current state allows.
func (e *Executor) reconcile(ctx context.Context, ex *execution.Execution) error {
	f, err := e.flowOf(ctx, ex)
	if err != nil {
		return err
	}

	switch ex.State.Current {
	case state.Created, state.Restarted:
		// Restarts re-enter admission like new executions: the slot from
		// the previous life was released when it concluded.
		return e.admit(ctx, f, ex)
	case state.Queued:
		// Waits for a slot; promotion happens on release.
		return nil
	default:
		return e.resolveLoop(ctx, f, ex)
	}
}

// admit applies the schedule date gate and the flow's concurrency policy
// to a CREATED execution.
func (e *Executor) admit(ctx context.Context, f *flow.Flow, ex *execution.Execution) error {
	if ex.ScheduleDate != nil && time.Now().UTC().Before(*ex.ScheduleDate) {
		e.scheduleRecheck(ex.ID, *ex.ScheduleDate)

		return nil
	}

	decision, err := e.admission.Admit(ctx, f)
	if err != nil {
		return err
	}

	switch decision {
	case admission.DecisionRun:
		if err := ex.WithState(state.Running); err != nil {
			return err
		}

		if err := e.executions.Save(ctx, ex); err != nil {
			return err
		}

		return e.resolveLoop(ctx, f, ex)
	case admission.DecisionQueue:
		e.logger.InfoContext(ctx, "Execution queued on concurrency limit",
			"execution_id", ex.ID, "flow_id", f.ID)

		if err := ex.WithState(state.Queued); err != nil {
			return err
		}

		return e.executions.Save(ctx, ex)
	case admission.DecisionCancel:
		return e.terminateAtAdmission(ctx, f, ex, state.Cancelled)
	case admission.DecisionFail:
		return e.terminateAtAdmission(ctx, f, ex, state.Failed)
	default:
		return fmt.Errorf("unknown admission decision %q", decision)
	}
}

// terminateAtAdmission ends an execution that never acquired a slot.
func (e *Executor) terminateAtAdmission(ctx context.Context, f *flow.Flow, ex *execution.Execution, t state.Type) error {
	if !ex.State.Current.CanTransitionTo(t) {
		// RESTARTED only exits to QUEUED or RUNNING, so a cancel or fail
		// behavior leaves the restart waiting for a slot instead.
		if err := ex.WithState(state.Queued); err != nil {
			return err
		}

		return e.executions.Save(ctx, ex)
	}

	e.logger.InfoContext(ctx, "Execution rejected by concurrency policy",
		"execution_id", ex.ID, "flow_id", f.ID, "state", t)

	if err := ex.WithState(t); err != nil {
		return err
	}

	if err := e.executions.Save(ctx, ex); err != nil {
		return err
	}

	return e.publishFinished(ctx, ex)
}

// resolveLoop runs the resolver to a fixpoint, performing the side
// effects each pass proposes and persisting after every pass.
func (e *Executor) resolveLoop(ctx context.Context, f *flow.Flow, ex *execution.Execution) error {
	for pass := 0; pass < maxResolvePasses; pass++ {
		wasTerminal := ex.State.Current.IsTerminal()

		res, err := e.resolver.Resolve(f, ex)
		if err != nil {
			return fmt.Errorf("resolving execution %s: %w", ex.ID, err)
		}

		if err := runner.Apply(ex, res); err != nil {
			return fmt.Errorf("applying result for execution %s: %w", ex.ID, err)
		}

		for _, dispatch := range res.WorkerTasks {
			if err := e.dispatch(ctx, ex, dispatch); err != nil {
				return err
			}
		}

		for _, request := range res.Subflows {
			if err := e.spawn(ctx, ex, request); err != nil {
				return err
			}
		}

		if res.SLAViolation != nil {
			if err := e.enforceSLA(ctx, ex, res.SLAViolation.SLA); err != nil {
				return err
			}
		}

		if res.ExecutionState != nil {
			if err := e.applyExecutionState(ex, *res.ExecutionState); err != nil {
				return err
			}
		}

		if err := e.executions.Save(ctx, ex); err != nil {
			return err
		}

		if !wasTerminal && ex.State.Current.IsTerminal() {
			if err := e.finish(ctx, f, ex); err != nil {
				return err
			}

			// Keep looping: the after-execution hook resolves against
			// the now-terminal execution.
			continue
		}

		if res.Empty() {
			if res.NextDue != nil {
				e.scheduleRecheck(ex.ID, *res.NextDue)
			}

			return nil
		}
	}

	// Fixpoint not reached within the allowed passes; hand the remainder
	// to a follow-up event.
	return e.bus.Publish(ctx, ex.ID, events.ExecutionUpdated{
		BaseEvent: events.NewBaseEvent(events.ExecutionUpdatedEvent),
		Execution: ex,
	})
}

// dispatch transitions a dispatchable leaf run to RUNNING and hands it to
// the worker pool.
func (e *Executor) dispatch(ctx context.Context, ex *execution.Execution, d runner.WorkerDispatch) error {
	tr, err := ex.FindTaskRun(d.TaskRunID)
	if err != nil {
		return err
	}

	if tr.State.Current != state.Created && tr.State.Current != state.Retrying {
		// Already dispatched on a previous delivery.
		return nil
	}

	next, err := tr.State.WithState(state.Running)
	if err != nil {
		return err
	}

	tr.State = next

	return e.bus.Publish(ctx, ex.ID, events.WorkerTask{
		BaseEvent:   events.NewBaseEvent(events.WorkerTaskEvent),
		ExecutionID: ex.ID,
		TaskRun:     *tr,
		Task:        d.Task,
		Variables:   d.Variables,
	})
}

// spawn creates the child execution for a subflow request and records its
// id in the parent task run's outputs, which makes redelivered requests
// no-ops.
func (e *Executor) spawn(ctx context.Context, ex *execution.Execution, req runner.SubflowRequest) error {
	tr, err := ex.FindTaskRun(req.TaskRunID)
	if err != nil {
		return err
	}

	if req.BatchValue == "" {
		if _, ok := tr.Outputs["execution_id"].(string); ok {
			return nil
		}
	} else if executions, ok := tr.Outputs["executions"].(map[string]any); ok {
		if _, ok := executions[req.BatchValue]; ok {
			return nil
		}
	}

	child, err := e.subflows.Spawn(ctx, ex, req.Spec, req.Inputs)
	if err != nil {
		return e.failTaskRun(tr, err.Error())
	}

	child.Trigger = &execution.TriggerInfo{ID: req.Task.ID, Type: "subflow"}

	if tr.Outputs == nil {
		tr.Outputs = map[string]any{}
	}

	if req.BatchValue == "" {
		tr.Outputs["execution_id"] = child.ID
	} else {
		executions, ok := tr.Outputs["executions"].(map[string]any)
		if !ok {
			executions = map[string]any{}
			tr.Outputs["executions"] = executions
		}

		executions[req.BatchValue] = child.ID
	}

	if err := e.executions.Save(ctx, child); err != nil {
		return err
	}

	return e.bus.Publish(ctx, child.ID, events.ExecutionUpdated{
		BaseEvent: events.NewBaseEvent(events.ExecutionUpdatedEvent),
		Execution: child,
	})
}

// enforceSLA applies a violated max-duration SLA's behavior.
func (e *Executor) enforceSLA(ctx context.Context, ex *execution.Execution, sla *flow.SLA) error {
	e.logger.WarnContext(ctx, "SLA violated",
		"execution_id", ex.ID, "sla_id", sla.ID, "behavior", sla.Behavior)

	switch sla.Behavior {
	case flow.SLACancel:
		return e.applyExecutionState(ex, state.Cancelled)
	case flow.SLAFail:
		return e.applyExecutionState(ex, state.Failed)
	case flow.SLALabel:
		if ex.Labels == nil {
			ex.Labels = map[string]string{}
		}

		ex.Labels[LabelSLAViolation] = sla.ID
		for k, v := range sla.Labels {
			ex.Labels[k] = v
		}

		return nil
	default:
		return fmt.Errorf("unknown SLA behavior %q", sla.Behavior)
	}
}

// applyExecutionState transitions the execution, routing KILLED through
// KILLING when the kill marker was not set yet.
func (e *Executor) applyExecutionState(ex *execution.Execution, target state.Type) error {
	if ex.State.Current == target {
		return nil
	}

	// A paused execution resumes before it concludes.
	if ex.State.Current == state.Paused && !state.Paused.CanTransitionTo(target) {
		if err := ex.WithState(state.Running); err != nil {
			return err
		}
	}

	if target == state.Killed && ex.State.Current != state.Killing {
		if err := ex.WithState(state.Killing); err != nil {
			return err
		}
	}

	return ex.WithState(target)
}

// finish releases the execution's concurrency slot, promotes the oldest
// queued execution and announces the terminal state.
func (e *Executor) finish(ctx context.Context, f *flow.Flow, ex *execution.Execution) error {
	e.logger.InfoContext(ctx, "Execution finished",
		"execution_id", ex.ID, "flow_id", f.ID, "state", ex.State.Current)

	e.rechecks.cancel(ex.ID)
	e.collectOutputs(ex)

	if err := e.executions.Save(ctx, ex); err != nil {
		return err
	}

	if heldSlot(ex) {
		promoted, err := e.admission.Release(ctx, f)
		if err != nil {
			return err
		}

		if promoted != nil {
			if err := promoted.WithState(state.Running); err != nil {
				return err
			}

			if err := e.executions.Save(ctx, promoted); err != nil {
				return err
			}

			if err := e.bus.Publish(ctx, promoted.ID, events.ExecutionUpdated{
				BaseEvent: events.NewBaseEvent(events.ExecutionUpdatedEvent),
				Execution: promoted,
			}); err != nil {
				return err
			}
		}
	}

	return e.publishFinished(ctx, ex)
}

// heldSlot reports whether the execution acquired a concurrency slot in
// its current life: it must have entered RUNNING, and not only before its
// most recent restart. A restart killed while still QUEUED never held a
// slot even though RUNNING appears in the earlier history.
func heldSlot(ex *execution.Execution) bool {
	running := ex.State.EnteredAt(state.Running)
	if running.IsZero() {
		return false
	}

	restarted := ex.State.EnteredAt(state.Restarted)

	return restarted.IsZero() || !running.Before(restarted)
}

// collectOutputs copies the root-level task run outputs onto the
// execution document, keyed by task id, so parents and listeners see them
// without loading the task runs.
func (e *Executor) collectOutputs(ex *execution.Execution) {
	for _, tr := range ex.RootTaskRuns() {
		if len(tr.Outputs) == 0 {
			continue
		}

		if ex.Outputs == nil {
			ex.Outputs = map[string]any{}
		}

		ex.Outputs[tr.TaskID] = tr.Outputs
	}
}

func (e *Executor) publishFinished(ctx context.Context, ex *execution.Execution) error {
	return e.bus.Publish(ctx, ex.ID, events.ExecutionFinished{
		BaseEvent: events.NewBaseEvent(events.ExecutionFinishedEvent),
		Execution: ex,
	})
}

func (e *Executor) handleWorkerTaskResult(ctx context.Context, event any) error {
	evt, ok := event.(*events.WorkerTaskResult)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event payload for WorkerTaskResult")

		return nil
	}

	ex, err := e.executions.FindByID(ctx, evt.ExecutionID)
	if err != nil {
		if errors.Is(err, repository.ErrExecutionNotFound) {
			e.logger.WarnContext(ctx, "Result for unknown execution dropped",
				"execution_id", evt.ExecutionID)

			return nil
		}

		return err
	}

	f, err := e.flowOf(ctx, ex)
	if err != nil {
		return err
	}

	tr, err := ex.FindTaskRun(evt.TaskRun.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "Result for unknown task run dropped",
			"execution_id", ex.ID, "task_run_id", evt.TaskRun.ID)

		return nil
	}

	if tr.State.Current != state.Running {
		// A kill or an earlier delivery already settled this run.
		e.logger.InfoContext(ctx, "Stale worker result ignored",
			"execution_id", ex.ID, "task_run_id", tr.ID, "state", tr.State.Current)

		return nil
	}

	task, ok := f.FindTask(tr.TaskID)
	if !ok {
		return fmt.Errorf("task %s not found in flow %s rev %d", tr.TaskID, f.ID, f.Revision)
	}

	if len(evt.TaskRun.Attempts) > len(tr.Attempts) {
		tr.Attempts = append(tr.Attempts, evt.TaskRun.Attempts[len(tr.Attempts):]...)
	}

	mergeOutputs(tr, evt.TaskRun.Outputs)

	attemptState := state.Failed
	if n := len(tr.Attempts); n > 0 {
		attemptState = tr.Attempts[n-1].State.Current
	}

	final, due, outputs := e.resolver.ConcludeLeaf(task, tr, attemptState)
	mergeOutputs(tr, outputs)

	next, err := tr.State.WithState(final)
	if err != nil {
		return err
	}

	tr.State = next

	if due != nil {
		e.scheduleRecheck(ex.ID, *due)
	}

	if err := e.executions.Save(ctx, ex); err != nil {
		return err
	}

	return e.resolveLoop(ctx, f, ex)
}

func (e *Executor) handleExecutionResumed(ctx context.Context, event any) error {
	evt, ok := event.(*events.ExecutionResumed)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event payload for ExecutionResumed")

		return nil
	}

	ex, err := e.executions.FindByID(ctx, evt.ExecutionID)
	if err != nil {
		return err
	}

	if ex.State.Current.IsTerminal() {
		return nil
	}

	target := evt.TargetState
	if target == "" {
		target = state.Running
	}

	resumed := false

	for i := range ex.TaskRunList {
		tr := &ex.TaskRunList[i]
		if tr.State.Current != state.Paused {
			continue
		}

		if len(evt.OnResume) > 0 {
			mergeOutputs(tr, map[string]any{"on_resume": evt.OnResume})
		}

		next, err := tr.State.WithState(target)
		if err != nil {
			return err
		}

		tr.State = next
		resumed = true
	}

	if !resumed {
		return nil
	}

	e.logger.InfoContext(ctx, "Execution resumed",
		"execution_id", ex.ID, "target_state", target, "resumed_by", evt.ResumedBy)

	if err := e.executions.Save(ctx, ex); err != nil {
		return err
	}

	f, err := e.flowOf(ctx, ex)
	if err != nil {
		return err
	}

	return e.resolveLoop(ctx, f, ex)
}

func (e *Executor) handleExecutionRecheck(ctx context.Context, event any) error {
	evt, ok := event.(*events.ExecutionRecheck)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event payload for ExecutionRecheck")

		return nil
	}

	if time.Now().UTC().Before(evt.Due) {
		e.scheduleRecheck(evt.ExecutionID, evt.Due)

		return nil
	}

	ex, err := e.executions.FindByID(ctx, evt.ExecutionID)
	if err != nil {
		if errors.Is(err, repository.ErrExecutionNotFound) {
			return nil
		}

		return err
	}

	return e.reconcile(ctx, ex)
}

// handleExecutionFinished concludes the parent task run of a finished
// child execution.
func (e *Executor) handleExecutionFinished(ctx context.Context, event any) error {
	evt, ok := event.(*events.ExecutionFinished)
	if !ok || evt.Execution == nil {
		e.logger.ErrorContext(ctx, "Invalid event payload for ExecutionFinished")

		return nil
	}

	child := evt.Execution
	if child.ParentID == "" {
		return nil
	}

	parent, err := e.executions.FindByID(ctx, child.ParentID)
	if err != nil {
		if errors.Is(err, repository.ErrExecutionNotFound) {
			e.logger.WarnContext(ctx, "Finished child has unknown parent",
				"execution_id", child.ID, "parent_id", child.ParentID)

			return nil
		}

		return err
	}

	tr, batchValue, found := findSpawningRun(parent, child.ID)
	if !found {
		e.logger.WarnContext(ctx, "Finished child not referenced by any parent task run",
			"execution_id", child.ID, "parent_id", parent.ID)

		return nil
	}

	if batchValue == "" {
		mergeOutputs(tr, map[string]any{
			"state":   string(child.State.Current),
			"outputs": child.Outputs,
		})
	} else {
		results, ok := tr.Outputs["results"].(map[string]any)
		if !ok {
			results = map[string]any{}
			tr.Outputs["results"] = results
		}

		results[batchValue] = string(child.State.Current)
	}

	if parent.State.Current.IsTerminal() {
		e.logger.WarnContext(ctx, "Child finished after parent execution concluded, outputs recorded without re-aggregation",
			"execution_id", child.ID, "parent_id", parent.ID)

		return e.executions.Save(ctx, parent)
	}

	if err := e.executions.Save(ctx, parent); err != nil {
		return err
	}

	f, err := e.flowOf(ctx, parent)
	if err != nil {
		return err
	}

	return e.resolveLoop(ctx, f, parent)
}

// handleExecutionKilled forces every live task run of the execution to
// KILLED and optionally cascades to spawned children.
func (e *Executor) handleExecutionKilled(ctx context.Context, event any) error {
	evt, ok := event.(*events.ExecutionKilled)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event payload for ExecutionKilled")

		return nil
	}

	ex, err := e.executions.FindByID(ctx, evt.ExecutionID)
	if err != nil {
		if errors.Is(err, repository.ErrExecutionNotFound) {
			return nil
		}

		return err
	}

	if ex.State.Current.IsTerminal() {
		return nil
	}

	e.logger.InfoContext(ctx, "Killing execution",
		"execution_id", ex.ID, "cascade", evt.CascadeToChildren)

	if ex.State.Current != state.Killing {
		if err := ex.WithState(state.Killing); err != nil {
			return err
		}
	}

	for i := range ex.TaskRunList {
		tr := &ex.TaskRunList[i]
		if tr.State.Current.IsTerminal() {
			continue
		}

		if tr.State.Current != state.Killing {
			next, err := tr.State.WithState(state.Killing)
			if err != nil {
				return err
			}

			tr.State = next
		}

		next, err := tr.State.WithState(state.Killed)
		if err != nil {
			return err
		}

		tr.State = next
	}

	if err := e.applyExecutionState(ex, state.Killed); err != nil {
		return err
	}

	if err := e.executions.Save(ctx, ex); err != nil {
		return err
	}

	if evt.CascadeToChildren {
		children, err := e.executions.FindChildren(ctx, ex.ID)
		if err != nil {
			return err
		}

		for _, child := range children {
			if child.State.Current.IsTerminal() {
				continue
			}

			if err := e.bus.Publish(ctx, child.ID, events.ExecutionKilled{
				BaseEvent:         events.NewBaseEvent(events.ExecutionKilledEvent),
				ExecutionID:       child.ID,
				CascadeToChildren: true,
			}); err != nil {
				return err
			}
		}
	}

	f, err := e.flowOf(ctx, ex)
	if err != nil {
		return err
	}

	if err := e.finish(ctx, f, ex); err != nil {
		return err
	}

	// The after-execution hook still resolves against the killed
	// execution.
	return e.resolveLoop(ctx, f, ex)
}

func (e *Executor) flowOf(ctx context.Context, ex *execution.Execution) (*flow.Flow, error) {
	revision := ex.FlowRevision

	f, err := e.flows.FindByID(ctx, ex.TenantID, ex.Namespace, ex.FlowID, &revision)
	if err != nil {
		return nil, fmt.Errorf("loading flow %s/%s rev %d: %w", ex.Namespace, ex.FlowID, revision, err)
	}

	return f, nil
}

func (e *Executor) failTaskRun(tr *execution.TaskRun, msg string) error {
	mergeOutputs(tr, map[string]any{"error": msg})

	next, err := tr.State.WithState(state.Failed)
	if err != nil {
		return err
	}

	tr.State = next

	return nil
}

func (e *Executor) scheduleRecheck(executionID string, due time.Time) {
	e.rechecks.schedule(executionID, due, func() {
		err := e.bus.Publish(context.Background(), executionID, events.ExecutionRecheck{
			BaseEvent:   events.NewBaseEvent(events.ExecutionRecheckEvent),
			ExecutionID: executionID,
			Due:         due,
		})
		if err != nil {
			e.logger.Error("Publishing recheck failed", "execution_id", executionID, "error", err)
		}
	})
}

func mergeOutputs(tr *execution.TaskRun, outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}

	if tr.Outputs == nil {
		tr.Outputs = make(map[string]any, len(outputs))
	}

	for k, v := range outputs {
		tr.Outputs[k] = v
	}
}

// findSpawningRun locates the parent task run that spawned the given
// child execution, for both plain subflow runs and for-each-item batches.
func findSpawningRun(parent *execution.Execution, childID string) (*execution.TaskRun, string, bool) {
	for i := range parent.TaskRunList {
		tr := &parent.TaskRunList[i]

		if id, ok := tr.Outputs["execution_id"].(string); ok && id == childID {
			return tr, "", true
		}

		executions, ok := tr.Outputs["executions"].(map[string]any)
		if !ok {
			continue
		}

		for value, id := range executions {
			if id == childID {
				return tr, value, true
			}
		}
	}

	return nil, "", false
}
