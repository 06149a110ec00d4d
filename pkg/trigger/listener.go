package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
)

// ListenerEvaluator reacts to finished upstream executions for
// flow-listener and multiple-condition triggers. Each precondition is
// marked satisfied by a matching upstream; once all are satisfied the
// trigger fires with the merged upstream outputs.
type ListenerEvaluator struct {
	states StateStore
	logger *slog.Logger
}

func NewListenerEvaluator(states StateStore, logger *slog.Logger) *ListenerEvaluator {
	return &ListenerEvaluator{states: states, logger: logger}
}

// OnExecutionFinished evaluates one finished upstream execution against
// the trigger and returns a firing when the trigger's preconditions are
// now all satisfied, nil otherwise.
func (e *ListenerEvaluator) OnExecutionFinished(ctx context.Context, f *flow.Flow, tr *flow.Trigger, up *execution.Execution, now time.Time) (*Firing, error) {
	if tr.Disabled || f.Disabled {
		return nil, nil
	}

	// A flow never listens to its own executions.
	if up.Namespace == f.Namespace && up.FlowID == f.ID {
		return nil, nil
	}

	st, err := e.states.Get(ctx, f.UID(), tr.ID)
	if err != nil {
		return nil, fmt.Errorf("reading trigger state: %w", err)
	}

	if st.Satisfied == nil {
		st.Satisfied = make(map[string]SatisfiedCondition)
	}

	if tr.Type == flow.TriggerMultipleCondition && tr.Window > 0 {
		e.expireWindow(st.Satisfied, tr.Window.D(), now)
	}

	matched := false

	for i := range tr.Preconditions {
		cond := &tr.Preconditions[i]

		ok, condErr := evaluateExecutionCondition(cond, up)
		if condErr != nil {
			return nil, condErr
		}

		if !ok {
			continue
		}

		matched = true
		st.Satisfied[conditionKey(cond, i)] = SatisfiedCondition{
			ExecutionID: up.ID,
			At:          now,
			Outputs:     up.Outputs,
		}
	}

	if !matched {
		return nil, nil
	}

	complete := len(st.Satisfied) == len(tr.Preconditions)

	if complete {
		// Secondary conditions gate the firing instant itself.
		ok, condErr := acceptsInstant(tr.Conditions, now)
		if condErr != nil {
			return nil, condErr
		}

		complete = ok
	}

	var firing *Firing

	if complete {
		firing = &Firing{
			TriggerID: tr.ID,
			Type:      tr.Type,
			At:        now,
			Inputs:    tr.Inputs,
			Labels:    tr.Labels,
			Variables: upstreamVariables(tr, st.Satisfied, up),
		}

		if tr.Type == flow.TriggerMultipleCondition || tr.ResetsOnSuccess() {
			st.Satisfied = make(map[string]SatisfiedCondition)
		}

		e.logger.InfoContext(ctx, "Flow trigger fired",
			"flow_id", f.ID, "trigger_id", tr.ID, "upstream_execution_id", up.ID)
	}

	if err := e.states.Put(ctx, f.UID(), tr.ID, st); err != nil {
		return nil, fmt.Errorf("saving trigger state: %w", err)
	}

	return firing, nil
}

func (e *ListenerEvaluator) expireWindow(satisfied map[string]SatisfiedCondition, window time.Duration, now time.Time) {
	for key, sc := range satisfied {
		if now.Sub(sc.At) > window {
			delete(satisfied, key)
		}
	}
}

// conditionKey identifies one precondition in the satisfied set; explicit
// ids win, the list position is the fallback.
func conditionKey(c *flow.Condition, index int) string {
	if c.ID != "" {
		return c.ID
	}

	return fmt.Sprintf("%s-%d", c.Type, index)
}

// upstreamVariables builds the trigger variables from the satisfied
// preconditions, merging every upstream's outputs. The triggering
// execution's identity wins on conflicts.
func upstreamVariables(tr *flow.Trigger, satisfied map[string]SatisfiedCondition, up *execution.Execution) map[string]any {
	outputs := make(map[string]any)

	for _, sc := range satisfied {
		for k, v := range sc.Outputs {
			outputs[k] = v
		}
	}

	for k, v := range up.Outputs {
		outputs[k] = v
	}

	return map[string]any{
		"execution_id": up.ID,
		"namespace":    up.Namespace,
		"flow_id":      up.FlowID,
		"state":        string(up.State.Current),
		"outputs":      outputs,
	}
}
