package runner

import (
	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
)

// BuildVariables assembles the expression environment for an execution:
// inputs, accumulated task outputs, flow/execution metadata, labels and
// trigger variables.
func BuildVariables(f *flow.Flow, ex *execution.Execution) map[string]any {
	outputs := make(map[string]any)

	for i := range ex.TaskRunList {
		tr := &ex.TaskRunList[i]
		if len(tr.Outputs) == 0 {
			continue
		}

		if tr.Value == "" {
			outputs[tr.TaskID] = tr.Outputs

			continue
		}

		// Iterated instances are keyed by their iteration value.
		byValue, ok := outputs[tr.TaskID].(map[string]any)
		if !ok {
			byValue = make(map[string]any)
			outputs[tr.TaskID] = byValue
		}

		byValue[tr.Value] = tr.Outputs
	}

	vars := map[string]any{
		"inputs":  ex.Inputs,
		"vars":    ex.Variables,
		"outputs": outputs,
		"labels":  ex.Labels,
		"flow": map[string]any{
			"id":        f.ID,
			"namespace": f.Namespace,
			"revision":  f.Revision,
		},
		"execution": map[string]any{
			"id":         ex.ID,
			"start_date": ex.State.StartDate(),
		},
	}

	if ex.Trigger != nil {
		vars["trigger"] = ex.Trigger.Variables
	}

	return vars
}

// scopedVariables extends the execution variables with the iteration
// context of the enclosing scope.
func scopedVariables(base map[string]any, sc scope) map[string]any {
	if sc.value == "" && sc.iteration == 0 {
		return base
	}

	vars := make(map[string]any, len(base)+2)
	for k, v := range base {
		vars[k] = v
	}

	vars["taskrun"] = map[string]any{
		"value":     sc.value,
		"iteration": sc.iteration,
	}
	if sc.item != "" {
		vars["item"] = sc.item
	}

	return vars
}
