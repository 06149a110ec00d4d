package runner

import (
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/state"
)

// effectiveState applies a task's failure tolerances to its raw terminal
// state: allowFailure downgrades FAILED to WARNING, allowWarning
// downgrades WARNING to SUCCESS.
func effectiveState(task *flow.Task, raw state.Type) state.Type {
	if raw == state.Failed && task.AllowFailure {
		raw = state.Warning
	}

	if raw == state.Warning && task.AllowWarning {
		raw = state.Success
	}

	return raw
}

// severity orders terminal states for bottom-up aggregation. SKIPPED is
// neutral and ranks below SUCCESS.
var severity = map[state.Type]int{
	state.Killed:    5,
	state.Failed:    4,
	state.Cancelled: 3,
	state.Warning:   2,
	state.Success:   1,
	state.Skipped:   0,
}

// aggregateStates folds sibling outcomes into the parent state: the most
// severe outcome wins, an empty or all-skipped scope is SUCCESS.
func aggregateStates(outcomes []state.Type) state.Type {
	worst := state.Success

	for _, outcome := range outcomes {
		if severity[outcome] > severity[worst] {
			worst = outcome
		}
	}

	return worst
}
