package restart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/state"
)

func failedExecution(t *testing.T) *execution.Execution {
	t.Helper()

	f := &flow.Flow{ID: "job", Namespace: "test", Revision: 1, Tasks: []flow.Task{
		{ID: "extract", Type: "log"},
		{ID: "load", Type: "log"},
	}}

	ex := execution.New(f, map[string]any{"region": "eu"}, nil)
	require.NoError(t, ex.WithState(state.Running))

	ok := execution.NewTaskRun("extract", "", "", 0)
	ok.State = mustChain(t, ok.State, state.Running, state.Success)
	ok.Attempts = []execution.Attempt{{State: state.New(state.Success)}}
	ex.AddTaskRun(ok)

	bad := execution.NewTaskRun("load", "", "", 0)
	bad.State = mustChain(t, bad.State, state.Running, state.Failed)
	bad.Attempts = []execution.Attempt{{State: state.New(state.Failed)}}
	ex.AddTaskRun(bad)

	require.NoError(t, ex.WithState(state.Failed))

	return ex
}

func mustChain(t *testing.T, s state.State, through ...state.Type) state.State {
	t.Helper()

	for _, next := range through {
		var err error

		s, err = s.WithState(next)
		require.NoError(t, err)
	}

	return s
}

func TestRestartKeepsSuccessesAndResetsFailures(t *testing.T) {
	ex := failedExecution(t)

	require.NoError(t, Restart(ex))

	assert.Equal(t, state.Restarted, ex.State.Current)
	require.Len(t, ex.TaskRunList, 2)

	extract, ok := ex.FindTaskRunByTask("extract", "", 0)
	require.True(t, ok)
	assert.Equal(t, state.Success, extract.State.Current)
	assert.Equal(t, 1, extract.AttemptCount())

	// The failed run stays in place: state reset for re-execution, the
	// failed attempt retained so the rerun appends attempt two.
	load, ok := ex.FindTaskRunByTask("load", "", 0)
	require.True(t, ok)
	assert.Equal(t, state.Created, load.State.Current)
	require.Equal(t, 1, load.AttemptCount())
	assert.Equal(t, state.Failed, load.Attempts[0].State.Current)
	assert.Empty(t, load.Outputs)
}

func TestRestartPrunesSubtreesOfResetRuns(t *testing.T) {
	f := &flow.Flow{ID: "job", Namespace: "test", Revision: 1, Tasks: []flow.Task{
		{ID: "group", Type: flow.TypeSequential, Tasks: []flow.Task{
			{ID: "inner", Type: "log"},
		}},
	}}

	ex := execution.New(f, nil, nil)
	require.NoError(t, ex.WithState(state.Running))

	group := execution.NewTaskRun("group", "", "", 0)
	group.State = mustChain(t, group.State, state.Running, state.Failed)
	ex.AddTaskRun(group)

	inner := execution.NewTaskRun("inner", group.ID, "", 0)
	inner.State = mustChain(t, inner.State, state.Running, state.Success)
	ex.AddTaskRun(inner)

	require.NoError(t, ex.WithState(state.Failed))
	require.NoError(t, Restart(ex))

	require.Len(t, ex.TaskRunList, 1)
	assert.Equal(t, "group", ex.TaskRunList[0].TaskID)
	assert.Equal(t, state.Created, ex.TaskRunList[0].State.Current)

	_, ok := ex.FindTaskRunByTask("inner", "", 0)
	assert.False(t, ok)
}

func TestRestartRejectsNonRestartableStates(t *testing.T) {
	f := &flow.Flow{ID: "job", Namespace: "test", Revision: 1, Tasks: []flow.Task{{ID: "t", Type: "log"}}}

	ex := execution.New(f, nil, nil)
	require.NoError(t, ex.WithState(state.Running))
	require.NoError(t, ex.WithState(state.Success))

	err := Restart(ex)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRestartable)
}

func TestReplayCreatesLinkedClone(t *testing.T) {
	ex := failedExecution(t)

	clone, err := Replay(ex, "")
	require.NoError(t, err)

	assert.NotEqual(t, ex.ID, clone.ID)
	assert.Equal(t, state.Created, clone.State.Current)
	assert.Empty(t, clone.TaskRunList)
	assert.Equal(t, ex.Inputs, clone.Inputs)
	assert.Equal(t, ex.FlowRevision, clone.FlowRevision)
	assert.Equal(t, "true", clone.Labels[execution.LabelReplayed])
	assert.Equal(t, ex.ID, clone.Labels[execution.LabelReplayOf])
	assert.Equal(t, ex.ID, clone.OriginalID)
	assert.Equal(t, ex.CorrelationID(), clone.CorrelationID())
}

func TestReplayOfReplayPointsAtRoot(t *testing.T) {
	ex := failedExecution(t)

	first, err := Replay(ex, "")
	require.NoError(t, err)

	// Finish the first replay so it can be replayed again.
	first.State = mustChain(t, first.State, state.Running, state.Failed)

	second, err := Replay(first, "")
	require.NoError(t, err)

	assert.Equal(t, ex.ID, second.OriginalID)
	assert.Equal(t, first.ID, second.Labels[execution.LabelReplayOf])
}

func TestReplayRootedAtTaskRunInheritsEarlierRuns(t *testing.T) {
	ex := failedExecution(t)

	load, ok := ex.FindTaskRunByTask("load", "", 0)
	require.True(t, ok)

	clone, err := Replay(ex, load.ID)
	require.NoError(t, err)

	// The run before the chosen root carries over read-only; the chosen
	// run itself is dropped so the resolver recreates it from scratch.
	require.Len(t, clone.TaskRunList, 1)
	assert.Equal(t, "extract", clone.TaskRunList[0].TaskID)
	assert.Equal(t, state.Success, clone.TaskRunList[0].State.Current)
	assert.Equal(t, 1, clone.TaskRunList[0].AttemptCount())

	_, ok = clone.FindTaskRunByTask("load", "", 0)
	assert.False(t, ok)

	// The original keeps its full tree.
	assert.Len(t, ex.TaskRunList, 2)
}

func TestReplayRootedAtNestedRunResetsAncestors(t *testing.T) {
	f := &flow.Flow{ID: "job", Namespace: "test", Revision: 1, Tasks: []flow.Task{
		{ID: "group", Type: flow.TypeSequential, Tasks: []flow.Task{
			{ID: "inner", Type: "log"},
		}},
	}}

	ex := execution.New(f, nil, nil)
	require.NoError(t, ex.WithState(state.Running))

	group := execution.NewTaskRun("group", "", "", 0)
	group.State = mustChain(t, group.State, state.Running, state.Failed)
	ex.AddTaskRun(group)

	inner := execution.NewTaskRun("inner", group.ID, "", 0)
	inner.State = mustChain(t, inner.State, state.Running, state.Failed)
	inner.Attempts = []execution.Attempt{{State: state.New(state.Failed)}}
	ex.AddTaskRun(inner)

	require.NoError(t, ex.WithState(state.Failed))

	clone, err := Replay(ex, inner.ID)
	require.NoError(t, err)

	require.Len(t, clone.TaskRunList, 1)
	assert.Equal(t, "group", clone.TaskRunList[0].TaskID)
	assert.Equal(t, state.Created, clone.TaskRunList[0].State.Current)
	assert.Zero(t, clone.TaskRunList[0].AttemptCount())
}

func TestReplayRejectsUnknownTaskRun(t *testing.T) {
	ex := failedExecution(t)

	_, err := Replay(ex, "no-such-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, execution.ErrTaskRunNotFound)
}

func TestReplayRejectsRunningExecution(t *testing.T) {
	f := &flow.Flow{ID: "job", Namespace: "test", Revision: 1, Tasks: []flow.Task{{ID: "t", Type: "log"}}}

	ex := execution.New(f, nil, nil)
	require.NoError(t, ex.WithState(state.Running))

	_, err := Replay(ex, "")
	assert.Error(t, err)
}
