package admission

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/repository/memory"
	"github.com/kestrelflow/kestrel/pkg/state"
)

func testController(t *testing.T) (*Controller, *memory.ExecutionRepository) {
	t.Helper()

	executions := memory.NewExecutionRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewController(NewMemorySlotStore(), executions, logger), executions
}

func limitedFlow(behavior flow.ConcurrencyBehavior, limit int) *flow.Flow {
	return &flow.Flow{
		ID: "limited", Namespace: "test", Revision: 1,
		Tasks:       []flow.Task{{ID: "t", Type: "log"}},
		Concurrency: &flow.Concurrency{Limit: limit, Behavior: behavior},
	}
}

func queuedExecution(t *testing.T, repo *memory.ExecutionRepository, f *flow.Flow) *execution.Execution {
	t.Helper()

	ex := execution.New(f, nil, nil)
	require.NoError(t, ex.WithState(state.Queued))
	require.NoError(t, repo.Save(t.Context(), ex))

	return ex
}

func TestAdmitWithoutPolicyAlwaysRuns(t *testing.T) {
	c, _ := testController(t)
	f := &flow.Flow{ID: "free", Namespace: "test", Tasks: []flow.Task{{ID: "t", Type: "log"}}}

	for i := 0; i < 10; i++ {
		decision, err := c.Admit(t.Context(), f)
		require.NoError(t, err)
		assert.Equal(t, DecisionRun, decision)
	}
}

func TestAdmitQueuesBeyondLimit(t *testing.T) {
	c, _ := testController(t)
	f := limitedFlow(flow.BehaviorQueue, 2)

	for i := 0; i < 2; i++ {
		decision, err := c.Admit(t.Context(), f)
		require.NoError(t, err)
		require.Equal(t, DecisionRun, decision)
	}

	decision, err := c.Admit(t.Context(), f)
	require.NoError(t, err)
	assert.Equal(t, DecisionQueue, decision)
}

func TestAdmitCancelAndFailBehaviors(t *testing.T) {
	for _, tc := range []struct {
		behavior flow.ConcurrencyBehavior
		want     Decision
	}{
		{flow.BehaviorCancel, DecisionCancel},
		{flow.BehaviorFail, DecisionFail},
	} {
		c, _ := testController(t)
		f := limitedFlow(tc.behavior, 1)

		decision, err := c.Admit(t.Context(), f)
		require.NoError(t, err)
		require.Equal(t, DecisionRun, decision)

		decision, err = c.Admit(t.Context(), f)
		require.NoError(t, err)
		assert.Equal(t, tc.want, decision)
	}
}

func TestReleasePromotesOldestQueued(t *testing.T) {
	c, executions := testController(t)
	f := limitedFlow(flow.BehaviorQueue, 1)

	decision, err := c.Admit(t.Context(), f)
	require.NoError(t, err)
	require.Equal(t, DecisionRun, decision)

	first := queuedExecution(t, executions, f)
	second := queuedExecution(t, executions, f)

	promoted, err := c.Release(t.Context(), f)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, first.ID, promoted.ID)

	// The promoted execution leaves QUEUED before the next release.
	require.NoError(t, promoted.WithState(state.Running))
	require.NoError(t, executions.Save(t.Context(), promoted))

	promoted, err = c.Release(t.Context(), f)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, second.ID, promoted.ID)
}

func TestReleaseWithEmptyQueueFreesSlot(t *testing.T) {
	c, _ := testController(t)
	f := limitedFlow(flow.BehaviorQueue, 1)

	decision, err := c.Admit(t.Context(), f)
	require.NoError(t, err)
	require.Equal(t, DecisionRun, decision)

	promoted, err := c.Release(t.Context(), f)
	require.NoError(t, err)
	assert.Nil(t, promoted)

	decision, err = c.Admit(t.Context(), f)
	require.NoError(t, err)
	assert.Equal(t, DecisionRun, decision)
}

func TestReleaseSkipsKilledQueuedExecutions(t *testing.T) {
	c, executions := testController(t)
	f := limitedFlow(flow.BehaviorQueue, 1)

	decision, err := c.Admit(t.Context(), f)
	require.NoError(t, err)
	require.Equal(t, DecisionRun, decision)

	killed := queuedExecution(t, executions, f)
	require.NoError(t, killed.WithState(state.Killed))
	require.NoError(t, executions.Save(t.Context(), killed))

	survivor := queuedExecution(t, executions, f)

	promoted, err := c.Release(t.Context(), f)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, survivor.ID, promoted.ID)
}

func TestMemorySlotStoreClampsRelease(t *testing.T) {
	store := NewMemorySlotStore()

	require.NoError(t, store.Release(t.Context(), "f"))

	count, err := store.Count(t.Context(), "f")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	acquired, err := store.Acquire(t.Context(), "f", 1)
	require.NoError(t, err)
	assert.True(t, acquired)
}
