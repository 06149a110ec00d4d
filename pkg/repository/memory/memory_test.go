package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/repository"
	"github.com/kestrelflow/kestrel/pkg/state"
)

func testFlow(id string) *flow.Flow {
	return &flow.Flow{
		ID:        id,
		Namespace: "company.team",
		Tasks:     []flow.Task{{ID: "t1", Type: "log"}},
	}
}

func TestFlowRepository_Revisions(t *testing.T) {
	repo := NewFlowRepository()

	f1 := testFlow("hello")
	require.NoError(t, repo.Save(t.Context(), f1))
	assert.Equal(t, 1, f1.Revision)

	f2 := testFlow("hello")
	require.NoError(t, repo.Save(t.Context(), f2))
	assert.Equal(t, 2, f2.Revision)

	latest, err := repo.FindByID(t.Context(), "", "company.team", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Revision)

	rev := 1
	pinned, err := repo.FindByID(t.Context(), "", "company.team", "hello", &rev)
	require.NoError(t, err)
	assert.Equal(t, 1, pinned.Revision)
}

func TestFlowRepository_NotFound(t *testing.T) {
	repo := NewFlowRepository()

	_, err := repo.FindByID(t.Context(), "", "company.team", "ghost", nil)
	require.Error(t, err)
	assert.True(t, repository.IsNotFound(err))
}

func TestExecutionRepository_SaveIsolation(t *testing.T) {
	repo := NewExecutionRepository()
	ex := execution.New(testFlow("hello"), nil, nil)

	require.NoError(t, repo.Save(t.Context(), ex))

	// Mutating the caller's copy must not affect the stored document.
	ex.Labels["dirty"] = "yes"

	stored, err := repo.FindByID(t.Context(), ex.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Labels, "dirty")
}

func TestExecutionRepository_CountRunningAndQueued(t *testing.T) {
	repo := NewExecutionRepository()
	f := testFlow("hello")

	running := execution.New(f, nil, nil)
	require.NoError(t, running.WithState(state.Running))
	require.NoError(t, repo.Save(t.Context(), running))

	queuedA := execution.New(f, nil, nil)
	require.NoError(t, queuedA.WithState(state.Queued))
	require.NoError(t, repo.Save(t.Context(), queuedA))

	queuedB := execution.New(f, nil, nil)
	require.NoError(t, queuedB.WithState(state.Queued))
	require.NoError(t, repo.Save(t.Context(), queuedB))

	count, err := repo.CountRunning(t.Context(), "", "company.team", "hello")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// FIFO: the first queued execution is promoted first.
	oldest, err := repo.FindOldestQueued(t.Context(), "", "company.team", "hello")
	require.NoError(t, err)
	assert.Equal(t, queuedA.ID, oldest.ID)
}

func TestExecutionRepository_FindChildren(t *testing.T) {
	repo := NewExecutionRepository()
	f := testFlow("hello")

	parent := execution.New(f, nil, nil)
	require.NoError(t, repo.Save(t.Context(), parent))

	child := execution.New(f, nil, nil)
	child.ParentID = parent.ID
	require.NoError(t, repo.Save(t.Context(), child))

	children, err := repo.FindChildren(t.Context(), parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)
}

func TestExecutionRepository_FindByStates(t *testing.T) {
	repo := NewExecutionRepository()
	f := testFlow("hello")

	created := execution.New(f, nil, nil)
	require.NoError(t, repo.Save(t.Context(), created))

	failed := execution.New(f, nil, nil)
	require.NoError(t, failed.WithState(state.Running))
	require.NoError(t, failed.WithState(state.Failed))
	require.NoError(t, repo.Save(t.Context(), failed))

	out, err := repo.FindByStates(t.Context(), "", "company.team", "hello", []state.Type{state.Failed})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, failed.ID, out[0].ID)
}
