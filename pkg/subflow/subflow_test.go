package subflow

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/repository/memory"
)

func testCoordinator(t *testing.T, flows ...*flow.Flow) *Coordinator {
	t.Helper()

	repo := memory.NewFlowRepository()
	for _, f := range flows {
		require.NoError(t, repo.Save(t.Context(), f))
	}

	return NewCoordinator(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func childFlow(id string) *flow.Flow {
	return &flow.Flow{
		ID: id, Namespace: "team",
		Labels: map[string]string{"tier": "child"},
		Tasks:  []flow.Task{{ID: "t", Type: "log"}},
	}
}

func TestSpawnPropagatesCorrelationAcrossLevels(t *testing.T) {
	root := execution.New(&flow.Flow{ID: "root", Namespace: "team", Revision: 1,
		Tasks: []flow.Task{{ID: "t", Type: "log"}}}, nil, nil)

	c := testCoordinator(t, childFlow("mid"), childFlow("leaf"))

	mid, err := c.Spawn(t.Context(), root, flow.SubflowSpec{Namespace: "team", FlowID: "mid"}, nil)
	require.NoError(t, err)

	leaf, err := c.Spawn(t.Context(), mid, flow.SubflowSpec{Namespace: "team", FlowID: "leaf"}, nil)
	require.NoError(t, err)

	assert.Equal(t, root.ID, root.CorrelationID())
	assert.Equal(t, root.ID, mid.CorrelationID())
	assert.Equal(t, root.ID, leaf.CorrelationID())
	assert.Equal(t, root.ID, mid.ParentID)
	assert.Equal(t, mid.ID, leaf.ParentID)
}

func TestSpawnMergesLabelsTaskLevelWins(t *testing.T) {
	parent := execution.New(&flow.Flow{ID: "root", Namespace: "team", Revision: 1,
		Tasks: []flow.Task{{ID: "t", Type: "log"}}}, nil, nil)

	c := testCoordinator(t, childFlow("mid"))

	spec := flow.SubflowSpec{
		Namespace: "team", FlowID: "mid",
		Labels: map[string]string{"tier": "override", "owner": "data"},
	}

	child, err := c.Spawn(t.Context(), parent, spec, nil)
	require.NoError(t, err)

	assert.Equal(t, "override", child.Labels["tier"])
	assert.Equal(t, "data", child.Labels["owner"])
}

func TestSpawnResolvesTypedInputs(t *testing.T) {
	f := childFlow("typed")
	f.Inputs = []flow.Input{
		{ID: "count", Type: flow.InputInt, Required: true},
		{ID: "mode", Type: flow.InputString, Default: "fast"},
	}

	parent := execution.New(&flow.Flow{ID: "root", Namespace: "team", Revision: 1,
		Tasks: []flow.Task{{ID: "t", Type: "log"}}}, nil, nil)

	c := testCoordinator(t, f)

	child, err := c.Spawn(t.Context(), parent,
		flow.SubflowSpec{Namespace: "team", FlowID: "typed"},
		map[string]any{"count": 3})
	require.NoError(t, err)

	assert.Equal(t, 3, child.Inputs["count"])
	assert.Equal(t, "fast", child.Inputs["mode"])

	_, err = c.Spawn(t.Context(), parent,
		flow.SubflowSpec{Namespace: "team", FlowID: "typed"}, nil)
	assert.ErrorIs(t, err, flow.ErrMissingRequiredInput)
}

func TestSpawnUnknownFlow(t *testing.T) {
	parent := execution.New(&flow.Flow{ID: "root", Namespace: "team", Revision: 1,
		Tasks: []flow.Task{{ID: "t", Type: "log"}}}, nil, nil)

	c := testCoordinator(t)

	_, err := c.Spawn(t.Context(), parent, flow.SubflowSpec{Namespace: "team", FlowID: "ghost"}, nil)
	assert.Error(t, err)
}

func TestSpawnDisabledFlow(t *testing.T) {
	f := childFlow("off")
	f.Disabled = true

	parent := execution.New(&flow.Flow{ID: "root", Namespace: "team", Revision: 1,
		Tasks: []flow.Task{{ID: "t", Type: "log"}}}, nil, nil)

	c := testCoordinator(t, f)

	_, err := c.Spawn(t.Context(), parent, flow.SubflowSpec{Namespace: "team", FlowID: "off"}, nil)
	assert.Error(t, err)
}

func TestSpawnPinsRevision(t *testing.T) {
	v1 := childFlow("versioned")
	v2 := childFlow("versioned")
	v2.Description = "second"

	c := testCoordinator(t, v1, v2)

	parent := execution.New(&flow.Flow{ID: "root", Namespace: "team", Revision: 1,
		Tasks: []flow.Task{{ID: "t", Type: "log"}}}, nil, nil)

	pinned := 1

	child, err := c.Spawn(t.Context(), parent,
		flow.SubflowSpec{Namespace: "team", FlowID: "versioned", Revision: &pinned}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, child.FlowRevision)

	latest, err := c.Spawn(t.Context(), parent,
		flow.SubflowSpec{Namespace: "team", FlowID: "versioned"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.FlowRevision)
}
