package trigger

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/state"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scheduledFlow(tr flow.Trigger) *flow.Flow {
	return &flow.Flow{
		ID: "nightly", Namespace: "reports", Revision: 1,
		Triggers: []flow.Trigger{tr},
		Tasks:    []flow.Task{{ID: "t", Type: "log"}},
	}
}

func finishedUpstream(t *testing.T, namespace, flowID string, final state.Type, outputs map[string]any) *execution.Execution {
	t.Helper()

	up := execution.New(&flow.Flow{ID: flowID, Namespace: namespace, Revision: 1,
		Tasks: []flow.Task{{ID: "t", Type: "log"}}}, nil, nil)
	require.NoError(t, up.WithState(state.Running))
	require.NoError(t, up.WithState(final))

	up.Outputs = outputs

	return up
}

func TestScheduleFiresOncePerInstant(t *testing.T) {
	e := NewScheduleEvaluator(NewMemoryStateStore(), discard())
	f := scheduledFlow(flow.Trigger{ID: "hourly", Type: flow.TriggerSchedule, Cron: "0 * * * *"})

	base := time.Date(2026, 8, 29, 9, 30, 0, 0, time.UTC)

	firings, err := e.Evaluate(t.Context(), f, &f.Triggers[0], base)
	require.NoError(t, err)
	assert.Empty(t, firings, "nothing due before the first boundary")

	firings, err = e.Evaluate(t.Context(), f, &f.Triggers[0], base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC), firings[0].At)
	assert.Equal(t, flow.TriggerSchedule, firings[0].Type)

	// Same instant again: the anchor advanced, nothing fires.
	firings, err = e.Evaluate(t.Context(), f, &f.Triggers[0], base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, firings)
}

func TestScheduleBackfillsMissedWindow(t *testing.T) {
	e := NewScheduleEvaluator(NewMemoryStateStore(), discard())

	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	f := scheduledFlow(flow.Trigger{
		ID: "hourly", Type: flow.TriggerSchedule, Cron: "0 * * * *",
		Backfill: &flow.Backfill{Start: start},
	})

	firings, err := e.Evaluate(t.Context(), f, &f.Triggers[0], start.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, firings, 6)
	assert.Equal(t, start, firings[0].At)
	assert.Equal(t, start.Add(5*time.Hour), firings[5].At)

	previous, ok := firings[1].Variables["previous"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, firings[0].At, previous)
}

func TestScheduleTimeConditionFilters(t *testing.T) {
	e := NewScheduleEvaluator(NewMemoryStateStore(), discard())

	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	f := scheduledFlow(flow.Trigger{
		ID: "hourly", Type: flow.TriggerSchedule, Cron: "0 * * * *",
		Backfill: &flow.Backfill{Start: start},
		Conditions: []flow.Condition{
			{Type: flow.ConditionTimeBetween, After: "02:00", Before: "03:00"},
		},
	})

	firings, err := e.Evaluate(t.Context(), f, &f.Triggers[0], start.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, firings, 2)
	assert.Equal(t, 2, firings[0].At.Hour())
	assert.Equal(t, 3, firings[1].At.Hour())
}

func TestScheduleDisabledTriggerNeverFires(t *testing.T) {
	e := NewScheduleEvaluator(NewMemoryStateStore(), discard())
	f := scheduledFlow(flow.Trigger{ID: "hourly", Type: flow.TriggerSchedule, Cron: "0 * * * *", Disabled: true})

	firings, err := e.Evaluate(t.Context(), f, &f.Triggers[0], time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, firings)
}

func TestListenerFiresOnMatchingUpstream(t *testing.T) {
	e := NewListenerEvaluator(NewMemoryStateStore(), discard())

	f := scheduledFlow(flow.Trigger{
		ID: "on-upstream", Type: flow.TriggerFlowListener,
		Preconditions: []flow.Condition{
			{Type: flow.ConditionExecutionFlow, Namespace: "etl", FlowID: "ingest"},
			{Type: flow.ConditionExecutionState, States: []string{"SUCCESS"}},
		},
	})

	up := finishedUpstream(t, "etl", "ingest", state.Success, map[string]any{"rows": 42})

	firing, err := e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], up, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, firing)

	assert.Equal(t, up.ID, firing.Variables["execution_id"])

	outputs, ok := firing.Variables["outputs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 42, outputs["rows"])
}

func TestListenerIgnoresNonMatchingUpstream(t *testing.T) {
	e := NewListenerEvaluator(NewMemoryStateStore(), discard())

	f := scheduledFlow(flow.Trigger{
		ID: "on-upstream", Type: flow.TriggerFlowListener,
		Preconditions: []flow.Condition{
			{Type: flow.ConditionExecutionFlow, Namespace: "etl", FlowID: "ingest"},
			{Type: flow.ConditionExecutionState, States: []string{"SUCCESS"}},
		},
	})

	up := finishedUpstream(t, "etl", "other", state.Success, nil)

	firing, err := e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], up, time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, firing)
}

func TestListenerWaitsForAllPreconditions(t *testing.T) {
	e := NewListenerEvaluator(NewMemoryStateStore(), discard())

	f := scheduledFlow(flow.Trigger{
		ID: "join", Type: flow.TriggerFlowListener,
		Preconditions: []flow.Condition{
			{ID: "left", Type: flow.ConditionExecutionFlow, Namespace: "etl", FlowID: "left"},
			{ID: "right", Type: flow.ConditionExecutionFlow, Namespace: "etl", FlowID: "right"},
		},
	})

	now := time.Now().UTC()

	left := finishedUpstream(t, "etl", "left", state.Success, map[string]any{"left": 1})

	firing, err := e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], left, now)
	require.NoError(t, err)
	assert.Nil(t, firing, "one of two preconditions is not enough")

	right := finishedUpstream(t, "etl", "right", state.Success, map[string]any{"right": 2})

	firing, err = e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], right, now)
	require.NoError(t, err)
	require.NotNil(t, firing)

	outputs, ok := firing.Variables["outputs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, outputs["left"])
	assert.Equal(t, 2, outputs["right"])

	// Firing reset the satisfied set: the same upstream alone does not
	// re-fire.
	firing, err = e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], right, now)
	require.NoError(t, err)
	assert.Nil(t, firing)
}

func TestListenerNoResetKeepsSatisfied(t *testing.T) {
	e := NewListenerEvaluator(NewMemoryStateStore(), discard())

	noReset := false
	f := scheduledFlow(flow.Trigger{
		ID: "join", Type: flow.TriggerFlowListener,
		ResetOnSuccess: &noReset,
		Preconditions: []flow.Condition{
			{ID: "left", Type: flow.ConditionExecutionFlow, Namespace: "etl", FlowID: "left"},
			{ID: "right", Type: flow.ConditionExecutionFlow, Namespace: "etl", FlowID: "right"},
		},
	})

	now := time.Now().UTC()

	left := finishedUpstream(t, "etl", "left", state.Success, nil)
	right := finishedUpstream(t, "etl", "right", state.Success, nil)

	_, err := e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], left, now)
	require.NoError(t, err)

	firing, err := e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], right, now)
	require.NoError(t, err)
	require.NotNil(t, firing)

	// left stays satisfied: right alone re-fires.
	firing, err = e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], right, now)
	require.NoError(t, err)
	assert.NotNil(t, firing)
}

func TestMultipleConditionWindowExpires(t *testing.T) {
	e := NewListenerEvaluator(NewMemoryStateStore(), discard())

	f := scheduledFlow(flow.Trigger{
		ID: "windowed", Type: flow.TriggerMultipleCondition,
		Window: flow.Duration(time.Hour),
		Preconditions: []flow.Condition{
			{ID: "left", Type: flow.ConditionExecutionFlow, Namespace: "etl", FlowID: "left"},
			{ID: "right", Type: flow.ConditionExecutionFlow, Namespace: "etl", FlowID: "right"},
		},
	})

	base := time.Now().UTC()

	left := finishedUpstream(t, "etl", "left", state.Success, nil)

	_, err := e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], left, base)
	require.NoError(t, err)

	// The second upstream lands outside the window: the first expired.
	right := finishedUpstream(t, "etl", "right", state.Success, nil)

	firing, err := e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], right, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, firing)

	// Within the window both are live and the trigger fires.
	left2 := finishedUpstream(t, "etl", "left", state.Success, nil)

	firing, err = e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], left2, base.Add(2*time.Hour+time.Minute))
	require.NoError(t, err)
	assert.NotNil(t, firing)
}

func TestListenerIgnoresOwnFlow(t *testing.T) {
	e := NewListenerEvaluator(NewMemoryStateStore(), discard())

	f := scheduledFlow(flow.Trigger{
		ID: "self", Type: flow.TriggerFlowListener,
		Preconditions: []flow.Condition{
			{Type: flow.ConditionExecutionState, States: []string{"SUCCESS"}},
		},
	})

	up := finishedUpstream(t, f.Namespace, f.ID, state.Success, nil)

	firing, err := e.OnExecutionFinished(t.Context(), f, &f.Triggers[0], up, time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, firing)
}

func TestDayWeekInMonthCondition(t *testing.T) {
	// 2026-08-03 is the first Monday of August 2026; 2026-08-31 the last.
	firstMonday := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	lastMonday := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	assert.True(t, dayWeekInMonth(time.Monday, flow.DayInMonthFirst, firstMonday))
	assert.False(t, dayWeekInMonth(time.Monday, flow.DayInMonthFirst, lastMonday))
	assert.True(t, dayWeekInMonth(time.Monday, flow.DayInMonthLast, lastMonday))
	assert.False(t, dayWeekInMonth(time.Tuesday, flow.DayInMonthFirst, firstMonday))
}

func TestTimeBetweenCrossesMidnight(t *testing.T) {
	late := time.Date(2026, 8, 29, 23, 30, 0, 0, time.UTC)
	early := time.Date(2026, 8, 29, 1, 30, 0, 0, time.UTC)
	midday := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{late, early} {
		ok, err := timeBetween("22:00", "02:00", at)
		require.NoError(t, err)
		assert.True(t, ok, "%s", at)
	}

	ok, err := timeBetween("22:00", "02:00", midday)
	require.NoError(t, err)
	assert.False(t, ok)
}
