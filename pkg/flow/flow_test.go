package flow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFlow() *Flow {
	return &Flow{
		ID:        "hello",
		Namespace: "company.team",
		Revision:  1,
		Tasks: []Task{
			{ID: "first", Type: "log", Config: map[string]any{"message": "hi"}},
			{ID: "second", Type: "log", Config: map[string]any{"message": "bye"}},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validFlow().Validate())
}

func TestValidate_DuplicateTaskID(t *testing.T) {
	f := validFlow()
	f.Tasks = append(f.Tasks, Task{ID: "first", Type: "log"})

	err := f.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateTaskID)
}

func TestValidate_DuplicateAcrossNesting(t *testing.T) {
	f := validFlow()
	f.Tasks = []Task{
		{
			ID:   "parent",
			Type: TypeSequential,
			Tasks: []Task{
				{ID: "parent", Type: "log"},
			},
		},
	}

	err := f.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateTaskID)
}

func TestValidate_DagCycle(t *testing.T) {
	f := validFlow()
	f.Tasks = []Task{
		{
			ID:   "graph",
			Type: TypeDag,
			Tasks: []Task{
				{ID: "a", Type: "log", DependsOn: []string{"b"}},
				{ID: "b", Type: "log", DependsOn: []string{"a"}},
			},
		},
	}

	err := f.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclicDag)
}

func TestValidate_DagUnknownDependency(t *testing.T) {
	f := validFlow()
	f.Tasks = []Task{
		{
			ID:   "graph",
			Type: TypeDag,
			Tasks: []Task{
				{ID: "a", Type: "log", DependsOn: []string{"ghost"}},
			},
		},
	}

	err := f.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDependency)
}

func TestValidate_SwitchWithoutCases(t *testing.T) {
	f := validFlow()
	f.Tasks = []Task{
		{ID: "choice", Type: TypeSwitch, Condition: "{{ inputs.kind }}"},
	}

	err := f.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestFindTaskAndParent(t *testing.T) {
	f := validFlow()
	f.Tasks = []Task{
		{
			ID:   "branching",
			Type: TypeIf,
			Condition: "{{ true }}",
			Then: []Task{
				{ID: "selected", Type: "log"},
			},
			Else: []Task{
				{ID: "other", Type: "log"},
			},
		},
	}

	task, ok := f.FindTask("other")
	require.True(t, ok)
	assert.Equal(t, "other", task.ID)

	parent, ok := f.FindParentTask("selected")
	require.True(t, ok)
	assert.Equal(t, "branching", parent.ID)

	_, ok = f.FindTask("missing")
	assert.False(t, ok)
}

func TestParse_YAML(t *testing.T) {
	data := []byte(`
id: hello
namespace: company.team
tasks:
  - id: greet
    type: log
    config:
      message: hello world
concurrency:
  limit: 2
  behavior: QUEUE
`)

	f, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "hello", f.ID)
	assert.Equal(t, 1, f.Revision)
	require.NotNil(t, f.Concurrency)
	assert.Equal(t, 2, f.Concurrency.Limit)
	assert.Equal(t, BehaviorQueue, f.Concurrency.Behavior)
	require.Len(t, f.Tasks, 1)
	assert.Equal(t, "greet", f.Tasks[0].ID)
}

func TestParse_DurationStrings(t *testing.T) {
	data := []byte(`
id: deadline
namespace: company.team
tasks:
  - id: fetch
    type: http-request
    timeout: 30s
    retry:
      type: constant
      max_attempts: 3
      interval: 1m30s
slas:
  - id: overall
    max_duration: 2h
    behavior: FAIL
`)

	f, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, f.Tasks[0].Timeout.D())
	require.NotNil(t, f.Tasks[0].Retry)
	assert.Equal(t, 90*time.Second, f.Tasks[0].Retry.Interval.D())
	require.Len(t, f.SLAs, 1)
	assert.Equal(t, 2*time.Hour, f.SLAs[0].MaxDuration.D())
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	task := Task{ID: "t", Type: "log", Timeout: Duration(45 * time.Second)}

	data, err := json.Marshal(task)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"45s"`)

	var decoded Task
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, task.Timeout, decoded.Timeout)
}

func TestResolveInputs(t *testing.T) {
	f := validFlow()
	f.Inputs = []Input{
		{ID: "name", Type: InputString, Required: true},
		{ID: "count", Type: InputInt, Default: 1},
		{ID: "mode", Type: InputSelect, Values: []string{"fast", "slow"}},
	}

	resolved, err := f.ResolveInputs(map[string]any{"name": "kestrel", "mode": "fast"})
	require.NoError(t, err)
	assert.Equal(t, "kestrel", resolved["name"])
	assert.Equal(t, 1, resolved["count"])
	assert.Equal(t, "fast", resolved["mode"])

	_, err = f.ResolveInputs(map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredInput)

	_, err = f.ResolveInputs(map[string]any{"name": "x", "mode": "warp"})
	require.Error(t, err)

	_, err = f.ResolveInputs(map[string]any{"name": "x", "ghost": true})
	require.Error(t, err)
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	constant := &RetryPolicy{Type: RetryConstant, MaxAttempts: 3, Interval: Duration(time.Second)}
	assert.Equal(t, time.Second, constant.NextDelay(1))
	assert.Equal(t, time.Second, constant.NextDelay(2))

	linear := &RetryPolicy{Type: RetryLinear, MaxAttempts: 5, Interval: Duration(time.Second)}
	assert.Equal(t, 2*time.Second, linear.NextDelay(2))
	assert.Equal(t, 3*time.Second, linear.NextDelay(3))

	capped := &RetryPolicy{Type: RetryLinear, MaxAttempts: 5, Interval: Duration(time.Second), MaxInterval: Duration(2 * time.Second)}
	assert.Equal(t, 2*time.Second, capped.NextDelay(4))

	exponential := &RetryPolicy{Type: RetryExponential, MaxAttempts: 5, Interval: Duration(time.Second)}
	assert.Equal(t, time.Second, exponential.NextDelay(1))
	assert.Equal(t, 2*time.Second, exponential.NextDelay(2))
	assert.Equal(t, 4*time.Second, exponential.NextDelay(3))
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	policy := &RetryPolicy{Type: RetryConstant, MaxAttempts: 3, Interval: Duration(time.Second)}

	assert.False(t, policy.Exhausted(2, time.Now().UTC()))
	assert.True(t, policy.Exhausted(3, time.Now().UTC()))

	bounded := &RetryPolicy{Type: RetryConstant, MaxAttempts: 10, Interval: Duration(time.Second), MaxDuration: Duration(time.Minute)}
	assert.True(t, bounded.Exhausted(1, time.Now().UTC().Add(-2*time.Minute)))
}

func TestMaxDurationSLA(t *testing.T) {
	f := validFlow()
	assert.Nil(t, f.MaxDurationSLA())

	f.SLAs = []SLA{
		{ID: "loose", MaxDuration: Duration(time.Hour), Behavior: SLACancel},
		{ID: "tight", MaxDuration: Duration(time.Minute), Behavior: SLAFail},
	}

	sla := f.MaxDurationSLA()
	require.NotNil(t, sla)
	assert.Equal(t, "tight", sla.ID)
}
