package plantypes_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/contenox/planner/plantypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(id int, deps ...int) *plantypes.Step {
	return &plantypes.Step{
		ID:           id,
		AgentName:    "echo",
		Command:      "say",
		Dependencies: deps,
		Status:       plantypes.StepStatusPending,
	}
}

func ids(layer []*plantypes.Step) []int {
	out := make([]int, 0, len(layer))
	for _, s := range layer {
		out = append(out, s.ID)
	}
	return out
}

func TestUnit_Validate(t *testing.T) {
	t.Run("acyclic plan passes", func(t *testing.T) {
		require.NoError(t, plantypes.Validate([]*plantypes.Step{step(1), step(2, 1), step(3, 1, 2)}))
	})
	t.Run("empty plan", func(t *testing.T) {
		require.ErrorIs(t, plantypes.Validate(nil), plantypes.ErrEmptyPlan)
	})
	t.Run("self dependency", func(t *testing.T) {
		require.ErrorIs(t, plantypes.Validate([]*plantypes.Step{step(1, 1)}), plantypes.ErrCyclicDependency)
	})
	t.Run("cycle names the path", func(t *testing.T) {
		err := plantypes.Validate([]*plantypes.Step{step(1, 3), step(2, 1), step(3, 2)})
		require.ErrorIs(t, err, plantypes.ErrCyclicDependency)
		assert.Contains(t, err.Error(), "->")
	})
	t.Run("unknown dependency", func(t *testing.T) {
		err := plantypes.Validate([]*plantypes.Step{step(1), step(2, 7)})
		require.ErrorIs(t, err, plantypes.ErrUnknownDependency)
		assert.Contains(t, err.Error(), "7")
	})
	t.Run("duplicate id", func(t *testing.T) {
		require.ErrorIs(t, plantypes.Validate([]*plantypes.Step{step(1), step(1)}), plantypes.ErrDuplicateStepID)
	})
	t.Run("missing agent", func(t *testing.T) {
		s := step(1)
		s.AgentName = " "
		require.ErrorIs(t, plantypes.Validate([]*plantypes.Step{s}), plantypes.ErrMissingAgent)
	})
	t.Run("duplicate dependencies collapse", func(t *testing.T) {
		s := step(2, 1, 1, 1)
		require.NoError(t, plantypes.Validate([]*plantypes.Step{step(1), s}))
		assert.Equal(t, []int{1}, s.Dependencies)
	})
}

func TestUnit_Layers(t *testing.T) {
	steps := []*plantypes.Step{step(4, 2, 3), step(3, 1), step(2, 1), step(1), step(5)}
	layers, err := plantypes.Layers(steps)
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, []int{1, 5}, ids(layers[0]))
	assert.Equal(t, []int{2, 3}, ids(layers[1]))
	assert.Equal(t, []int{4}, ids(layers[2]))
}

func TestUnit_LayersSkipCompleted(t *testing.T) {
	done := step(1)
	done.Status = plantypes.StepStatusCompleted
	layers, err := plantypes.Layers([]*plantypes.Step{done, step(2, 1), step(3, 2)})
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, []int{2}, ids(layers[0]))
	assert.Equal(t, []int{3}, ids(layers[1]))
}

func TestUnit_CloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := step(1)
	orig.Args = json.RawMessage(`{"message":"hi"}`)
	orig.Output = json.RawMessage(`"out"`)
	orig.StartTime = &now

	clone := plantypes.Clone([]*plantypes.Step{orig})
	clone[0].Args[2] = 'X'
	clone[0].Output = nil
	*clone[0].StartTime = now.Add(time.Hour)
	clone[0].Status = plantypes.StepStatusFailed

	assert.Equal(t, `{"message":"hi"}`, string(orig.Args))
	assert.Equal(t, `"out"`, string(orig.Output))
	assert.Equal(t, now, *orig.StartTime)
	assert.Equal(t, plantypes.StepStatusPending, orig.Status)
}

func TestUnit_StripExecution(t *testing.T) {
	now := time.Now()
	s := step(1)
	s.Status = plantypes.StepStatusCompleted
	s.Output = json.RawMessage(`"x"`)
	s.Error = "nope"
	s.StartTime, s.EndTime, s.Duration = &now, &now, time.Second

	stripped := plantypes.StripExecution([]*plantypes.Step{s})
	require.Len(t, stripped, 1)
	got := stripped[0]
	assert.Equal(t, plantypes.StepStatusPending, got.Status)
	assert.Nil(t, got.Output)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.StartTime)
	assert.Zero(t, got.Duration)
	assert.Equal(t, plantypes.StepStatusCompleted, s.Status)
}

func TestUnit_ResetUnfinished(t *testing.T) {
	done, failed, running := step(1), step(2), step(3)
	done.Status = plantypes.StepStatusCompleted
	failed.Status, failed.Error = plantypes.StepStatusFailed, "boom"
	running.Status = plantypes.StepStatusInProgress

	plantypes.ResetUnfinished([]*plantypes.Step{done, failed, running})
	assert.Equal(t, plantypes.StepStatusCompleted, done.Status)
	assert.Equal(t, plantypes.StepStatusPending, failed.Status)
	assert.Empty(t, failed.Error)
	assert.Equal(t, plantypes.StepStatusPending, running.Status)
}

func TestUnit_CarryOver(t *testing.T) {
	prev := []*plantypes.Step{step(1), step(2, 1)}
	prev[0].Status, prev[0].Output = plantypes.StepStatusCompleted, json.RawMessage(`"a"`)
	prev[0].Args = json.RawMessage(`{"x": 1}`)
	prev[1].Status = plantypes.StepStatusFailed

	revised := []*plantypes.Step{step(1), step(2, 1), step(3)}
	revised[0].Args = json.RawMessage(`{"x":1}`)
	n := plantypes.CarryOver(prev, revised)

	assert.Equal(t, 1, n)
	assert.Equal(t, plantypes.StepStatusCompleted, revised[0].Status)
	assert.Equal(t, `"a"`, string(revised[0].Output))
	assert.Equal(t, plantypes.StepStatusPending, revised[1].Status)

	changed := []*plantypes.Step{step(1)}
	changed[0].Command = "other"
	assert.Zero(t, plantypes.CarryOver(prev, changed))
}

func TestUnit_Summary(t *testing.T) {
	a, b, c := step(2), step(1), step(3)
	a.Status, a.Output = plantypes.StepStatusCompleted, json.RawMessage(`"second"`)
	b.Status, b.Output = plantypes.StepStatusCompleted, json.RawMessage(`"first"`)
	c.Status, c.Output = plantypes.StepStatusFailed, json.RawMessage(`"ignored"`)
	assert.Equal(t, "first\nsecond", plantypes.Summary([]*plantypes.Step{a, b, c}))

	obj := step(4)
	obj.Status, obj.Output = plantypes.StepStatusCompleted, json.RawMessage(`{"k":1}`)
	assert.Equal(t, `{"k":1}`, plantypes.Summary([]*plantypes.Step{obj}))
}

func TestUnit_StepDurationIsMilliseconds(t *testing.T) {
	s := step(1)
	s.Duration = 1500 * time.Millisecond
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"duration":1500`)

	var back plantypes.Step
	require.NoError(t, json.Unmarshal([]byte(`{"id":9,"agentName":"echo","duration":250}`), &back))
	assert.Equal(t, 250*time.Millisecond, back.Duration)
	assert.Equal(t, plantypes.StepStatusPending, back.Status)
}
