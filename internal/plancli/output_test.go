package plancli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/contenox/planner/planadvisor"
	"github.com/contenox/planner/planservice"
	"github.com/contenox/planner/plantypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_formatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"zero", 0, "0µs"},
		{"micro", 500 * time.Microsecond, "500µs"},
		{"milli", 53 * time.Millisecond, "53ms"},
		{"seconds", 1700 * time.Millisecond, "1.70s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.d))
		})
	}
}

func Test_decodeStepsFile(t *testing.T) {
	t.Run("yaml object", func(t *testing.T) {
		data := []byte(`
steps:
  - id: 1
    description: fetch the page
    agentName: webhook
    command: GET
    args:
      url: https://example.com
  - id: 2
    agentName: echo
    dependencies: [1]
    status: completed
`)
		steps, err := decodeStepsFile(data)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, "webhook", steps[0].AgentName)
		assert.JSONEq(t, `{"url":"https://example.com"}`, string(steps[0].Args))
		assert.Equal(t, []int{1}, steps[1].Dependencies)
		assert.Equal(t, plantypes.StepStatusPending, steps[1].Status, "execution state is never imported")
	})

	t.Run("json array", func(t *testing.T) {
		steps, err := decodeStepsFile([]byte(`[{"agentName":"echo"},{"agentName":"echo","dependencies":[1]}]`))
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, 2, steps[1].ID)
	})

	t.Run("cyclic plan is rejected", func(t *testing.T) {
		_, err := decodeStepsFile([]byte(`[{"id":1,"agentName":"echo","dependencies":[2]},{"id":2,"agentName":"echo","dependencies":[1]}]`))
		require.ErrorIs(t, err, plantypes.ErrCyclicDependency)
	})

	t.Run("not a plan", func(t *testing.T) {
		_, err := decodeStepsFile([]byte("just some words"))
		require.ErrorIs(t, err, planadvisor.ErrMalformedPlan)
	})
}

func Test_encodeStepsRoundTrip(t *testing.T) {
	steps := []*plantypes.Step{
		{ID: 1, AgentName: "echo", Command: "say", Args: json.RawMessage(`{"text":"hi"}`), Dependencies: []int{}, Status: plantypes.StepStatusPending},
		{ID: 2, AgentName: "echo", Dependencies: []int{1}, Status: plantypes.StepStatusPending},
	}
	for _, asYAML := range []bool{false, true} {
		out, err := encodeSteps(steps, asYAML)
		require.NoError(t, err)
		back, err := decodeStepsFile(out)
		require.NoError(t, err)
		require.Len(t, back, 2)
		assert.Equal(t, "say", back[0].Command)
		assert.JSONEq(t, `{"text":"hi"}`, string(back[0].Args))
		assert.Equal(t, []int{1}, back[1].Dependencies)
	}
}

func Test_printResponse(t *testing.T) {
	t.Run("failure shows checkpoint hint", func(t *testing.T) {
		var buf bytes.Buffer
		printResponse(&buf, &planservice.Response{
			Error:        "step 2 failed",
			TraceID:      "trace-1",
			CheckpointID: "cp-9",
			Revisions:    3,
		}, false)
		out := buf.String()
		assert.Contains(t, out, "Failed: step 2 failed")
		assert.Contains(t, out, "Revisions: 3")
		assert.Contains(t, out, "planner checkpoint resume cp-9")
	})

	t.Run("success with steps", func(t *testing.T) {
		end := time.Now()
		var buf bytes.Buffer
		printResponse(&buf, &planservice.Response{
			Success:     true,
			Output:      "42 links",
			Explanation: "fetch then count",
			TraceID:     "trace-2",
			Plan: &plantypes.Plan{Steps: []*plantypes.Step{
				{ID: 2, AgentName: "jsonquery", Dependencies: []int{1}, Status: plantypes.StepStatusCompleted, EndTime: &end, Duration: 53 * time.Millisecond},
				{ID: 1, AgentName: "webhook", Dependencies: []int{}, Status: plantypes.StepStatusCompleted, EndTime: &end, Duration: 2 * time.Second},
			}},
		}, true)
		out := buf.String()
		assert.Contains(t, out, "Plan: fetch then count")
		assert.Contains(t, out, "42 links")
		assert.NotContains(t, out, "Checkpoint:")
		assert.Less(t, bytes.Index(buf.Bytes(), []byte("webhook")), bytes.Index(buf.Bytes(), []byte("jsonquery")), "steps print in id order")
		assert.Contains(t, out, "53ms")
	})
}

func Test_progressPrinterSkipsRepeats(t *testing.T) {
	var buf bytes.Buffer
	observe := progressPrinter(&buf)
	steps := []*plantypes.Step{
		{ID: 1, AgentName: "echo", Status: plantypes.StepStatusPending},
		{ID: 2, AgentName: "echo", Status: plantypes.StepStatusPending},
	}
	observe(steps)
	observe(steps)
	steps[0].Status = plantypes.StepStatusCompleted
	observe(steps)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}

func Test_truncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
