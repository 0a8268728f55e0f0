package planservice_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/contenox/planner/agentregistry"
	"github.com/contenox/planner/libtracker"
	"github.com/contenox/planner/planadvisor"
	"github.com/contenox/planner/planexec"
	"github.com/contenox/planner/planservice"
	"github.com/contenox/planner/planstore"
	"github.com/contenox/planner/plantypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(id int, command string, deps ...int) *plantypes.Step {
	if deps == nil {
		deps = []int{}
	}
	return &plantypes.Step{
		ID:           id,
		AgentName:    "worker",
		Command:      command,
		Dependencies: deps,
		Status:       plantypes.StepStatusPending,
	}
}

type fixture struct {
	store   planstore.Store
	worker  *agentregistry.MockCapability
	advisor *planadvisor.MockAdvisor
	service planservice.Service
}

func setup(t *testing.T, opts ...planservice.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := planstore.New(ctx, planstore.NewMemoryBackend())
	require.NoError(t, err)

	worker := agentregistry.NewMockCapability()
	reg := agentregistry.New()
	require.NoError(t, reg.Register("worker", worker))

	adv := &planadvisor.MockAdvisor{Explanation: "two steps"}
	return &fixture{
		store:   store,
		worker:  worker,
		advisor: adv,
		service: planservice.New(store, planexec.New(reg), adv, opts...),
	}
}

func TestUnit_SuccessfulRunDeletesCheckpoint(t *testing.T) {
	f := setup(t)
	f.advisor.Plan = []*plantypes.Step{step(1, "a"), step(2, "b", 1)}

	var snapshots int
	resp, err := f.service.Execute(context.Background(), planservice.Request{
		RequestText:    "do a then b",
		SaveAsTemplate: "ab",
		OnPlanUpdate:   func([]*plantypes.Step) { snapshots++ },
	})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)

	assert.Equal(t, "ok\nok", resp.Output)
	assert.Equal(t, "two steps", resp.Explanation)
	assert.NotEmpty(t, resp.TraceID)
	assert.Empty(t, resp.CheckpointID)
	assert.Equal(t, 0, resp.Revisions)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, "do a then b", resp.Plan.RequestText)
	assert.Equal(t, 2, plantypes.Count(resp.Plan.Steps, plantypes.StepStatusCompleted))
	assert.GreaterOrEqual(t, snapshots, 3)

	ids, err := f.service.GetCheckpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	names, err := f.service.GetTemplates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ab"}, names)
	tpl, err := f.service.LoadTemplate(context.Background(), "ab")
	require.NoError(t, err)
	for _, s := range tpl {
		assert.Equal(t, plantypes.StepStatusPending, s.Status)
		assert.Nil(t, s.Output)
	}
}

func TestUnit_RevisionIsBounded(t *testing.T) {
	f := setup(t)
	f.worker.DefaultResponse = agentregistry.Result{Success: false, Error: "boom"}
	f.advisor.Plan = []*plantypes.Step{step(1, "a")}

	resp, err := f.service.Execute(context.Background(), planservice.Request{RequestText: "x"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.False(t, resp.Cancelled)
	assert.Equal(t, 3, resp.Revisions)
	assert.Equal(t, 3, f.advisor.ReviseCalls)
	assert.Equal(t, []int{1, 2, 3}, f.advisor.ReviseAttempts)
	assert.Equal(t, 4, f.worker.CallCount())
	assert.Contains(t, resp.Error, planservice.ErrRevisionsExhausted.Error())
	assert.Contains(t, resp.Error, "boom")
	for _, msg := range f.advisor.ReviseErrors {
		assert.Contains(t, msg, "boom")
	}

	require.NotEmpty(t, resp.CheckpointID)
	ids, err := f.service.GetCheckpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{resp.CheckpointID}, ids, "only the last attempt is kept")

	cp, err := f.service.GetCheckpoint(context.Background(), resp.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, "x", cp.RequestText)
	assert.Equal(t, plantypes.StepStatusFailed, cp.Steps[0].Status)
}

func TestUnit_MaxRevisionsOption(t *testing.T) {
	f := setup(t, planservice.WithMaxRevisions(1))
	f.worker.DefaultResponse = agentregistry.Result{Success: false, Error: "boom"}
	f.advisor.Plan = []*plantypes.Step{step(1, "a")}

	resp, err := f.service.Execute(context.Background(), planservice.Request{RequestText: "x", PreventCheckpoint: true})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 1, f.advisor.ReviseCalls)
	assert.Empty(t, resp.CheckpointID)

	ids, err := f.service.GetCheckpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUnit_RevisionKeepsCompletedWork(t *testing.T) {
	f := setup(t)
	f.worker.ResponseMap["broken"] = agentregistry.Result{Success: false, Error: "wrong command"}
	f.advisor.Plan = []*plantypes.Step{step(1, "a"), step(2, "broken", 1)}
	f.advisor.Revisions = [][]*plantypes.Step{{step(1, "a"), step(2, "fixed", 1)}}

	resp, err := f.service.Execute(context.Background(), planservice.Request{RequestText: "x"})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 1, resp.Revisions)
	assert.Equal(t, []int{1, 2, 2}, f.worker.StepIDs(), "step 1 runs once")
	assert.Equal(t, "fixed", resp.Plan.Steps[1].Command)
}

func TestUnit_MissingTemplate(t *testing.T) {
	f := setup(t)

	resp, err := f.service.Execute(context.Background(), planservice.Request{LoadFromTemplate: "ghost"})
	require.ErrorIs(t, err, planstore.ErrTemplateNotFound)
	assert.Contains(t, err.Error(), "Template 'ghost' not found")
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "ghost")
	assert.Equal(t, 0, f.worker.CallCount())
	assert.Equal(t, 0, f.advisor.GenerateCalls)
}

func TestUnit_MissingCheckpoint(t *testing.T) {
	f := setup(t)

	_, err := f.service.Execute(context.Background(), planservice.Request{ResumeFromCheckpointID: "nope"})
	require.ErrorIs(t, err, planstore.ErrCheckpointNotFound)
	assert.Contains(t, err.Error(), "Checkpoint 'nope' not found")
}

func TestUnit_ResumeSkipsCompletedSteps(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	done := step(1, "a")
	done.Status = plantypes.StepStatusCompleted
	done.Output = json.RawMessage(`"first"`)
	failed := step(2, "b", 1)
	failed.Status = plantypes.StepStatusFailed
	failed.Error = "earlier failure"

	id, err := f.service.CreateCheckpoint(ctx, []*plantypes.Step{done, failed}, "resume me")
	require.NoError(t, err)

	resp, err := f.service.Execute(ctx, planservice.Request{ResumeFromCheckpointID: id})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, []int{2}, f.worker.StepIDs())
	assert.Equal(t, "first\nok", resp.Output)
	assert.Equal(t, "resume me", resp.Plan.RequestText)
	assert.Equal(t, 0, f.advisor.GenerateCalls)

	_, err = f.service.ResumeFromCheckpoint(ctx, id)
	require.ErrorIs(t, err, planstore.ErrCheckpointNotFound)
}

func TestUnit_InvalidGeneratedPlan(t *testing.T) {
	f := setup(t)
	f.advisor.Plan = []*plantypes.Step{step(1, "a", 2), step(2, "b", 1)}

	resp, err := f.service.Execute(context.Background(), planservice.Request{RequestText: "x"})
	require.ErrorIs(t, err, plantypes.ErrCyclicDependency)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, f.worker.CallCount())

	ids, err := f.service.GetCheckpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUnit_AdvisorFailureIsStructural(t *testing.T) {
	f := setup(t)
	f.advisor.GenerateErr = &planadvisor.AdvisorError{Op: "generate", Err: planadvisor.ErrMalformedPlan}

	resp, err := f.service.Execute(context.Background(), planservice.Request{RequestText: "x"})
	require.ErrorIs(t, err, planadvisor.ErrMalformedPlan)
	assert.False(t, resp.Success)
}

func TestUnit_EmptyRequest(t *testing.T) {
	f := setup(t)
	_, err := f.service.Execute(context.Background(), planservice.Request{})
	require.ErrorIs(t, err, planservice.ErrEmptyRequest)
}

func TestUnit_ExplanationFailureIsSwallowed(t *testing.T) {
	f := setup(t)
	f.advisor.Plan = []*plantypes.Step{step(1, "a")}
	f.advisor.ExplainErr = errors.New("model offline")

	resp, err := f.service.Execute(context.Background(), planservice.Request{RequestText: "x"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Explanation)

	resp, err = f.service.Execute(context.Background(), planservice.Request{RequestText: "x", SkipExplanation: true})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, f.advisor.ExplainCalls)
}

func TestUnit_ExplanationOptionsReachAdvisor(t *testing.T) {
	opts := planadvisor.ExplainOptions{Detailed: true, IncludeOutputs: true}
	f := setup(t, planservice.WithExplanation(opts))
	f.advisor.Plan = []*plantypes.Step{step(1, "a")}

	resp, err := f.service.Execute(context.Background(), planservice.Request{RequestText: "x"})
	require.NoError(t, err)
	assert.Equal(t, "two steps", resp.Explanation)
	assert.Equal(t, opts, f.advisor.ExplainOpts)
}

func TestUnit_CancellationKeepsCheckpoint(t *testing.T) {
	f := setup(t)
	f.advisor.Plan = []*plantypes.Step{step(1, "a"), step(2, "b", 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, err := f.service.Execute(ctx, planservice.Request{
		RequestText: "x",
		OnPlanUpdate: func(steps []*plantypes.Step) {
			if plantypes.Count(steps, plantypes.StepStatusCompleted) > 0 {
				cancel()
			}
		},
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.True(t, resp.Cancelled)
	assert.Equal(t, 0, f.advisor.ReviseCalls)
	assert.Equal(t, []int{1}, f.worker.StepIDs())

	require.NotEmpty(t, resp.CheckpointID)
	cp, err := f.service.GetCheckpoint(context.Background(), resp.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, plantypes.StepStatusCompleted, cp.Steps[0].Status)
	assert.Equal(t, plantypes.StepStatusPending, cp.Steps[1].Status)
}

func TestUnit_ObserverPanicDoesNotAbortRun(t *testing.T) {
	f := setup(t)
	f.advisor.Plan = []*plantypes.Step{step(1, "a")}

	resp, err := f.service.Execute(context.Background(), planservice.Request{
		RequestText:  "x",
		OnPlanUpdate: func([]*plantypes.Step) { panic("observer bug") },
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestUnit_ObserverGetsCopies(t *testing.T) {
	var mu sync.Mutex
	var seen [][]*plantypes.Step
	f := setup(t, planservice.WithObserver(func(steps []*plantypes.Step) {
		mu.Lock()
		seen = append(seen, steps)
		mu.Unlock()
		steps[0].Command = "tampered"
	}))
	f.advisor.Plan = []*plantypes.Step{step(1, "a")}

	resp, err := f.service.Execute(context.Background(), planservice.Request{RequestText: "x"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "a", resp.Plan.Steps[0].Command)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, plantypes.StepStatusPending, seen[0][0].Status)
}

func TestUnit_ExecuteCallsAreSerialized(t *testing.T) {
	f := setup(t)
	var inFlight, maxSeen atomic.Int32
	f.worker.Handler = func(ctx context.Context, inv agentregistry.Invocation) (agentregistry.Result, error) {
		n := inFlight.Add(1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return agentregistry.Result{Success: true, Output: json.RawMessage(`"ok"`)}, nil
	}
	f.advisor.Plan = []*plantypes.Step{step(1, "a")}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.service.Execute(context.Background(), planservice.Request{RequestText: "x"})
			assert.NoError(t, err)
			assert.True(t, resp.Success)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, 4, f.worker.CallCount())
}

func TestUnit_TraceIDReachesTracker(t *testing.T) {
	rec := &recordingTracker{}
	f := setup(t, planservice.WithTracker(rec))
	f.advisor.Plan = []*plantypes.Step{step(1, "a")}

	svc := planservice.WithActivityTracker(f.service, rec)
	resp, err := svc.Execute(context.Background(), planservice.Request{RequestText: "x"})
	require.NoError(t, err)

	ops := rec.operations()
	assert.Equal(t, []string{"execute", "obtain_plan", "execute", "finalize"}, ops)
	for _, tid := range rec.traceIDs()[1:] {
		assert.Equal(t, resp.TraceID, tid)
	}
}

type recordingTracker struct {
	mu     sync.Mutex
	ops    []string
	traces []string
}

func (r *recordingTracker) Start(ctx context.Context, operation, subject string, kv ...any) (func(error), func(string, any), func()) {
	r.mu.Lock()
	r.ops = append(r.ops, operation)
	r.traces = append(r.traces, libtracker.TraceIDFrom(ctx))
	r.mu.Unlock()
	return func(error) {}, func(string, any) {}, func() {}
}

func (r *recordingTracker) operations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recordingTracker) traceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.traces...)
}
