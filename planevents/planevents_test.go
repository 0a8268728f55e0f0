package planevents_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/contenox/planner/libbus"
	"github.com/contenox/planner/planevents"
	"github.com/contenox/planner/plantypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steps() []*plantypes.Step {
	return []*plantypes.Step{
		{ID: 1, AgentName: "echo", Status: plantypes.StepStatusCompleted, Output: json.RawMessage(`"hi"`)},
		{ID: 2, AgentName: "echo", Status: plantypes.StepStatusFailed, Error: "boom"},
		{ID: 3, AgentName: "echo", Status: plantypes.StepStatusPending},
	}
}

func receive(t *testing.T, ch <-chan planevents.Snapshot) planevents.Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "channel closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}
	return planevents.Snapshot{}
}

func TestUnit_SnapshotCounts(t *testing.T) {
	s := planevents.NewSnapshot(steps(), time.Unix(0, 0))
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, "1/3 completed, 1 failed", s.String())
}

func TestUnit_BusObserverRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := libbus.NewInMem()
	defer bus.Close()

	ch, err := planevents.Subscribe(ctx, bus, "")
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	observe := planevents.NewBusObserver(bus, "", planevents.WithClock(func() time.Time { return at }))
	observe(steps())

	got := receive(t, ch)
	assert.Equal(t, 3, got.Total)
	assert.True(t, at.Equal(got.At))
	require.Len(t, got.Steps, 3)
	assert.Equal(t, "boom", got.Steps[1].Error)
	assert.JSONEq(t, `"hi"`, string(got.Steps[0].Output))
}

func TestUnit_SubscribeSkipsGarbage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := libbus.NewInMem()
	defer bus.Close()

	ch, err := planevents.Subscribe(ctx, bus, "runs")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "runs", []byte("not json")))
	planevents.NewBusObserver(bus, "runs")(steps()[:1])

	got := receive(t, ch)
	assert.Equal(t, 1, got.Total)

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			_, ok = <-ch
		}
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestUnit_ObserverSurvivesClosedBus(t *testing.T) {
	bus := libbus.NewInMem()
	require.NoError(t, bus.Close())
	observe := planevents.NewBusObserver(bus, "x", planevents.WithPublishTimeout(10*time.Millisecond))
	assert.NotPanics(t, func() { observe(steps()) })
}

func TestSystem_BusObserverOverNATS(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus, cleanup, err := libbus.NewTestPubSub()
	require.NoError(t, err)
	defer cleanup()

	ch, err := planevents.Subscribe(ctx, bus, "planner.test")
	require.NoError(t, err)
	planevents.NewBusObserver(bus, "planner.test")(steps())

	got := receive(t, ch)
	assert.Equal(t, 1, got.Completed)
}
