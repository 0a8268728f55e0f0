package libbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	libbus "github.com/contenox/planner/libbus"
	"github.com/stretchr/testify/require"
)

func TestUnit_InMemStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus := libbus.NewInMem()
	defer bus.Close()

	ch := make(chan []byte, 2)
	sub, err := bus.Stream(ctx, "plan.events", ch)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "plan.events", []byte("one")))
	require.Equal(t, []byte("one"), <-ch)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(ctx, "plan.events", []byte("two")))
	select {
	case <-ch:
		t.Fatal("received message after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUnit_InMemRequestReply(t *testing.T) {
	ctx := context.Background()
	bus := libbus.NewInMem()
	defer bus.Close()

	_, err := bus.Request(ctx, "agent.echo", []byte("x"))
	require.ErrorIs(t, err, libbus.ErrRequestTimeout)

	sub, err := bus.Serve(ctx, "agent.echo", func(ctx context.Context, data []byte) ([]byte, error) {
		if string(data) == "fail" {
			return nil, errors.New("boom")
		}
		return data, nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	reply, err := bus.Request(ctx, "agent.echo", []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), reply)

	reply, err = bus.Request(ctx, "agent.echo", []byte("fail"))
	require.NoError(t, err)
	require.Equal(t, "error: boom", string(reply))
}

func TestUnit_InMemClosed(t *testing.T) {
	bus := libbus.NewInMem()
	require.NoError(t, bus.Close())
	require.ErrorIs(t, bus.Publish(context.Background(), "x", nil), libbus.ErrConnectionClosed)
	_, err := bus.Serve(context.Background(), "x", func(context.Context, []byte) ([]byte, error) { return nil, nil })
	require.ErrorIs(t, err, libbus.ErrConnectionClosed)
}

func TestUnit_InMemReplacedHandlerSurvivesOldUnsubscribe(t *testing.T) {
	ctx := context.Background()
	bus := libbus.NewInMem()
	defer bus.Close()

	first, err := bus.Serve(ctx, "agent.echo", func(context.Context, []byte) ([]byte, error) { return []byte("first"), nil })
	require.NoError(t, err)
	_, err = bus.Serve(ctx, "agent.echo", func(context.Context, []byte) ([]byte, error) { return []byte("second"), nil })
	require.NoError(t, err)

	require.NoError(t, first.Unsubscribe())
	require.NoError(t, first.Unsubscribe())

	reply, err := bus.Request(ctx, "agent.echo", nil)
	require.NoError(t, err)
	require.Equal(t, "second", string(reply))
}

func TestUnit_InMemStreamEndsWithContext(t *testing.T) {
	bus := libbus.NewInMem()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan []byte)
	_, err := bus.Stream(ctx, "planner.plan", ch)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer pubCancel()
		return bus.Publish(pubCtx, "planner.plan", []byte("x")) == nil
	}, time.Second, 10*time.Millisecond, "publish must stop blocking once the subscriber is gone")
}
