package libbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	libbus "github.com/contenox/planner/libbus"
	"github.com/stretchr/testify/require"
)

func newNATS(t *testing.T) libbus.Messenger {
	t.Helper()
	bus, cleanup, err := libbus.NewTestPubSub()
	t.Cleanup(cleanup)
	require.NoError(t, err)
	return bus
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestSystem_NATSStreamAndUnsubscribe(t *testing.T) {
	bus := newNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch := make(chan []byte, 4)
	sub, err := bus.Stream(ctx, "planner.plan", ch)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "planner.plan", []byte(`{"total":2}`)))
	require.JSONEq(t, `{"total":2}`, string(receive(t, ch)))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(ctx, "planner.plan", []byte("late")))
	select {
	case msg := <-ch:
		t.Fatalf("received %q after unsubscribe", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSystem_NATSRequestReply(t *testing.T) {
	bus := newNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := bus.Serve(ctx, "agent.echo", func(ctx context.Context, data []byte) ([]byte, error) {
		switch string(data) {
		case "fail":
			return nil, errors.New("boom")
		case "panic":
			panic("handler exploded")
		}
		return append([]byte("echo:"), data...), nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	reply, err := bus.Request(ctx, "agent.echo", []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, "echo:hi", string(reply))

	reply, err = bus.Request(ctx, "agent.echo", []byte("fail"))
	require.NoError(t, err)
	require.Equal(t, "error: boom", string(reply))

	reply, err = bus.Request(ctx, "agent.echo", []byte("panic"))
	require.NoError(t, err)
	require.Contains(t, string(reply), "handler panic")
}

func TestSystem_NATSRequestWithoutResponder(t *testing.T) {
	bus := newNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := bus.Request(ctx, "agent.nobody", []byte("x"))
	require.Error(t, err)
}

func TestSystem_NATSServeStopsWithContext(t *testing.T) {
	bus := newNATS(t)
	serveCtx, stop := context.WithCancel(context.Background())

	_, err := bus.Serve(serveCtx, "agent.short", func(context.Context, []byte) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)

	reply, err := bus.Request(context.Background(), "agent.short", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", string(reply))

	stop()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := bus.Request(ctx, "agent.short", nil)
		return err != nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSystem_NATSClosed(t *testing.T) {
	bus := newNATS(t)
	require.NoError(t, bus.Close())

	ctx := context.Background()
	require.ErrorIs(t, bus.Publish(ctx, "x", nil), libbus.ErrConnectionClosed)
	_, err := bus.Stream(ctx, "x", make(chan []byte))
	require.ErrorIs(t, err, libbus.ErrConnectionClosed)
	_, err = bus.Request(ctx, "x", nil)
	require.ErrorIs(t, err, libbus.ErrConnectionClosed)
}
