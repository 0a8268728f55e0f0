// Package libbus is the message bus used for plan events and remote agents.
// NATS backs multi-process deployments; InMem serves the single-process CLI.
package libbus

import (
	"context"
	"errors"
)

var (
	ErrConnectionClosed       = errors.New("libbus: connection closed")
	ErrRequestTimeout         = errors.New("libbus: request timed out")
	ErrStreamSubscriptionFail = errors.New("libbus: stream subscription failed")
)

// Handler answers a request received through Serve.
// A returned error is sent back to the caller as "error: <message>".
type Handler func(ctx context.Context, data []byte) ([]byte, error)

type Subscription interface {
	Unsubscribe() error
}

type Messenger interface {
	// Publish sends a fire-and-forget message.
	Publish(ctx context.Context, subject string, data []byte) error
	// Stream delivers every message on subject to ch until ctx ends or the
	// subscription is removed.
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	Serve(ctx context.Context, subject string, handler Handler) (Subscription, error)
	Close() error
}
