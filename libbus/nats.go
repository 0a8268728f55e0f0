package libbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type Config struct {
	NATSURL      string
	NATSUser     string
	NATSPassword string
	// ConnectTimeout bounds the initial dial. Zero means five seconds.
	ConnectTimeout time.Duration
}

type ps struct {
	nc *nats.Conn
}

// NewPubSub connects to NATS.
func NewPubSub(ctx context.Context, cfg *Config) (Messenger, error) {
	if cfg == nil || cfg.NATSURL == "" {
		return nil, errors.New("libbus: missing NATS url")
	}
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	opts := []nats.Option{
		nats.Timeout(timeout),
		nats.Name("planner"),
	}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("libbus: failed to connect to NATS: %w", err)
	}
	return &ps{nc: nc}, nil
}

func (p *ps) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.nc.IsClosed() {
		return ErrConnectionClosed
	}
	if err := p.nc.Publish(subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrConnectionClosed
		}
		return fmt.Errorf("libbus: publish %s: %w", subject, err)
	}
	return nil
}

func (p *ps) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := p.nc.Subscribe(subject, func(m *nats.Msg) {
		select {
		case ch <- m.Data:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamSubscriptionFail, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return &natsSubscription{sub: sub}, nil
}

func (p *ps) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	msg, err := p.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return nil, ErrRequestTimeout
		case errors.Is(err, nats.ErrConnectionClosed):
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	return msg.Data, nil
}

func (p *ps) Serve(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := p.nc.Subscribe(subject, func(m *nats.Msg) {
		reply := invoke(ctx, handler, m.Data)
		if m.Reply == "" {
			return
		}
		_ = m.Respond(reply)
	})
	if err != nil {
		return nil, fmt.Errorf("libbus: serve %s: %w", subject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return &natsSubscription{sub: sub}, nil
}

func (p *ps) Close() error {
	if p.nc.IsClosed() {
		return nil
	}
	if err := p.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		p.nc.Close()
		return err
	}
	p.nc.Close()
	return nil
}

// invoke runs handler and encodes a failure or panic as an error reply.
func invoke(ctx context.Context, handler Handler, data []byte) (reply []byte) {
	defer func() {
		if r := recover(); r != nil {
			reply = fmt.Appendf(nil, "error: handler panic: %v", r)
		}
	}()
	out, err := handler(ctx, data)
	if err != nil {
		return fmt.Appendf(nil, "error: %s", err)
	}
	return out
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

var _ Messenger = (*ps)(nil)
