package libbus

import (
	"context"
	"sync"
)

// InMem is a process-local Messenger. The planner CLI uses it when no
// NATS url is configured, so plan events and bus-served agents behave the
// same with or without a broker.
type InMem struct {
	mu       sync.RWMutex
	closed   bool
	streams  map[string]map[*inmemSub]struct{}
	handlers map[string]*inmemSub
}

// inmemSub is either a stream subscriber (ch set) or a request handler.
type inmemSub struct {
	bus     *InMem
	subject string
	ch      chan<- []byte
	handler Handler
	once    sync.Once
}

func NewInMem() *InMem {
	return &InMem{
		streams:  make(map[string]map[*inmemSub]struct{}),
		handlers: make(map[string]*inmemSub),
	}
}

// Publish blocks until every current subscriber has taken the message or ctx ends.
func (p *InMem) Publish(ctx context.Context, subject string, data []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrConnectionClosed
	}
	targets := make([]chan<- []byte, 0, len(p.streams[subject]))
	for sub := range p.streams[subject] {
		targets = append(targets, sub.ch)
	}
	p.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *InMem) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &inmemSub{bus: p, subject: subject, ch: ch}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if p.streams[subject] == nil {
		p.streams[subject] = make(map[*inmemSub]struct{})
	}
	p.streams[subject][sub] = struct{}{}
	p.mu.Unlock()

	sub.unsubscribeOnDone(ctx)
	return sub, nil
}

// Request runs the handler for subject in the caller goroutine. Without a
// handler it fails like a NATS request with no responders.
func (p *InMem) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrConnectionClosed
	}
	sub := p.handlers[subject]
	p.mu.RUnlock()

	if sub == nil {
		return nil, ErrRequestTimeout
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return invoke(ctx, sub.handler, data), nil
}

// Serve replaces any handler already registered for subject.
func (p *InMem) Serve(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	sub := &inmemSub{bus: p, subject: subject, handler: handler}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	p.handlers[subject] = sub
	p.mu.Unlock()

	sub.unsubscribeOnDone(ctx)
	return sub, nil
}

func (p *InMem) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	clear(p.streams)
	clear(p.handlers)
	return nil
}

func (s *inmemSub) unsubscribeOnDone(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = s.Unsubscribe()
	}()
}

// Unsubscribe is idempotent. A replaced handler does not remove its successor.
func (s *inmemSub) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if s.handler != nil {
			if s.bus.handlers[s.subject] == s {
				delete(s.bus.handlers, s.subject)
			}
			return
		}
		delete(s.bus.streams[s.subject], s)
		if len(s.bus.streams[s.subject]) == 0 {
			delete(s.bus.streams, s.subject)
		}
	})
	return nil
}

var _ Messenger = (*InMem)(nil)
