// Package libroutine guards calls to flaky collaborators (model backends,
// remote agents) with a circuit breaker and bounded retries.
package libroutine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("libroutine: circuit open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Routine is a circuit breaker. After threshold consecutive failures it
// rejects calls until resetTimeout has passed, then admits one probe call.
type Routine struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	resetTimeout  time.Duration
	lastFailureAt time.Time
	probing       bool
}

func NewRoutine(threshold int, resetTimeout time.Duration) *Routine {
	if threshold < 1 {
		threshold = 1
	}
	return &Routine{
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// Allow reports whether a call may proceed. In the half-open state only the
// first caller is admitted until that call reports back through Execute.
func (r *Routine) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Closed:
		return true
	case Open:
		if time.Since(r.lastFailureAt) < r.resetTimeout {
			return false
		}
		r.state = HalfOpen
		r.probing = true
		return true
	case HalfOpen:
		if r.probing {
			return false
		}
		r.probing = true
		return true
	}
	return false
}

func (r *Routine) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	r.record(err)
	return err
}

func (r *Routine) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.probing = false
	if err == nil {
		r.state = Closed
		r.failures = 0
		return
	}
	r.failures++
	r.lastFailureAt = time.Now()
	if r.state == HalfOpen || r.failures >= r.threshold {
		if r.state != Open {
			log.Printf("libroutine: circuit opened after %d failure(s): %v", r.failures, err)
		}
		r.state = Open
	}
}

// ExecuteWithRetry calls fn up to attempts times, sleeping interval between
// failures. It stops early when the circuit opens or ctx ends.
func (r *Routine) ExecuteWithRetry(ctx context.Context, interval time.Duration, attempts int, fn func(ctx context.Context) error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := r.Execute(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return lastErr
}

func (r *Routine) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
