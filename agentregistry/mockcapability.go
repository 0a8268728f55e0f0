package agentregistry

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MockCapability is a scripted capability for tests. Responses are looked up
// by command, falling back to DefaultResponse. It is safe for concurrent use.
type MockCapability struct {
	mu sync.Mutex

	ResponseMap     map[string]Result
	DefaultResponse Result
	// ErrorSequence is consumed one entry per call before responses are used.
	ErrorSequence []error
	// Delay is applied to every call and aborted by ctx.
	Delay time.Duration
	// Handler, when set, replaces the scripted responses.
	Handler func(ctx context.Context, inv Invocation) (Result, error)

	Calls []Invocation
}

func NewMockCapability() *MockCapability {
	return &MockCapability{
		ResponseMap:     make(map[string]Result),
		DefaultResponse: Result{Success: true, Output: json.RawMessage(`"ok"`)},
	}
}

func (m *MockCapability) Execute(ctx context.Context, inv Invocation) (Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, inv)
	var err error
	if len(m.ErrorSequence) > 0 {
		err = m.ErrorSequence[0]
		m.ErrorSequence = m.ErrorSequence[1:]
	}
	resp, ok := m.ResponseMap[inv.Command]
	if !ok {
		resp = m.DefaultResponse
	}
	delay, handler := m.Delay, m.Handler
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if err != nil {
		return Result{}, err
	}
	if handler != nil {
		return handler(ctx, inv)
	}
	return resp, nil
}

// CallCount returns how many times Execute ran.
func (m *MockCapability) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// StepIDs returns the step ids of all recorded calls in call order.
func (m *MockCapability) StepIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.Calls))
	for _, c := range m.Calls {
		out = append(out, c.StepID)
	}
	return out
}

var _ Capability = (*MockCapability)(nil)
