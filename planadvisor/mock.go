package planadvisor

import (
	"context"
	"errors"
	"sync"

	"github.com/contenox/planner/plantypes"
)

// MockAdvisor returns scripted plans. Plans are cloned on the way out.
type MockAdvisor struct {
	mu sync.Mutex

	Plan        []*plantypes.Step
	GenerateErr error
	// Revisions is consumed one entry per RevisePlan call; the last entry repeats.
	Revisions   [][]*plantypes.Step
	ReviseErr   error
	Explanation string
	ExplainErr  error

	GenerateCalls int
	ReviseCalls   int
	ExplainCalls  int
	// ReviseAttempts records the attemptNumber of every RevisePlan call.
	ReviseAttempts []int
	// ReviseErrors records the errorMessage of every RevisePlan call.
	ReviseErrors []string
	// ExplainOpts holds the options of the last ExplainPlan call.
	ExplainOpts ExplainOptions
}

func (m *MockAdvisor) GeneratePlan(ctx context.Context, requestText string) ([]*plantypes.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateCalls++
	if m.GenerateErr != nil {
		return nil, m.GenerateErr
	}
	if m.Plan == nil {
		return nil, errors.New("mock advisor: no plan scripted")
	}
	return plantypes.Clone(m.Plan), nil
}

func (m *MockAdvisor) RevisePlan(ctx context.Context, requestText string, failedSteps []*plantypes.Step, errorMessage string, attemptNumber int) ([]*plantypes.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReviseCalls++
	m.ReviseAttempts = append(m.ReviseAttempts, attemptNumber)
	m.ReviseErrors = append(m.ReviseErrors, errorMessage)
	if m.ReviseErr != nil {
		return nil, m.ReviseErr
	}
	if len(m.Revisions) == 0 {
		return plantypes.StripExecution(failedSteps), nil
	}
	next := m.Revisions[0]
	if len(m.Revisions) > 1 {
		m.Revisions = m.Revisions[1:]
	}
	return plantypes.Clone(next), nil
}

func (m *MockAdvisor) ExplainPlan(ctx context.Context, steps []*plantypes.Step, requestText string, opts ExplainOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExplainCalls++
	m.ExplainOpts = opts
	return m.Explanation, m.ExplainErr
}

// MockCompleter replies from a fixed list, one entry per call; the last repeats.
type MockCompleter struct {
	mu       sync.Mutex
	Replies  []string
	Errors   []error
	Received [][]Message
}

func (m *MockCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Received = append(m.Received, messages)
	if len(m.Errors) > 0 {
		err := m.Errors[0]
		m.Errors = m.Errors[1:]
		if err != nil {
			return "", err
		}
	}
	if len(m.Replies) == 0 {
		return "", errors.New("mock completer: no reply scripted")
	}
	reply := m.Replies[0]
	if len(m.Replies) > 1 {
		m.Replies = m.Replies[1:]
	}
	return reply, nil
}

var (
	_ Advisor   = (*MockAdvisor)(nil)
	_ Completer = (*MockCompleter)(nil)
)
