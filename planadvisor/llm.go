package planadvisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contenox/planner/libroutine"
	"github.com/contenox/planner/libtracker"
	"github.com/contenox/planner/plantypes"
	"golang.org/x/time/rate"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer is a chat completion backend.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type llmAdvisor struct {
	model         Completer
	agents        func() []string
	breaker       *libroutine.Routine
	limiter       *rate.Limiter
	attempts      int
	retryInterval time.Duration
	tracker       libtracker.ActivityTracker
}

type Option func(*llmAdvisor)

// WithAgents supplies the agent names listed in prompts. It is called on
// every request so late registrations are picked up.
func WithAgents(names func() []string) Option {
	return func(a *llmAdvisor) { a.agents = names }
}

// WithRateLimit caps model calls per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *llmAdvisor) {
		a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetry sets how often a failing model call is attempted.
func WithRetry(attempts int, interval time.Duration) Option {
	return func(a *llmAdvisor) {
		if attempts > 0 {
			a.attempts = attempts
		}
		a.retryInterval = interval
	}
}

// WithCircuitBreaker opens after threshold consecutive failures.
func WithCircuitBreaker(threshold int, resetTimeout time.Duration) Option {
	return func(a *llmAdvisor) {
		a.breaker = libroutine.NewRoutine(threshold, resetTimeout)
	}
}

func WithTracker(t libtracker.ActivityTracker) Option {
	return func(a *llmAdvisor) {
		if t != nil {
			a.tracker = t
		}
	}
}

// New returns an Advisor backed by model.
func New(model Completer, opts ...Option) Advisor {
	a := &llmAdvisor{
		model:         model,
		agents:        func() []string { return nil },
		breaker:       libroutine.NewRoutine(5, 30*time.Second),
		limiter:       rate.NewLimiter(rate.Inf, 1),
		attempts:      3,
		retryInterval: time.Second,
		tracker:       libtracker.NoopTracker{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *llmAdvisor) complete(ctx context.Context, op string, user string) (string, error) {
	reportErr, _, end := a.tracker.Start(ctx, op, "advisor")
	defer end()

	messages := []Message{
		{Role: RoleSystem, Content: systemPrompt(a.agents())},
		{Role: RoleUser, Content: user},
	}
	var reply string
	err := a.breaker.ExecuteWithRetry(ctx, a.retryInterval, a.attempts, func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		out, err := a.model.Complete(ctx, messages)
		if err != nil {
			return err
		}
		reply = out
		return nil
	})
	if err != nil {
		reportErr(err)
		if errors.Is(err, libroutine.ErrCircuitOpen) {
			return "", fmt.Errorf("advisor %s: model unavailable: %w", op, err)
		}
		return "", fmt.Errorf("advisor %s: %w", op, err)
	}
	return reply, nil
}

func (a *llmAdvisor) GeneratePlan(ctx context.Context, requestText string) ([]*plantypes.Step, error) {
	reply, err := a.complete(ctx, "generate_plan", generatePrompt(requestText))
	if err != nil {
		return nil, err
	}
	steps, err := ParseSteps(reply)
	if err != nil {
		return nil, withOp(err, "generate")
	}
	return steps, nil
}

func (a *llmAdvisor) RevisePlan(ctx context.Context, requestText string, failedSteps []*plantypes.Step, errorMessage string, attemptNumber int) ([]*plantypes.Step, error) {
	reply, err := a.complete(ctx, "revise_plan", revisePrompt(requestText, failedSteps, errorMessage, attemptNumber))
	if err != nil {
		return nil, err
	}
	steps, err := ParseSteps(reply)
	if err != nil {
		return nil, withOp(err, "revise")
	}
	return steps, nil
}

func (a *llmAdvisor) ExplainPlan(ctx context.Context, steps []*plantypes.Step, requestText string, opts ExplainOptions) (string, error) {
	reply, err := a.complete(ctx, "explain_plan", explainPrompt(steps, requestText, opts))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func withOp(err error, op string) error {
	var advErr *AdvisorError
	if errors.As(err, &advErr) {
		advErr.Op = op
	}
	return err
}
