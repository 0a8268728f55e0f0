// Package planexec runs a validated step list layer by layer.
//
// Steps of one layer run concurrently; the next layer starts only after
// every dispatched step of the current layer has finished. A failure stops
// the run at the layer boundary.
package planexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/contenox/planner/agentregistry"
	"github.com/contenox/planner/libtracker"
	"github.com/contenox/planner/plantypes"
	"golang.org/x/sync/errgroup"
)

// FailurePolicy decides what happens to in-flight siblings of a failed step.
type FailurePolicy int

const (
	// Drain lets in-flight siblings finish so their results are kept.
	Drain FailurePolicy = iota
	// Abandon cancels the context of in-flight siblings and skips the
	// steps of the layer that were not dispatched yet.
	Abandon
)

func (p FailurePolicy) String() string {
	if p == Abandon {
		return "abandon"
	}
	return "drain"
}

// ParseFailurePolicy accepts "drain", "abandon" or "".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "drain":
		return Drain, nil
	case "abandon":
		return Abandon, nil
	}
	return Drain, fmt.Errorf("unknown failure policy %q", s)
}

// Result describes how a run ended. Step level detail lives on the steps.
type Result struct {
	Success      bool   `json:"success"`
	Cancelled    bool   `json:"cancelled,omitempty"`
	Error        string `json:"error,omitempty"`
	Summary      string `json:"summary"`
	FailedStepID int    `json:"failedStepID,omitempty"`
}

// LayerHook runs on the calling goroutine after each layer barrier.
type LayerHook func(ctx context.Context, layer int, steps []*plantypes.Step)

type Executor struct {
	invoker     agentregistry.Invoker
	maxInFlight int
	stepTimeout time.Duration
	policy      FailurePolicy
	tracker     libtracker.ActivityTracker
	hook        LayerHook
	now         func() time.Time
}

type Option func(*Executor)

// WithMaxInFlight bounds concurrent steps within a layer. n <= 0 is unbounded.
func WithMaxInFlight(n int) Option {
	return func(e *Executor) { e.maxInFlight = n }
}

// WithStepTimeout sets a watchdog on every invocation. 0 disables it.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stepTimeout = d }
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Executor) { e.policy = p }
}

func WithTracker(t libtracker.ActivityTracker) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracker = t
		}
	}
}

func WithLayerHook(h LayerHook) Option {
	return func(e *Executor) { e.hook = h }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func New(invoker agentregistry.Invoker, opts ...Option) *Executor {
	e := &Executor{
		invoker: invoker,
		policy:  Drain,
		tracker: libtracker.NoopTracker{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs steps in place. Steps already completed are kept; every other
// step is reset to pending first. The returned error is reserved for plans
// that cannot run at all; step failures and cancellation are reported in
// Result. opts apply to this call only.
func (e *Executor) Execute(ctx context.Context, steps []*plantypes.Step, opts ...Option) (Result, error) {
	if len(opts) > 0 {
		run := *e
		for _, opt := range opts {
			opt(&run)
		}
		e = &run
	}

	reportErr, reportChange, end := e.tracker.Start(ctx, "execute", "plan", "steps", len(steps))
	defer end()

	if err := plantypes.Validate(steps); err != nil {
		reportErr(err)
		return Result{Success: false, Error: err.Error()}, fmt.Errorf("invalid plan: %w", err)
	}
	plantypes.ResetUnfinished(steps)
	layers, err := plantypes.Layers(steps)
	if err != nil {
		reportErr(err)
		return Result{Success: false, Error: err.Error()}, fmt.Errorf("invalid plan: %w", err)
	}

	for i, layer := range layers {
		if err := ctx.Err(); err != nil {
			res := e.cancelled(steps, err)
			reportErr(err)
			reportChange("plan", res)
			return res, nil
		}

		slog.Debug("dispatching layer", "layer", i, "steps", len(layer), "policy", e.policy.String())
		abandoned := e.runLayer(ctx, layer)

		if e.hook != nil {
			e.hook(ctx, i, steps)
		}

		if failed := firstFailure(layer, abandoned); failed != nil {
			res := Result{
				Success:      false,
				Error:        fmt.Sprintf("step %d (%s) failed: %s", failed.ID, failed.AgentName, failed.Error),
				Summary:      plantypes.Summary(steps),
				FailedStepID: failed.ID,
			}
			reportErr(errors.New(res.Error))
			reportChange("plan", res)
			return res, nil
		}
	}

	// A cancellation during the last layer can leave undispatched steps behind.
	if plantypes.Count(steps, plantypes.StepStatusPending) > 0 {
		res := e.cancelled(steps, context.Cause(ctx))
		reportErr(ctx.Err())
		return res, nil
	}

	res := Result{Success: true, Summary: plantypes.Summary(steps)}
	reportChange("plan", res)
	return res, nil
}

func (e *Executor) cancelled(steps []*plantypes.Step, cause error) Result {
	if cause == nil {
		cause = context.Canceled
	}
	return Result{
		Success:   false,
		Cancelled: true,
		Error:     fmt.Sprintf("execution cancelled: %v", cause),
		Summary:   plantypes.Summary(steps),
	}
}

// runLayer dispatches layer and waits for it. It returns the ids of steps
// that failed only because a sibling failure cancelled them.
func (e *Executor) runLayer(ctx context.Context, layer []*plantypes.Step) map[int]bool {
	var (
		g        *errgroup.Group
		layerCtx context.Context
	)
	if e.policy == Abandon {
		g, layerCtx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
		layerCtx = ctx
	}
	if e.maxInFlight > 0 {
		g.SetLimit(e.maxInFlight)
	}

	var mu sync.Mutex
	abandoned := make(map[int]bool)

	for _, step := range layer {
		if layerCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot may free up only after the run was cancelled or a
			// sibling failed under Abandon.
			if layerCtx.Err() != nil {
				return nil
			}
			err := e.runStep(layerCtx, step)
			if err == nil {
				return nil
			}
			if errors.Is(err, context.Canceled) && layerCtx.Err() != nil && ctx.Err() == nil {
				mu.Lock()
				abandoned[step.ID] = true
				mu.Unlock()
			}
			return fmt.Errorf("step %d failed", step.ID)
		})
	}
	// Errors only drive cancellation under Abandon; results are on the steps.
	_ = g.Wait()
	return abandoned
}

// runStep invokes one step and records its outcome on the step.
func (e *Executor) runStep(ctx context.Context, step *plantypes.Step) error {
	invokeCtx := ctx
	if e.policy == Drain {
		// Dispatched steps finish even when the run is cancelled.
		invokeCtx = context.WithoutCancel(ctx)
	}
	var cancel context.CancelFunc = func() {}
	if e.stepTimeout > 0 {
		invokeCtx, cancel = context.WithTimeout(invokeCtx, e.stepTimeout)
	}
	defer cancel()

	start := e.now()
	step.Status = plantypes.StepStatusInProgress
	step.StartTime = &start

	reportErr, reportChange, end := e.tracker.Start(ctx, "invoke", "step",
		"step_id", step.ID, "agent", step.AgentName, "command", step.Command)
	defer end()

	out, err := e.invoker.Invoke(invokeCtx, step.AgentName, agentregistry.Invocation{
		StepID:  step.ID,
		Command: step.Command,
		Args:    step.Args,
	})
	if err != nil && e.stepTimeout > 0 && errors.Is(invokeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("step %d timed out after %s: %w", step.ID, e.stepTimeout, err)
	}

	finish := e.now()
	step.EndTime = &finish
	step.Duration = finish.Sub(start)
	if err != nil {
		step.Status = plantypes.StepStatusFailed
		step.Error = err.Error()
		step.Output = nil
		reportErr(err)
		return err
	}
	step.Status = plantypes.StepStatusCompleted
	step.Output = out
	step.Error = ""
	reportChange(fmt.Sprintf("step-%d", step.ID), step.Status)
	return nil
}

// firstFailure picks the failed step with the lowest id, preferring steps
// that were not abandoned.
func firstFailure(layer []*plantypes.Step, abandoned map[int]bool) *plantypes.Step {
	var first, firstAbandoned *plantypes.Step
	for _, s := range layer {
		if s.Status != plantypes.StepStatusFailed {
			continue
		}
		if abandoned[s.ID] {
			if firstAbandoned == nil || s.ID < firstAbandoned.ID {
				firstAbandoned = s
			}
			continue
		}
		if first == nil || s.ID < first.ID {
			first = s
		}
	}
	if first == nil {
		return firstAbandoned
	}
	return first
}
