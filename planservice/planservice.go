// Package planservice drives a request from plan to result: it obtains a
// plan, runs it, asks the advisor for revisions when it fails and keeps
// checkpoints so an unfinished run can be resumed.
package planservice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"

	"github.com/contenox/planner/libtracker"
	"github.com/contenox/planner/planadvisor"
	"github.com/contenox/planner/planexec"
	"github.com/contenox/planner/planstore"
	"github.com/contenox/planner/plantypes"
	"github.com/google/uuid"
)

var (
	ErrRevisionsExhausted = errors.New("revisions exhausted")
	ErrEmptyRequest       = errors.New("request text is required to generate a plan")
)

const DefaultMaxRevisions = 3

// PlanObserver receives a copy of the steps whenever the plan changes.
type PlanObserver func(steps []*plantypes.Step)

type Request struct {
	RequestText            string       `json:"requestText,omitempty"`
	LoadFromTemplate       string       `json:"loadFromTemplate,omitempty"`
	ResumeFromCheckpointID string       `json:"resumeFromCheckpointId,omitempty"`
	SaveAsTemplate         string       `json:"saveAsTemplate,omitempty"`
	PreventCheckpoint      bool         `json:"preventCheckpoint,omitempty"`
	SkipExplanation        bool         `json:"skipExplanation,omitempty"`
	OnPlanUpdate           PlanObserver `json:"-"`
}

type Response struct {
	Success      bool            `json:"success"`
	Output       string          `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	Plan         *plantypes.Plan `json:"plan,omitempty"`
	Explanation  string          `json:"explanation,omitempty"`
	TraceID      string          `json:"traceId"`
	CheckpointID string          `json:"checkpointId,omitempty"`
	Revisions    int             `json:"revisions"`
	Cancelled    bool            `json:"cancelled,omitempty"`
}

// Executor runs a step list. *planexec.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, steps []*plantypes.Step, opts ...planexec.Option) (planexec.Result, error)
}

type Service interface {
	Execute(ctx context.Context, req Request) (*Response, error)

	SaveAsTemplate(ctx context.Context, name string, steps []*plantypes.Step) error
	LoadTemplate(ctx context.Context, name string) ([]*plantypes.Step, error)
	GetTemplate(ctx context.Context, name string) (*planstore.Template, error)
	GetTemplates(ctx context.Context) ([]string, error)
	DeleteTemplate(ctx context.Context, name string) error

	CreateCheckpoint(ctx context.Context, steps []*plantypes.Step, requestText string) (string, error)
	ResumeFromCheckpoint(ctx context.Context, id string) ([]*plantypes.Step, error)
	GetCheckpoint(ctx context.Context, id string) (*planstore.Checkpoint, error)
	GetCheckpoints(ctx context.Context) ([]string, error)
	DeleteCheckpoint(ctx context.Context, id string) error
}

type service struct {
	mu sync.Mutex

	store        planstore.Store
	executor     Executor
	advisor      planadvisor.Advisor
	maxRevisions int
	explain      planadvisor.ExplainOptions
	tracker      libtracker.ActivityTracker
	observers    []PlanObserver
}

type Option func(*service)

// WithMaxRevisions bounds how often a failed plan is revised. 0 disables revision.
func WithMaxRevisions(n int) Option {
	return func(s *service) {
		if n >= 0 {
			s.maxRevisions = n
		}
	}
}

func WithTracker(t libtracker.ActivityTracker) Option {
	return func(s *service) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithExplanation sets the options passed to the advisor when a plan is explained.
func WithExplanation(opts planadvisor.ExplainOptions) Option {
	return func(s *service) { s.explain = opts }
}

// WithObserver adds an observer notified for every run, in addition to
// Request.OnPlanUpdate.
func WithObserver(o PlanObserver) Option {
	return func(s *service) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

func New(store planstore.Store, executor Executor, advisor planadvisor.Advisor, opts ...Option) Service {
	s := &service{
		store:        store,
		executor:     executor,
		advisor:      advisor,
		maxRevisions: DefaultMaxRevisions,
		tracker:      libtracker.NoopTracker{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run holds the state of one Execute call.
type run struct {
	*service
	req          Request
	resp         *Response
	plan         *plantypes.Plan
	checkpointID string
}

// Execute runs one request to completion. A failed or cancelled run is
// reported through the response with a nil error; the error is reserved for
// requests that cannot run at all, such as an unknown template, an invalid
// plan or a storage failure.
func (s *service) Execute(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	traceID := uuid.NewString()
	ctx = libtracker.EnsureRequestID(ctx)
	ctx = libtracker.WithTraceID(ctx, traceID)

	r := &run{
		service: s,
		req:     req,
		resp:    &Response{TraceID: traceID},
		plan:    &plantypes.Plan{RequestText: req.RequestText, TraceID: traceID},
	}

	steps, err := r.obtainPlan(ctx)
	if err != nil {
		return r.abort(err)
	}
	r.plan.Steps = steps
	r.notify(steps)
	r.explainPlan(ctx, steps)

	return r.loop(ctx)
}

func (r *run) obtainPlan(ctx context.Context) (steps []*plantypes.Step, err error) {
	source := "advisor"
	switch {
	case r.req.ResumeFromCheckpointID != "":
		source = "checkpoint"
	case r.req.LoadFromTemplate != "":
		source = "template"
	}
	reportErr, reportChange, end := r.tracker.Start(ctx, "obtain_plan", "plan", "source", source)
	defer end()
	defer func() {
		if err != nil {
			reportErr(err)
			return
		}
		reportChange(r.plan.TraceID, map[string]any{"source": source, "steps": len(steps)})
	}()

	switch source {
	case "checkpoint":
		cp, err := r.store.GetCheckpoint(ctx, r.req.ResumeFromCheckpointID)
		if err != nil {
			return nil, err
		}
		steps = cp.Steps
		// The consumed checkpoint is replaced once the first attempt is checkpointed.
		r.checkpointID = cp.ID
		if r.plan.RequestText == "" {
			r.plan.RequestText = cp.RequestText
		}
	case "template":
		steps, err = r.store.LoadTemplate(ctx, r.req.LoadFromTemplate)
		if err != nil {
			return nil, err
		}
	default:
		if r.plan.RequestText == "" {
			return nil, ErrEmptyRequest
		}
		steps, err = r.advisor.GeneratePlan(ctx, r.plan.RequestText)
		if err != nil {
			return nil, fmt.Errorf("failed to generate plan: %w", err)
		}
	}
	if err := plantypes.Validate(steps); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return steps, nil
}

func (r *run) explainPlan(ctx context.Context, steps []*plantypes.Step) {
	if r.req.SkipExplanation || r.advisor == nil {
		return
	}
	text, err := r.advisor.ExplainPlan(ctx, plantypes.Clone(steps), r.plan.RequestText, r.explain)
	if err != nil {
		slog.Warn("plan explanation failed", "trace_id", r.plan.TraceID, "error", err)
		return
	}
	r.resp.Explanation = text
}

func (r *run) loop(ctx context.Context) (*Response, error) {
	// Store writes after this point must land even when ctx is cancelled.
	storeCtx := context.WithoutCancel(ctx)

	for {
		if err := r.checkpoint(storeCtx); err != nil {
			return r.abort(err)
		}

		result, err := r.execute(ctx)
		if err != nil {
			return r.abort(err)
		}
		if result.Success {
			return r.succeed(storeCtx, result)
		}
		if result.Cancelled || ctx.Err() != nil {
			return r.fail(ctx, result, false)
		}
		if r.plan.RevisionCount >= r.maxRevisions {
			return r.fail(ctx, result, true)
		}

		revised, err := r.revise(ctx, result)
		if err != nil {
			if ctx.Err() != nil {
				return r.fail(ctx, result, false)
			}
			return r.abort(err)
		}
		r.plan.Steps = revised
		r.notify(revised)
	}
}

// checkpoint stores the current steps under a new id and drops the previous
// checkpoint of this run.
func (r *run) checkpoint(ctx context.Context) error {
	if r.req.PreventCheckpoint {
		return nil
	}
	id, err := r.store.CreateCheckpoint(ctx, r.plan.Steps, r.plan.RequestText)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	if r.checkpointID != "" {
		if err := r.store.DeleteCheckpoint(ctx, r.checkpointID); err != nil {
			slog.Warn("failed to delete superseded checkpoint", "checkpoint_id", r.checkpointID, "error", err)
		}
	}
	r.checkpointID = id
	r.plan.CheckpointID = id
	return nil
}

func (r *run) execute(ctx context.Context) (planexec.Result, error) {
	reportErr, reportChange, end := r.tracker.Start(ctx, "execute", "plan",
		"attempt", r.plan.RevisionCount, "checkpoint_id", r.checkpointID)
	defer end()

	storeCtx := context.WithoutCancel(ctx)
	hook := func(_ context.Context, layer int, steps []*plantypes.Step) {
		if r.checkpointID != "" && !r.req.PreventCheckpoint {
			if err := r.store.UpdateCheckpoint(storeCtx, r.checkpointID, steps); err != nil {
				slog.Warn("failed to refresh checkpoint", "checkpoint_id", r.checkpointID, "layer", layer, "error", err)
			}
		}
		r.notify(steps)
	}

	result, err := r.executor.Execute(ctx, r.plan.Steps, planexec.WithLayerHook(hook))
	if err != nil {
		reportErr(err)
		return result, err
	}
	if !result.Success {
		reportErr(errors.New(result.Error))
	}
	reportChange(r.plan.TraceID, result)
	return result, nil
}

func (r *run) revise(ctx context.Context, failed planexec.Result) ([]*plantypes.Step, error) {
	r.plan.RevisionCount++
	reportErr, reportChange, end := r.tracker.Start(ctx, "revise", "plan",
		"attempt", r.plan.RevisionCount, "failed_step", failed.FailedStepID)
	defer end()

	revised, err := r.advisor.RevisePlan(ctx, r.plan.RequestText, plantypes.Clone(r.plan.Steps), failed.Error, r.plan.RevisionCount)
	if err != nil {
		reportErr(err)
		return nil, fmt.Errorf("failed to revise plan: %w", err)
	}
	if err := plantypes.Validate(revised); err != nil {
		reportErr(err)
		return nil, fmt.Errorf("invalid revised plan: %w", err)
	}
	kept := plantypes.CarryOver(r.plan.Steps, revised)
	reportChange(r.plan.TraceID, map[string]any{"steps": len(revised), "carried_over": kept})
	return revised, nil
}

func (r *run) succeed(ctx context.Context, result planexec.Result) (*Response, error) {
	_, reportChange, end := r.tracker.Start(ctx, "finalize", "plan", "success", true)
	defer end()

	var saveErr error
	if r.req.SaveAsTemplate != "" {
		if err := r.store.SaveAsTemplate(ctx, r.req.SaveAsTemplate, r.plan.Steps); err != nil {
			saveErr = fmt.Errorf("failed to save template %q: %w", r.req.SaveAsTemplate, err)
		}
	}
	if r.checkpointID != "" {
		if err := r.store.DeleteCheckpoint(ctx, r.checkpointID); err != nil {
			slog.Warn("failed to delete checkpoint", "checkpoint_id", r.checkpointID, "error", err)
		}
		r.checkpointID = ""
		r.plan.CheckpointID = ""
	}

	r.resp.Success = true
	r.resp.Output = result.Summary
	r.finish()
	reportChange(r.plan.TraceID, r.resp)
	if saveErr != nil {
		r.resp.Error = saveErr.Error()
	}
	return r.resp, saveErr
}

// fail finalizes a run that ended without success. The checkpoint is kept
// for a later resume.
func (r *run) fail(ctx context.Context, result planexec.Result, exhausted bool) (*Response, error) {
	reportErr, reportChange, end := r.tracker.Start(ctx, "finalize", "plan", "success", false)
	defer end()

	msg := result.Error
	switch {
	case result.Cancelled || ctx.Err() != nil:
		r.resp.Cancelled = true
		if msg == "" {
			msg = fmt.Sprintf("execution cancelled: %v", context.Cause(ctx))
		}
	case exhausted:
		msg = fmt.Errorf("%w after %d revisions: %s", ErrRevisionsExhausted, r.plan.RevisionCount, result.Error).Error()
	}
	r.resp.Success = false
	r.resp.Error = msg
	r.resp.Output = result.Summary
	r.finish()
	reportErr(errors.New(msg))
	reportChange(r.plan.TraceID, r.resp)
	return r.resp, nil
}

// abort reports a run that could not proceed. Any checkpoint written so
// far stays available.
func (r *run) abort(err error) (*Response, error) {
	r.resp.Success = false
	r.resp.Error = err.Error()
	r.finish()
	return r.resp, err
}

func (r *run) finish() {
	r.resp.Revisions = r.plan.RevisionCount
	r.resp.CheckpointID = r.checkpointID
	if r.req.PreventCheckpoint {
		r.resp.CheckpointID = ""
	}
	snapshot := *r.plan
	snapshot.Steps = plantypes.Clone(r.plan.Steps)
	r.resp.Plan = &snapshot
	r.notify(r.plan.Steps)
}

func (r *run) notify(steps []*plantypes.Step) {
	if steps == nil {
		return
	}
	observers := r.observers
	if r.req.OnPlanUpdate != nil {
		observers = append(observers[:len(observers):len(observers)], r.req.OnPlanUpdate)
	}
	for _, o := range observers {
		notifyOne(o, plantypes.Clone(steps))
	}
}

func notifyOne(o PlanObserver, steps []*plantypes.Step) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("SERVERBUG: plan observer panicked: %v", rec)
		}
	}()
	o(steps)
}

func (s *service) SaveAsTemplate(ctx context.Context, name string, steps []*plantypes.Step) error {
	return s.store.SaveAsTemplate(ctx, name, steps)
}

func (s *service) LoadTemplate(ctx context.Context, name string) ([]*plantypes.Step, error) {
	return s.store.LoadTemplate(ctx, name)
}

func (s *service) GetTemplate(ctx context.Context, name string) (*planstore.Template, error) {
	return s.store.GetTemplate(ctx, name)
}

func (s *service) GetTemplates(ctx context.Context) ([]string, error) {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(templates))
	for _, t := range templates {
		names = append(names, t.Name)
	}
	return names, nil
}

func (s *service) DeleteTemplate(ctx context.Context, name string) error {
	return s.store.DeleteTemplate(ctx, name)
}

func (s *service) CreateCheckpoint(ctx context.Context, steps []*plantypes.Step, requestText string) (string, error) {
	if err := plantypes.Validate(plantypes.Clone(steps)); err != nil {
		return "", fmt.Errorf("invalid plan: %w", err)
	}
	return s.store.CreateCheckpoint(ctx, steps, requestText)
}

func (s *service) ResumeFromCheckpoint(ctx context.Context, id string) ([]*plantypes.Step, error) {
	return s.store.ResumeFromCheckpoint(ctx, id)
}

func (s *service) GetCheckpoint(ctx context.Context, id string) (*planstore.Checkpoint, error) {
	return s.store.GetCheckpoint(ctx, id)
}

func (s *service) GetCheckpoints(ctx context.Context) ([]string, error) {
	checkpoints, err := s.store.ListCheckpoints(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(checkpoints))
	for _, c := range checkpoints {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (s *service) DeleteCheckpoint(ctx context.Context, id string) error {
	return s.store.DeleteCheckpoint(ctx, id)
}
