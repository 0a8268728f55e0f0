package planservice

import (
	"context"

	"github.com/contenox/planner/libtracker"
	"github.com/contenox/planner/planstore"
	"github.com/contenox/planner/plantypes"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Execute(ctx context.Context, req Request) (*Response, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"execute",
		"request",
		"requestLength", len(req.RequestText),
		"template", req.LoadFromTemplate,
		"checkpointID", req.ResumeFromCheckpointID,
	)
	defer endFn()

	resp, err := d.service.Execute(ctx, req)
	if err != nil {
		reportErrFn(err)
	} else if resp != nil {
		reportChangeFn(resp.TraceID, map[string]any{
			"success":      resp.Success,
			"cancelled":    resp.Cancelled,
			"revisions":    resp.Revisions,
			"checkpointID": resp.CheckpointID,
			"error":        resp.Error,
		})
	}
	return resp, err
}

func (d *activityTrackerDecorator) SaveAsTemplate(ctx context.Context, name string, steps []*plantypes.Step) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(ctx, "save", "template", "name", name, "steps", len(steps))
	defer endFn()

	err := d.service.SaveAsTemplate(ctx, name, steps)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(name, len(steps))
	}
	return err
}

func (d *activityTrackerDecorator) LoadTemplate(ctx context.Context, name string) ([]*plantypes.Step, error) {
	reportErrFn, _, endFn := d.tracker.Start(ctx, "load", "template", "name", name)
	defer endFn()

	steps, err := d.service.LoadTemplate(ctx, name)
	if err != nil {
		reportErrFn(err)
	}
	return steps, err
}

func (d *activityTrackerDecorator) GetTemplate(ctx context.Context, name string) (*planstore.Template, error) {
	return d.service.GetTemplate(ctx, name)
}

func (d *activityTrackerDecorator) GetTemplates(ctx context.Context) ([]string, error) {
	return d.service.GetTemplates(ctx)
}

func (d *activityTrackerDecorator) DeleteTemplate(ctx context.Context, name string) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(ctx, "delete", "template", "name", name)
	defer endFn()

	err := d.service.DeleteTemplate(ctx, name)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(name, nil)
	}
	return err
}

func (d *activityTrackerDecorator) CreateCheckpoint(ctx context.Context, steps []*plantypes.Step, requestText string) (string, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(ctx, "create", "checkpoint", "steps", len(steps))
	defer endFn()

	id, err := d.service.CreateCheckpoint(ctx, steps, requestText)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(id, len(steps))
	}
	return id, err
}

func (d *activityTrackerDecorator) ResumeFromCheckpoint(ctx context.Context, id string) ([]*plantypes.Step, error) {
	reportErrFn, _, endFn := d.tracker.Start(ctx, "resume", "checkpoint", "checkpointID", id)
	defer endFn()

	steps, err := d.service.ResumeFromCheckpoint(ctx, id)
	if err != nil {
		reportErrFn(err)
	}
	return steps, err
}

func (d *activityTrackerDecorator) GetCheckpoint(ctx context.Context, id string) (*planstore.Checkpoint, error) {
	return d.service.GetCheckpoint(ctx, id)
}

func (d *activityTrackerDecorator) GetCheckpoints(ctx context.Context) ([]string, error) {
	return d.service.GetCheckpoints(ctx)
}

func (d *activityTrackerDecorator) DeleteCheckpoint(ctx context.Context, id string) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(ctx, "delete", "checkpoint", "checkpointID", id)
	defer endFn()

	err := d.service.DeleteCheckpoint(ctx, id)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(id, nil)
	}
	return err
}

func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}
