// Package planstore persists checkpoints and templates.
//
// Both collections live under one key each in a Backend, stored as an
// ordered JSON list of [key, entry] pairs. Every write reloads the
// collection, applies the change and saves it back.
package planstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contenox/planner/plantypes"
)

const (
	CheckpointsKey = "planner.checkpoints"
	TemplatesKey   = "planner.templates"
)

var (
	// ErrNotFound is returned by a Backend for a key that was never saved.
	ErrNotFound           = errors.New("key not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrEmptyName          = errors.New("name must not be empty")
)

// NotFoundError names the missing checkpoint or template. It unwraps to
// ErrCheckpointNotFound or ErrTemplateNotFound.
type NotFoundError struct {
	Kind string
	Key  string
	err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return e.err
}

func checkpointNotFound(id string) error {
	return &NotFoundError{Kind: "Checkpoint", Key: id, err: ErrCheckpointNotFound}
}

func templateNotFound(name string) error {
	return &NotFoundError{Kind: "Template", Key: name, err: ErrTemplateNotFound}
}

// Backend is a plain get/set store for JSON values.
type Backend interface {
	Save(ctx context.Context, key string, value json.RawMessage) error
	// Load returns ErrNotFound when key was never saved.
	Load(ctx context.Context, key string) (json.RawMessage, error)
}

// Checkpoint is a snapshot of a run in progress.
type Checkpoint struct {
	ID          string            `json:"id"`
	Steps       []*plantypes.Step `json:"steps"`
	RequestText string            `json:"requestText"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Template is a reusable plan with execution state stripped.
type Template struct {
	Name      string            `json:"name"`
	Steps     []*plantypes.Step `json:"steps"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Store manages checkpoints and templates. Returned steps are always deep
// copies; callers may mutate them freely.
type Store interface {
	CreateCheckpoint(ctx context.Context, steps []*plantypes.Step, requestText string) (string, error)
	UpdateCheckpoint(ctx context.Context, id string, steps []*plantypes.Step) error
	ResumeFromCheckpoint(ctx context.Context, id string) ([]*plantypes.Step, error)
	GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, id string) error
	ListCheckpoints(ctx context.Context) ([]*Checkpoint, error)

	SaveAsTemplate(ctx context.Context, name string, steps []*plantypes.Step) error
	LoadTemplate(ctx context.Context, name string) ([]*plantypes.Step, error)
	GetTemplate(ctx context.Context, name string) (*Template, error)
	DeleteTemplate(ctx context.Context, name string) error
	ListTemplates(ctx context.Context) ([]*Template, error)
}
