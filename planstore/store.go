package planstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/contenox/planner/plantypes"
	"github.com/google/uuid"
)

type store struct {
	mu      sync.Mutex
	backend Backend
	now     func() time.Time

	checkpoints *collection[*Checkpoint]
	templates   *collection[*Template]
}

// New loads both collections from backend. A backend that has never been
// written to yields an empty store.
func New(ctx context.Context, backend Backend) (Store, error) {
	if backend == nil {
		return nil, errors.New("planstore: nil backend")
	}
	s := &store{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// reload replaces the cached collections with the persisted ones.
// Callers hold s.mu.
func (s *store) reload(ctx context.Context) error {
	checkpoints := newCollection[*Checkpoint]()
	if err := s.load(ctx, CheckpointsKey, checkpoints); err != nil {
		return err
	}
	templates := newCollection[*Template]()
	if err := s.load(ctx, TemplatesKey, templates); err != nil {
		return err
	}
	s.checkpoints, s.templates = checkpoints, templates
	return nil
}

func (s *store) load(ctx context.Context, key string, into json.Unmarshaler) error {
	data, err := s.backend.Load(ctx, key)
	if errors.Is(err, ErrNotFound) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("planstore: load %s: %w", key, err)
	}
	if err := into.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("planstore: decode %s: %w", key, err)
	}
	return nil
}

func (s *store) save(ctx context.Context, key string, from json.Marshaler) error {
	data, err := from.MarshalJSON()
	if err != nil {
		return fmt.Errorf("planstore: encode %s: %w", key, err)
	}
	if err := s.backend.Save(ctx, key, data); err != nil {
		return fmt.Errorf("planstore: save %s: %w", key, err)
	}
	return nil
}

// mutateCheckpoints runs fn on a freshly reloaded collection and persists
// the result. Nothing is saved when fn fails.
func (s *store) mutateCheckpoints(ctx context.Context, fn func(c *collection[*Checkpoint]) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reload(ctx); err != nil {
		return err
	}
	if err := fn(s.checkpoints); err != nil {
		return err
	}
	return s.save(ctx, CheckpointsKey, s.checkpoints)
}

func (s *store) mutateTemplates(ctx context.Context, fn func(c *collection[*Template]) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reload(ctx); err != nil {
		return err
	}
	if err := fn(s.templates); err != nil {
		return err
	}
	return s.save(ctx, TemplatesKey, s.templates)
}

func (s *store) CreateCheckpoint(ctx context.Context, steps []*plantypes.Step, requestText string) (string, error) {
	id := uuid.NewString()
	now := s.now()
	err := s.mutateCheckpoints(ctx, func(c *collection[*Checkpoint]) error {
		c.put(id, &Checkpoint{
			ID:          id,
			Steps:       plantypes.Clone(steps),
			RequestText: requestText,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *store) UpdateCheckpoint(ctx context.Context, id string, steps []*plantypes.Step) error {
	return s.mutateCheckpoints(ctx, func(c *collection[*Checkpoint]) error {
		cp, ok := c.get(id)
		if !ok {
			return checkpointNotFound(id)
		}
		cp.Steps = plantypes.Clone(steps)
		cp.UpdatedAt = s.now()
		return nil
	})
}

func (s *store) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	cp, ok := s.checkpoints.get(id)
	if !ok {
		return nil, checkpointNotFound(id)
	}
	out := *cp
	out.Steps = plantypes.Clone(cp.Steps)
	return &out, nil
}

func (s *store) ResumeFromCheckpoint(ctx context.Context, id string) ([]*plantypes.Step, error) {
	cp, err := s.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	return cp.Steps, nil
}

// DeleteCheckpoint succeeds for unknown ids.
func (s *store) DeleteCheckpoint(ctx context.Context, id string) error {
	return s.mutateCheckpoints(ctx, func(c *collection[*Checkpoint]) error {
		c.remove(id)
		return nil
	})
}

func (s *store) ListCheckpoints(ctx context.Context) ([]*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s.checkpoints.values(), nil
}

func (s *store) SaveAsTemplate(ctx context.Context, name string, steps []*plantypes.Step) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	now := s.now()
	return s.mutateTemplates(ctx, func(c *collection[*Template]) error {
		created := now
		if prev, ok := c.get(name); ok {
			created = prev.CreatedAt
		}
		c.put(name, &Template{
			Name:      name,
			Steps:     plantypes.StripExecution(steps),
			CreatedAt: created,
			UpdatedAt: now,
		})
		return nil
	})
}

func (s *store) GetTemplate(ctx context.Context, name string) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	t, ok := s.templates.get(name)
	if !ok {
		return nil, templateNotFound(name)
	}
	out := *t
	out.Steps = plantypes.StripExecution(t.Steps)
	return &out, nil
}

func (s *store) LoadTemplate(ctx context.Context, name string) ([]*plantypes.Step, error) {
	t, err := s.GetTemplate(ctx, name)
	if err != nil {
		return nil, err
	}
	return t.Steps, nil
}

func (s *store) DeleteTemplate(ctx context.Context, name string) error {
	return s.mutateTemplates(ctx, func(c *collection[*Template]) error {
		if !c.remove(name) {
			return templateNotFound(name)
		}
		return nil
	})
}

func (s *store) ListTemplates(ctx context.Context) ([]*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s.templates.values(), nil
}
