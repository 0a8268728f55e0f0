package planstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
)

type memoryBackend struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemoryBackend keeps values in process memory.
func NewMemoryBackend() Backend {
	return &memoryBackend{data: make(map[string]json.RawMessage)}
}

func (m *memoryBackend) Save(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = slices.Clone(value)
	return nil
}

func (m *memoryBackend) Load(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}
