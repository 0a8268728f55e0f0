package planstore

import (
	"context"
	"encoding/json"
	"errors"

	libkv "github.com/contenox/planner/libkvstore"
)

type kvBackend struct {
	kv     libkv.KVManager
	prefix string
}

// NewKVBackend stores values in Valkey. prefix namespaces the keys so
// several planners can share one instance.
func NewKVBackend(kv libkv.KVManager, prefix string) Backend {
	return &kvBackend{kv: kv, prefix: prefix}
}

func (b *kvBackend) Save(ctx context.Context, key string, value json.RawMessage) error {
	exec, err := b.kv.Executor(ctx)
	if err != nil {
		return err
	}
	return exec.Set(ctx, b.prefix+key, value)
}

func (b *kvBackend) Load(ctx context.Context, key string) (json.RawMessage, error) {
	exec, err := b.kv.Executor(ctx)
	if err != nil {
		return nil, err
	}
	value, err := exec.Get(ctx, b.prefix+key)
	if errors.Is(err, libkv.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}
