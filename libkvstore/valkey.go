// Package libkvstore provides a thin key-value facade over Valkey.
package libkvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

var ErrNotFound = errors.New("libkv: key not found")

type Config struct {
	KVAddr     string
	KVPassword string
}

// KVManager hands out executors bound to one client connection.
type KVManager interface {
	Executor(ctx context.Context) (KVExecutor, error)
	Close() error
}

// KVExecutor is the command set the planner and the activity log use.
type KVExecutor interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error

	ListPush(ctx context.Context, key string, value json.RawMessage) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]json.RawMessage, error)
	ListTrim(ctx context.Context, key string, start, stop int64) error

	SetAdd(ctx context.Context, key string, member json.RawMessage) error
	SetMembers(ctx context.Context, key string) ([]json.RawMessage, error)
}

type valkeyManager struct {
	client valkey.Client
}

// NewManager connects to cfg.KVAddr. timeout bounds connection writes.
func NewManager(cfg Config, timeout time.Duration) (KVManager, error) {
	if cfg.KVAddr == "" {
		return nil, fmt.Errorf("libkv: empty address")
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{cfg.KVAddr},
		Password:         cfg.KVPassword,
		ConnWriteTimeout: timeout,
		DisableCache:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("libkv: failed to connect: %w", err)
	}
	return &valkeyManager{client: client}, nil
}

func (m *valkeyManager) Executor(ctx context.Context) (KVExecutor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &valkeyExec{client: m.client}, nil
}

func (m *valkeyManager) Close() error {
	m.client.Close()
	return nil
}

type valkeyExec struct {
	client valkey.Client
}

func (e *valkeyExec) Get(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := e.client.Do(ctx, e.client.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("libkv: get %q: %w", key, err)
	}
	return data, nil
}

func (e *valkeyExec) Set(ctx context.Context, key string, value json.RawMessage) error {
	cmd := e.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()
	if err := e.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("libkv: set %q: %w", key, err)
	}
	return nil
}

func (e *valkeyExec) ListPush(ctx context.Context, key string, value json.RawMessage) error {
	cmd := e.client.B().Lpush().Key(key).Element(valkey.BinaryString(value)).Build()
	if err := e.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("libkv: lpush %q: %w", key, err)
	}
	return nil
}

func (e *valkeyExec) ListRange(ctx context.Context, key string, start, stop int64) ([]json.RawMessage, error) {
	items, err := e.client.Do(ctx, e.client.B().Lrange().Key(key).Start(start).Stop(stop).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("libkv: lrange %q: %w", key, err)
	}
	return toRaw(items), nil
}

func (e *valkeyExec) ListTrim(ctx context.Context, key string, start, stop int64) error {
	if err := e.client.Do(ctx, e.client.B().Ltrim().Key(key).Start(start).Stop(stop).Build()).Error(); err != nil {
		return fmt.Errorf("libkv: ltrim %q: %w", key, err)
	}
	return nil
}

func (e *valkeyExec) SetAdd(ctx context.Context, key string, member json.RawMessage) error {
	cmd := e.client.B().Sadd().Key(key).Member(valkey.BinaryString(member)).Build()
	if err := e.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("libkv: sadd %q: %w", key, err)
	}
	return nil
}

func (e *valkeyExec) SetMembers(ctx context.Context, key string) ([]json.RawMessage, error) {
	members, err := e.client.Do(ctx, e.client.B().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("libkv: smembers %q: %w", key, err)
	}
	return toRaw(members), nil
}

func toRaw(items []string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, json.RawMessage(item))
	}
	return out
}
