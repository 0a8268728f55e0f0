// Package agentregistry maps agent names to capabilities and invokes them.
package agentregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentFailed   = errors.New("agent failed")
	ErrDuplicateName = errors.New("agent already registered")
)

// Invocation is what a capability receives for one step.
type Invocation struct {
	StepID  int             `json:"stepID"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Result is what a capability reports back. A false Success is a step
// failure described by Error.
type Result struct {
	Success bool            `json:"success"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Capability is a named agent able to run commands.
type Capability interface {
	Execute(ctx context.Context, inv Invocation) (Result, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, inv Invocation) (Result, error)

func (f CapabilityFunc) Execute(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}

// Invoker is the part of the registry the executor depends on.
type Invoker interface {
	Invoke(ctx context.Context, name string, inv Invocation) (json.RawMessage, error)
}

// Registry is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

func New() *Registry {
	return &Registry{capabilities: make(map[string]Capability)}
}

// Register adds a capability under name. Registering a taken name keeps the
// existing capability, logs a warning and returns ErrDuplicateName.
func (r *Registry) Register(name string, capability Capability) error {
	if name == "" || capability == nil {
		return fmt.Errorf("register agent %q: empty name or nil capability", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.capabilities[name]; exists {
		slog.Warn("agent already registered, keeping the first", "agent", name)
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	r.capabilities[name] = capability
	return nil
}

func (r *Registry) Resolve(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return c, nil
}

// Names returns the registered agent names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Invoke resolves name and runs inv. Every failure mode of the capability,
// including a panic, comes back as an error.
func (r *Registry) Invoke(ctx context.Context, name string, inv Invocation) (out json.RawMessage, err error) {
	capability, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("agent panicked", "agent", name, "command", inv.Command, "panic", rec, "stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("%w: %s panicked: %v", ErrAgentFailed, name, rec)
		}
	}()

	res, err := capability.Execute(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "no error message"
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrAgentFailed, name, msg)
	}
	return res.Output, nil
}

var _ Invoker = (*Registry)(nil)
