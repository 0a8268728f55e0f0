package localagents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/contenox/planner/agentregistry"
	"github.com/contenox/planner/libtracker"
	"github.com/dop251/goja"
)

const JSName = "js"

type jsArgs struct {
	Code  string          `json:"code"`
	Input json.RawMessage `json:"input,omitempty"`
}

// JSSandbox runs args.code in a fresh goja VM per invocation.
//
// args.input is decoded and bound to the global `input`. The output is the
// global `result` when the script sets it, otherwise the value of the last
// expression. console.log lines are collected and reported to the tracker.
// Compile and runtime errors are step failures; a cancelled context
// interrupts the VM.
type JSSandbox struct {
	tracker libtracker.ActivityTracker
}

func NewJSSandbox(tracker libtracker.ActivityTracker) agentregistry.Capability {
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	return &JSSandbox{tracker: tracker}
}

func (h *JSSandbox) Execute(ctx context.Context, inv agentregistry.Invocation) (agentregistry.Result, error) {
	reportErr, reportChange, end := h.tracker.Start(ctx, "exec", "js_sandbox", "step", inv.StepID)
	defer end()

	var args jsArgs
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		reportErr(err)
		return fail("js: invalid args: %v", err), nil
	}
	code := strings.TrimSpace(args.Code)
	if code == "" {
		reportErr(errors.New("empty code"))
		return fail("js: empty or missing code"), nil
	}

	vm := goja.New()
	var (
		mu   sync.Mutex
		logs []string
	)
	console := vm.NewObject()
	if err := console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		mu.Lock()
		logs = append(logs, strings.Join(parts, " "))
		mu.Unlock()
		return goja.Undefined()
	}); err != nil {
		return agentregistry.Result{}, fmt.Errorf("js: failed to set console.log: %w", err)
	}
	if err := vm.Set("console", console); err != nil {
		return agentregistry.Result{}, fmt.Errorf("js: failed to set console: %w", err)
	}

	var input any
	if len(args.Input) > 0 {
		if err := json.Unmarshal(args.Input, &input); err != nil {
			return fail("js: invalid input: %v", err), nil
		}
	}
	if err := vm.Set("input", input); err != nil {
		return agentregistry.Result{}, fmt.Errorf("js: failed to bind input: %w", err)
	}

	prog, err := goja.Compile("step", code, false)
	if err != nil {
		reportErr(err)
		return fail("js: compile error: %v", err), nil
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	value, err := vm.RunProgram(prog)
	if err != nil {
		reportErr(err)
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) && ctx.Err() != nil {
			return agentregistry.Result{}, ctx.Err()
		}
		return fail("js: runtime error: %v", err), nil
	}

	if r := vm.Get("result"); r != nil && !goja.IsUndefined(r) {
		value = r
	}
	var exported any
	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		exported = value.Export()
	}
	out, err := json.Marshal(exported)
	if err != nil {
		reportErr(err)
		return fail("js: result is not JSON serializable: %v", err), nil
	}

	mu.Lock()
	reportChange(fmt.Sprintf("step-%d", inv.StepID), map[string]any{"logs": logs})
	mu.Unlock()
	return agentregistry.Result{Success: true, Output: out}, nil
}

var _ agentregistry.Capability = (*JSSandbox)(nil)
