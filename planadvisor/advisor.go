// Package planadvisor turns a natural language request into steps, revises
// failed plans and explains plans. The reasoning is delegated to a language
// model behind the Completer interface.
package planadvisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/contenox/planner/plantypes"
)

var ErrMalformedPlan = errors.New("malformed plan")

// AdvisorError reports a model response that could not be used.
type AdvisorError struct {
	Op  string
	Raw string
	Err error
}

func (e *AdvisorError) Error() string {
	return fmt.Sprintf("advisor %s: %v", e.Op, e.Err)
}

func (e *AdvisorError) Unwrap() error {
	return e.Err
}

// ExplainOptions tunes ExplainPlan.
type ExplainOptions struct {
	// Detailed asks for a step by step walkthrough instead of a short paragraph.
	Detailed bool
	// IncludeOutputs adds completed step outputs to the prompt.
	IncludeOutputs bool
}

type Advisor interface {
	GeneratePlan(ctx context.Context, requestText string) ([]*plantypes.Step, error)
	RevisePlan(ctx context.Context, requestText string, failedSteps []*plantypes.Step, errorMessage string, attemptNumber int) ([]*plantypes.Step, error)
	ExplainPlan(ctx context.Context, steps []*plantypes.Step, requestText string, opts ExplainOptions) (string, error)
}

// ParseSteps extracts a step list from a model response. It accepts a bare
// JSON array or an object with a "steps" array, optionally wrapped in a
// markdown code fence. Steps without an id are numbered from 1 in order.
func ParseSteps(text string) ([]*plantypes.Step, error) {
	payload := stripFence(text)
	if payload == "" {
		return nil, malformed(text, errors.New("empty response"))
	}

	var raw []json.RawMessage
	switch payload[0] {
	case '[':
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			return nil, malformed(text, err)
		}
	case '{':
		var wrapper struct {
			Steps []json.RawMessage `json:"steps"`
		}
		if err := json.Unmarshal([]byte(payload), &wrapper); err != nil {
			return nil, malformed(text, err)
		}
		if wrapper.Steps == nil {
			return nil, malformed(text, errors.New(`object has no "steps" array`))
		}
		raw = wrapper.Steps
	default:
		return nil, malformed(text, errors.New("response is neither a JSON array nor an object"))
	}
	if len(raw) == 0 {
		return nil, malformed(text, errors.New("no steps"))
	}

	steps := make([]*plantypes.Step, 0, len(raw))
	for i, item := range raw {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			return nil, malformed(text, fmt.Errorf("step %d is not an object", i))
		}
		if _, ok := fields["agentName"]; !ok {
			return nil, malformed(text, fmt.Errorf("step %d has no agentName", i))
		}
		var st plantypes.Step
		if err := json.Unmarshal(item, &st); err != nil {
			return nil, malformed(text, fmt.Errorf("step %d: %w", i, err))
		}
		if _, ok := fields["id"]; !ok {
			st.ID = i + 1
		}
		st.Status = plantypes.StepStatusPending
		st.Output, st.Error = nil, ""
		st.StartTime, st.EndTime, st.Duration = nil, nil, 0
		if st.Dependencies == nil {
			st.Dependencies = []int{}
		}
		steps = append(steps, &st)
	}
	return steps, nil
}

func malformed(raw string, err error) error {
	return &AdvisorError{Op: "parse", Raw: raw, Err: fmt.Errorf("%w: %w", ErrMalformedPlan, err)}
}

// stripFence removes a surrounding ``` or ```json fence and any prose
// before the first fence.
func stripFence(text string) string {
	s := strings.TrimSpace(text)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	s = s[start+3:]
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}
