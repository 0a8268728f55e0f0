// Package plantypes holds the plan data model and the pure functions over it:
// validation, layering, cloning and summaries. Nothing here performs I/O.
package plantypes

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"time"
)

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// Step is one unit of work in a plan.
type Step struct {
	ID           int             `json:"id"`
	Description  string          `json:"description"`
	AgentName    string          `json:"agentName"`
	Command      string          `json:"command"`
	Args         json.RawMessage `json:"args,omitempty"`
	Dependencies []int           `json:"dependencies"`
	Status       StepStatus      `json:"status"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartTime    *time.Time      `json:"startTime,omitempty"`
	EndTime      *time.Time      `json:"endTime,omitempty"`
	Duration     time.Duration   `json:"-"`
}

func (s *Step) MarshalJSON() ([]byte, error) {
	type Alias Step
	return json.Marshal(&struct {
		Duration float64 `json:"duration"` // milliseconds
		*Alias
	}{
		Duration: float64(s.Duration) / float64(time.Millisecond),
		Alias:    (*Alias)(s),
	})
}

func (s *Step) UnmarshalJSON(data []byte) error {
	type Alias Step
	aux := &struct {
		Duration float64 `json:"duration"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Duration = time.Duration(aux.Duration * float64(time.Millisecond))
	if s.Status == "" {
		s.Status = StepStatusPending
	}
	return nil
}

// Plan is the working copy of one run. It is owned by a single Execute call.
type Plan struct {
	Steps         []*Step `json:"steps"`
	RevisionCount int     `json:"revisionCount"`
	CheckpointID  string  `json:"checkpointID,omitempty"`
	RequestText   string  `json:"requestText"`
	TraceID       string  `json:"traceID,omitempty"`
}

// Clone returns a deep copy of steps. Nil entries are dropped.
func Clone(steps []*Step) []*Step {
	if steps == nil {
		return nil
	}
	out := make([]*Step, 0, len(steps))
	for _, s := range steps {
		if s == nil {
			continue
		}
		out = append(out, s.clone())
	}
	return out
}

func (s *Step) clone() *Step {
	c := *s
	c.Args = cloneRaw(s.Args)
	c.Output = cloneRaw(s.Output)
	c.Dependencies = slices.Clone(s.Dependencies)
	if s.StartTime != nil {
		t := *s.StartTime
		c.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return &c
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return slices.Clone(r)
}

func (s *Step) resetExecution() {
	s.Status = StepStatusPending
	s.Output = nil
	s.Error = ""
	s.StartTime = nil
	s.EndTime = nil
	s.Duration = 0
}

// StripExecution returns a clone with status, output, error and timing cleared.
func StripExecution(steps []*Step) []*Step {
	out := Clone(steps)
	for _, s := range out {
		s.resetExecution()
	}
	return out
}

// ResetUnfinished puts every step that is not completed back to pending, in place.
func ResetUnfinished(steps []*Step) {
	for _, s := range steps {
		if s.Status != StepStatusCompleted {
			s.resetExecution()
		}
	}
}

// CarryOver copies the completed state of previous steps into revised steps
// that describe the same work: same id, agent, command and args.
// It returns how many steps were carried over.
func CarryOver(previous, revised []*Step) int {
	done := make(map[int]*Step, len(previous))
	for _, s := range previous {
		if s.Status == StepStatusCompleted {
			done[s.ID] = s
		}
	}
	n := 0
	for _, r := range revised {
		p, ok := done[r.ID]
		if !ok || !sameWork(p, r) {
			continue
		}
		c := p.clone()
		r.Status = StepStatusCompleted
		r.Output = c.Output
		r.Error = ""
		r.StartTime, r.EndTime, r.Duration = c.StartTime, c.EndTime, c.Duration
		n++
	}
	return n
}

func sameWork(a, b *Step) bool {
	return a.AgentName == b.AgentName &&
		a.Command == b.Command &&
		jsonEqual(a.Args, b.Args)
}

func jsonEqual(a, b json.RawMessage) bool {
	if len(bytes.TrimSpace(a)) == 0 || len(bytes.TrimSpace(b)) == 0 {
		return len(bytes.TrimSpace(a)) == len(bytes.TrimSpace(b))
	}
	var x, y any
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return bytes.Equal(a, b)
	}
	ca, _ := json.Marshal(x)
	cb, _ := json.Marshal(y)
	return bytes.Equal(ca, cb)
}

// Summary joins the outputs of completed steps in ascending id order.
// JSON strings are rendered without quotes; other values verbatim.
func Summary(steps []*Step) string {
	completed := make([]*Step, 0, len(steps))
	for _, s := range steps {
		if s.Status == StepStatusCompleted {
			completed = append(completed, s)
		}
	}
	slices.SortFunc(completed, func(a, b *Step) int { return a.ID - b.ID })

	parts := make([]string, 0, len(completed))
	for _, s := range completed {
		parts = append(parts, RenderOutput(s.Output))
	}
	return strings.Join(parts, "\n")
}

// RenderOutput formats a step output for humans.
func RenderOutput(out json.RawMessage) string {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// Find returns the step with the given id or nil.
func Find(steps []*Step, id int) *Step {
	for _, s := range steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Count returns how many steps have the given status.
func Count(steps []*Step, status StepStatus) int {
	n := 0
	for _, s := range steps {
		if s.Status == status {
			n++
		}
	}
	return n
}
