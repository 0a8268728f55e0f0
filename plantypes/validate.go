package plantypes

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrEmptyPlan         = errors.New("plan has no steps")
	ErrDuplicateStepID   = errors.New("duplicate step id")
	ErrMissingAgent      = errors.New("step has no agent")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCyclicDependency  = errors.New("cyclic dependency")
)

// Validate checks the structure of a plan before it runs. Duplicate entries
// in a step's dependency list are collapsed in place.
func Validate(steps []*Step) error {
	if len(steps) == 0 {
		return ErrEmptyPlan
	}
	byID := make(map[int]*Step, len(steps))
	for _, s := range steps {
		if s == nil {
			return fmt.Errorf("%w: nil step", ErrEmptyPlan)
		}
		if _, dup := byID[s.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateStepID, s.ID)
		}
		byID[s.ID] = s
		if strings.TrimSpace(s.AgentName) == "" {
			return fmt.Errorf("%w: step %d", ErrMissingAgent, s.ID)
		}
	}
	for _, s := range steps {
		s.Dependencies = dedupe(s.Dependencies)
		for _, dep := range s.Dependencies {
			if dep == s.ID {
				return fmt.Errorf("%w: step %d depends on itself", ErrCyclicDependency, s.ID)
			}
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("%w: step %d depends on missing step %d", ErrUnknownDependency, s.ID, dep)
			}
		}
	}
	if cycle := findCycle(steps, byID); cycle != nil {
		return fmt.Errorf("%w: %s", ErrCyclicDependency, formatPath(cycle))
	}
	return nil
}

func dedupe(ids []int) []int {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[int]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// findCycle runs a three-color DFS and returns the first cycle found as a
// closed path (first id repeated at the end), or nil.
func findCycle(steps []*Step, byID map[int]*Step) []int {
	const (
		white = iota
		grey
		black
	)
	color := make(map[int]int, len(steps))
	var stack []int

	var visit func(id int) []int
	visit = func(id int) []int {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range byID[id].Dependencies {
			switch color[dep] {
			case grey:
				start := slices.Index(stack, dep)
				cycle := slices.Clone(stack[start:])
				return append(cycle, dep)
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if c := visit(s.ID); c != nil {
				return c
			}
		}
	}
	return nil
}

func formatPath(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " -> ")
}

// Layers groups the steps that are not completed into dependency layers.
// Every step in layer k depends only on completed steps or on steps in
// layers before k. Steps within a layer are ordered by id.
func Layers(steps []*Step) ([][]*Step, error) {
	if err := Validate(steps); err != nil {
		return nil, err
	}
	satisfied := make(map[int]bool, len(steps))
	remaining := make([]*Step, 0, len(steps))
	for _, s := range steps {
		if s.Status == StepStatusCompleted {
			satisfied[s.ID] = true
			continue
		}
		remaining = append(remaining, s)
	}

	var layers [][]*Step
	for len(remaining) > 0 {
		var layer, next []*Step
		for _, s := range remaining {
			ready := true
			for _, dep := range s.Dependencies {
				if !satisfied[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, s)
			} else {
				next = append(next, s)
			}
		}
		if len(layer) == 0 {
			stuck := make([]int, 0, len(next))
			for _, s := range next {
				stuck = append(stuck, s.ID)
			}
			return nil, fmt.Errorf("%w: steps %v cannot be scheduled", ErrCyclicDependency, stuck)
		}
		slices.SortFunc(layer, func(a, b *Step) int { return a.ID - b.ID })
		for _, s := range layer {
			satisfied[s.ID] = true
		}
		layers = append(layers, layer)
		remaining = next
	}
	return layers, nil
}
