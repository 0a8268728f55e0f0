// output.go holds CLI output and plan file helpers.
package plancli

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/contenox/planner/planadvisor"
	"github.com/contenox/planner/planevents"
	"github.com/contenox/planner/planservice"
	"github.com/contenox/planner/plantypes"
	"gopkg.in/yaml.v3"
)

const rule = "━━━━━━━━━━━━━━━━━━━━"

// printResponse prints the explanation, the output or error and the ids needed to follow up.
func printResponse(w io.Writer, resp *planservice.Response, showSteps bool) {
	if resp.Explanation != "" {
		fmt.Fprintf(w, "Plan: %s\n", resp.Explanation)
	}
	fmt.Fprintln(w, rule)
	if resp.Success {
		fmt.Fprintln(w, resp.Output)
	} else {
		if resp.Output != "" {
			fmt.Fprintln(w, resp.Output)
			fmt.Fprintln(w, rule)
		}
		fmt.Fprintf(w, "Failed: %s\n", resp.Error)
	}
	fmt.Fprintln(w, rule)
	if showSteps && resp.Plan != nil {
		printSteps(w, resp.Plan.Steps)
		fmt.Fprintln(w, rule)
	}
	if resp.Revisions > 0 {
		fmt.Fprintf(w, "Revisions: %d\n", resp.Revisions)
	}
	fmt.Fprintf(w, "Trace: %s\n", resp.TraceID)
	if resp.CheckpointID != "" {
		fmt.Fprintf(w, "Checkpoint: %s (resume with: planner checkpoint resume %s)\n", resp.CheckpointID, resp.CheckpointID)
	}
}

// printSteps prints one row per step in id order.
func printSteps(w io.Writer, steps []*plantypes.Step) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAGENT\tCOMMAND\tDEPS\tDURATION\tDETAIL")
	for _, s := range sortedSteps(steps) {
		detail := s.Description
		if s.Status == plantypes.StepStatusFailed {
			detail = s.Error
		}
		dur := "-"
		if s.EndTime != nil {
			dur = formatDuration(s.Duration)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Status, s.AgentName, s.Command, formatDeps(s.Dependencies), dur, truncate(detail, 60))
	}
	_ = tw.Flush()
}

func sortedSteps(steps []*plantypes.Step) []*plantypes.Step {
	out := plantypes.Clone(steps)
	slices.SortFunc(out, func(a, b *plantypes.Step) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func formatDeps(deps []int) string {
	if len(deps) == 0 {
		return "-"
	}
	parts := make([]string, len(deps))
	for i, d := range deps {
		parts[i] = fmt.Sprint(d)
	}
	return strings.Join(parts, ",")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// progressPrinter prints a line whenever the completed or failed count changes.
func progressPrinter(w io.Writer) planservice.PlanObserver {
	var (
		mu   sync.Mutex
		last string
	)
	return func(steps []*plantypes.Step) {
		line := planevents.NewSnapshot(steps, time.Now()).String()
		mu.Lock()
		defer mu.Unlock()
		if line == last {
			return
		}
		last = line
		fmt.Fprintf(w, "  %s\n", line)
	}
}

// formatDuration formats a duration for step output (e.g. "1.70s", "53ms").
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.0fms", d.Seconds()*1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// decodeStepsFile parses a plan file in JSON or YAML: either a list of
// steps or an object with a "steps" list.
func decodeStepsFile(data []byte) ([]*plantypes.Step, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid plan file: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid plan file: %w", err)
	}
	steps, err := planadvisor.ParseSteps(string(raw))
	if err != nil {
		return nil, err
	}
	if err := plantypes.Validate(steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// encodeSteps renders steps as indented JSON or, when asYAML is set, YAML
// with the same field names.
func encodeSteps(steps []*plantypes.Step, asYAML bool) ([]byte, error) {
	data, err := json.MarshalIndent(map[string]any{"steps": steps}, "", "  ")
	if err != nil {
		return nil, err
	}
	if !asYAML {
		return data, nil
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}
