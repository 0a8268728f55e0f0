package planadvisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/contenox/planner/plantypes"
)

const planFormat = `Respond with JSON only, no prose, in this shape:
{"steps":[{"id":1,"description":"...","agentName":"...","command":"...","args":{},"dependencies":[]}]}
Rules:
- ids are unique positive integers.
- dependencies lists the ids of steps that must complete first; never create cycles.
- args is a JSON object understood by the agent.
- use only the agents listed below.`

func systemPrompt(agents []string) string {
	var b strings.Builder
	b.WriteString("You are a planner. You break a request into small steps, each executed by one agent.\n")
	b.WriteString(planFormat)
	b.WriteString("\nAvailable agents:\n")
	if len(agents) == 0 {
		b.WriteString("- (none registered)\n")
	}
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	return b.String()
}

func generatePrompt(requestText string) string {
	return "Request:\n" + requestText
}

func revisePrompt(requestText string, failed []*plantypes.Step, errorMessage string, attempt int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\n", requestText)
	fmt.Fprintf(&b, "Revision attempt %d. The previous plan failed with:\n%s\n\n", attempt, errorMessage)
	b.WriteString("Previous plan with step status:\n")
	b.WriteString(stepsJSON(failed, true))
	b.WriteString("\n\nReturn a complete corrected plan. Keep completed steps unchanged, with the same id, agent, command and args, so their results are reused.")
	return b.String()
}

func explainPrompt(steps []*plantypes.Step, requestText string, opts ExplainOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\nPlan:\n%s\n\n", requestText, stepsJSON(steps, opts.IncludeOutputs))
	if opts.Detailed {
		b.WriteString("Explain the plan step by step for a human operator, including why each dependency exists.")
	} else {
		b.WriteString("Explain in one short paragraph what this plan will do.")
	}
	return b.String()
}

// stepsJSON renders steps for a prompt; withState keeps status, output and error.
func stepsJSON(steps []*plantypes.Step, withState bool) string {
	view := steps
	if !withState {
		view = plantypes.StripExecution(steps)
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}
