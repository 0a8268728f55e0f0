// Package localagents contains the capabilities that ship with the planner.
package localagents

import (
	"context"
	"encoding/json"

	"github.com/contenox/planner/agentregistry"
)

const EchoName = "echo"

type echoArgs struct {
	Message *string `json:"message"`
}

// Echo returns args.message, or the command when no message is given.
type Echo struct{}

func NewEcho() agentregistry.Capability {
	return &Echo{}
}

func (e *Echo) Execute(ctx context.Context, inv agentregistry.Invocation) (agentregistry.Result, error) {
	var args echoArgs
	if len(inv.Args) > 0 {
		if err := json.Unmarshal(inv.Args, &args); err != nil {
			return agentregistry.Result{Success: false, Error: "echo: args must be an object: " + err.Error()}, nil
		}
	}
	msg := inv.Command
	if args.Message != nil {
		msg = *args.Message
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return agentregistry.Result{}, err
	}
	return agentregistry.Result{Success: true, Output: out}, nil
}

var _ agentregistry.Capability = (*Echo)(nil)
