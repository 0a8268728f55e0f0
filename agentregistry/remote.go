package agentregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/contenox/planner/libbus"
)

// SubjectPrefix is prepended to the agent name to form its bus subject.
const SubjectPrefix = "agent."

// Serve answers invocations for name arriving on the bus with capability.
func Serve(ctx context.Context, messenger libbus.Messenger, name string, capability Capability) (libbus.Subscription, error) {
	return messenger.Serve(ctx, SubjectPrefix+name, func(ctx context.Context, data []byte) ([]byte, error) {
		var inv Invocation
		if err := json.Unmarshal(data, &inv); err != nil {
			return nil, fmt.Errorf("decode invocation: %w", err)
		}
		res, err := capability.Execute(ctx, inv)
		if err != nil {
			res = Result{Success: false, Error: err.Error()}
		}
		return json.Marshal(res)
	})
}

type remoteCapability struct {
	messenger libbus.Messenger
	subject   string
}

// NewRemoteCapability returns a capability that forwards invocations to a
// process serving name on the bus.
func NewRemoteCapability(messenger libbus.Messenger, name string) Capability {
	return &remoteCapability{messenger: messenger, subject: SubjectPrefix + name}
}

func (c *remoteCapability) Execute(ctx context.Context, inv Invocation) (Result, error) {
	payload, err := json.Marshal(inv)
	if err != nil {
		return Result{}, err
	}
	reply, err := c.messenger.Request(ctx, c.subject, payload)
	if err != nil {
		if errors.Is(err, libbus.ErrRequestTimeout) {
			return Result{}, fmt.Errorf("remote agent on %s did not answer: %w", c.subject, err)
		}
		return Result{}, fmt.Errorf("remote agent on %s: %w", c.subject, err)
	}
	if msg, ok := bytes.CutPrefix(reply, []byte("error: ")); ok {
		return Result{Success: false, Error: string(msg)}, nil
	}
	var res Result
	if err := json.Unmarshal(reply, &res); err != nil {
		return Result{}, fmt.Errorf("decode reply from %s: %w", c.subject, err)
	}
	return res, nil
}
