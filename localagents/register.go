package localagents

import (
	"errors"

	"github.com/contenox/planner/agentregistry"
	"github.com/contenox/planner/libtracker"
)

// RegisterDefaults adds echo, webhook, js and jsonquery to reg. Names that
// are already taken are left alone. webOpts configure the webhook agent.
func RegisterDefaults(reg *agentregistry.Registry, tracker libtracker.ActivityTracker, webOpts ...WebhookOption) error {
	defaults := map[string]agentregistry.Capability{
		EchoName:      NewEcho(),
		WebhookName:   NewWebCaller(webOpts...),
		JSName:        NewJSSandbox(tracker),
		JSONQueryName: NewJSONQuery(),
	}
	for name, c := range defaults {
		if err := reg.Register(name, c); err != nil && !errors.Is(err, agentregistry.ErrDuplicateName) {
			return err
		}
	}
	return nil
}
