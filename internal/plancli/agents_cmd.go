// agents_cmd.go implements planner agents (list and serve).
package plancli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/contenox/planner/agentregistry"
	libbus "github.com/contenox/planner/libbus"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the capabilities the advisor may plan with.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, storeTimeout, func(ctx context.Context, cfg Config, e *Engine) error {
			for _, name := range e.Registry.Names() {
				if slices.Contains(cfg.RemoteAgents, name) {
					fmt.Printf("%s\t(remote)\n", name)
					continue
				}
				fmt.Println(name)
			}
			return nil
		})
	},
}

var agentsServeCmd = &cobra.Command{
	Use:   "serve <name>...",
	Short: "Serve local capabilities on the bus for other planner processes.",
	Long: `Serve local capabilities on the bus so that planners listing them under
remote_agents can invoke them. Requires nats_url; runs until interrupted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, 0, func(ctx context.Context, cfg Config, e *Engine) error {
			if cfg.NATSURL == "" {
				slog.Warn("No nats_url configured; capabilities are only reachable in this process")
			}
			return serveAgents(ctx, e.Bus, e.Registry, cfg.RemoteAgents, args)
		})
	},
}

// serveAgents serves each named local capability until ctx is done.
func serveAgents(ctx context.Context, bus libbus.Messenger, reg *agentregistry.Registry, remote, names []string) error {
	var subs []libbus.Subscription
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()
	for _, name := range names {
		if slices.Contains(remote, name) {
			return fmt.Errorf("agent %q is itself remote and cannot be served from here", name)
		}
		capability, err := reg.Resolve(name)
		if err != nil {
			return err
		}
		sub, err := agentregistry.Serve(ctx, bus, name, capability)
		if err != nil {
			return fmt.Errorf("failed to serve %q: %w", name, err)
		}
		subs = append(subs, sub)
		slog.Info("Serving agent", "name", name, "subject", agentregistry.SubjectPrefix+name)
	}
	<-ctx.Done()
	return nil
}

func init() {
	agentsCmd.AddCommand(agentsServeCmd)
}
