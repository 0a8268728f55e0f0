// watch_cmd.go implements planner watch (follow plan snapshots on the bus).
package plancli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/contenox/planner/planevents"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [subject]",
	Short: "Print plan snapshots published by running planners.",
	Long: `Print plan snapshots published by running planners. Needs nats_url, since
the in-process bus only sees runs of this process. Runs until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showSteps, _ := cmd.Flags().GetBool("steps")
		return withEngine(cmd, 0, func(ctx context.Context, cfg Config, e *Engine) error {
			subject := cfg.EventSubject
			if len(args) == 1 {
				subject = args[0]
			}
			snapshots, err := planevents.Subscribe(ctx, e.Bus, subject)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Watching %s...\n", subject)
			printSnapshots(os.Stdout, snapshots, showSteps)
			return nil
		})
	},
}

// printSnapshots prints snapshots until the channel closes.
func printSnapshots(w io.Writer, snapshots <-chan planevents.Snapshot, showSteps bool) {
	for snap := range snapshots {
		fmt.Fprintf(w, "%s  %s\n", snap.At.Local().Format("15:04:05"), snap)
		if showSteps {
			printSteps(w, snap.Steps)
		}
	}
}

func init() {
	watchCmd.Flags().Bool("steps", false, "Print the step table with every snapshot")
}
