// checkpoint_cmd.go implements planner checkpoint (list, show, resume, discard).
package plancli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/contenox/planner/planservice"
	"github.com/contenox/planner/plantypes"
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect, resume or discard unfinished runs.",
	Long: `A checkpoint is written whenever a run starts or a layer finishes. It is
removed when the run succeeds, so every listed checkpoint is an unfinished run.`,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, storeTimeout, func(ctx context.Context, _ Config, e *Engine) error {
			ids, err := e.Service.GetCheckpoints(ctx)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("No checkpoints.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROGRESS\tUPDATED\tREQUEST")
			for _, id := range ids {
				cp, err := e.Service.GetCheckpoint(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					cp.ID, progress(cp.Steps), cp.UpdatedAt.Local().Format("2006-01-02 15:04"), truncate(cp.RequestText, 50))
			}
			return tw.Flush()
		})
	},
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the steps of a checkpoint.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, storeTimeout, func(ctx context.Context, _ Config, e *Engine) error {
			cp, err := e.Service.GetCheckpoint(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Request: %s\n", cp.RequestText)
			printSteps(os.Stdout, cp.Steps)
			return nil
		})
	},
}

var checkpointResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Continue a run; completed steps are not run again.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		saveAs, _ := cmd.Flags().GetString("save-as")
		noCheckpoint, _ := cmd.Flags().GetBool("no-checkpoint")
		noExplain, _ := cmd.Flags().GetBool("no-explain")
		return executeRequest(cmd, planservice.Request{
			ResumeFromCheckpointID: args[0],
			SaveAsTemplate:         saveAs,
			PreventCheckpoint:      noCheckpoint,
			SkipExplanation:        noExplain,
		})
	},
}

var checkpointDiscardCmd = &cobra.Command{
	Use:     "discard <id>",
	Aliases: []string{"rm", "delete"},
	Short:   "Delete a checkpoint.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, storeTimeout, func(ctx context.Context, _ Config, e *Engine) error {
			if err := e.Service.DeleteCheckpoint(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Discarded checkpoint %s.\n", args[0])
			return nil
		})
	},
}

// progress renders "completed/total" plus the failed count when there is one.
func progress(steps []*plantypes.Step) string {
	done := plantypes.Count(steps, plantypes.StepStatusCompleted)
	out := fmt.Sprintf("%d/%d", done, len(steps))
	if failed := plantypes.Count(steps, plantypes.StepStatusFailed); failed > 0 {
		out += fmt.Sprintf(" (%d failed)", failed)
	}
	return out
}

func init() {
	addRunFlags(checkpointResumeCmd)
	checkpointCmd.AddCommand(checkpointListCmd, checkpointShowCmd, checkpointResumeCmd, checkpointDiscardCmd)
}
