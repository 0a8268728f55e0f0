// trace_cmd.go implements planner trace (read the activity log from Valkey).
package plancli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/contenox/planner/activitylog"
	"github.com/spf13/cobra"
)

var errNoActivityLog = errors.New("activity log needs valkey_addr")

var traceCmd = &cobra.Command{
	Use:   "trace [trace-id]",
	Short: "Show recorded runs, or the operations of one run.",
	Long: `Without an id, list the trace ids of recorded runs. With an id, print every
recorded operation of that run in order. --recent prints the newest events
across all runs and --operations the distinct operations seen so far.
The activity log lives in Valkey, so valkey_addr must be configured.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recent, _ := cmd.Flags().GetInt("recent")
		operations, _ := cmd.Flags().GetBool("operations")
		return withEngine(cmd, storeTimeout, func(ctx context.Context, _ Config, e *Engine) error {
			if e.Activity == nil {
				return errNoActivityLog
			}
			switch {
			case len(args) == 1:
				events, err := e.Activity.TraceEvents(ctx, args[0])
				if err != nil {
					return err
				}
				if len(events) == 0 {
					return fmt.Errorf("no events for trace %s", args[0])
				}
				printEvents(os.Stdout, events)
			case operations:
				ops, err := e.Activity.KnownOperations(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "OPERATION\tSUBJECT")
				for _, op := range ops {
					fmt.Fprintf(tw, "%s\t%s\n", op.Operation, op.Subject)
				}
				_ = tw.Flush()
			case recent > 0:
				events, err := e.Activity.RecentEvents(ctx, recent)
				if err != nil {
					return err
				}
				printEvents(os.Stdout, events)
			default:
				ids, err := e.Activity.Traces(ctx)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					fmt.Println("No traces recorded.")
				}
				for _, id := range ids {
					fmt.Println(id)
				}
			}
			return nil
		})
	},
}

func init() {
	traceCmd.Flags().Int("recent", 0, "Print the newest N events across all runs")
	traceCmd.Flags().Bool("operations", false, "List the distinct operations recorded")
}

// printEvents prints one row per event with its metadata in key order.
func printEvents(w io.Writer, events []activitylog.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tOPERATION\tSUBJECT\tDURATION\tERROR\tMETADATA")
	for _, ev := range events {
		errText := "-"
		if ev.Error != nil {
			errText = truncate(*ev.Error, 40)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Start.Local().Format("15:04:05.000"), ev.Operation, ev.Subject,
			formatDuration(time.Duration(ev.Duration*float64(time.Millisecond))), errText, formatMetadata(ev.Metadata))
	}
	_ = tw.Flush()
}

func formatMetadata(md map[string]string) string {
	if len(md) == 0 {
		return "-"
	}
	keys := slices.Sorted(maps.Keys(md))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + md[k]
	}
	return strings.Join(parts, " ")
}
