package plancli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/contenox/planner/planservice"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [request...]",
	Short: "Plan and run a request (default when no subcommand is given).",
	Long: `Plan and run a request. The request is taken from the positional args,
or from stdin when piped. --template and --resume run a stored plan instead.`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("template", "", "Run a saved template instead of asking the advisor")
	runCmd.Flags().String("resume", "", "Resume a checkpoint; completed steps are not run again")
	addRunFlags(runCmd)
}

// addRunFlags adds the flags shared by run and checkpoint resume.
func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("save-as", "", "Save the plan as a template after a successful run")
	f.Bool("no-checkpoint", false, "Do not persist checkpoints for this run")
	f.Bool("no-explain", false, "Skip the plan explanation")
	f.Duration("timeout", defaultTimeout, "Maximum run time (e.g. 10m, 1h)")
	f.Bool("steps", false, "Print the step table after the result")
	f.Bool("json", false, "Print the full response as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	template, _ := flags.GetString("template")
	resume, _ := flags.GetString("resume")

	request := strings.TrimSpace(strings.Join(args, " "))
	if request == "" && template == "" && resume == "" {
		request = readPipedStdin()
	}
	if request == "" && template == "" && resume == "" {
		_ = cmd.Usage()
		return nil
	}

	saveAs, _ := flags.GetString("save-as")
	noCheckpoint, _ := flags.GetBool("no-checkpoint")
	noExplain, _ := flags.GetBool("no-explain")
	req := planservice.Request{
		RequestText:            request,
		LoadFromTemplate:       template,
		ResumeFromCheckpointID: resume,
		SaveAsTemplate:         saveAs,
		PreventCheckpoint:      noCheckpoint,
		SkipExplanation:        noExplain,
	}
	return executeRequest(cmd, req)
}

// executeRequest runs req and prints the outcome. It is shared by run and checkpoint resume.
func executeRequest(cmd *cobra.Command, req planservice.Request) error {
	flags := cmd.Flags()
	timeout, _ := flags.GetDuration("timeout")
	showSteps, _ := flags.GetBool("steps")
	asJSON, _ := flags.GetBool("json")

	return withEngine(cmd, timeout, func(ctx context.Context, cfg Config, e *Engine) error {
		if cfg.Explain != nil && !*cfg.Explain {
			req.SkipExplanation = true
		}
		if !asJSON {
			req.OnPlanUpdate = progressPrinter(os.Stderr)
			fmt.Fprintln(os.Stderr, "Planning...")
		}

		resp, err := e.Service.Execute(ctx, req)
		if resp == nil {
			return err
		}
		if asJSON {
			b, mErr := json.MarshalIndent(resp, "", "  ")
			if mErr != nil {
				return mErr
			}
			fmt.Println(string(b))
		} else {
			printResponse(os.Stdout, resp, showSteps)
		}
		if err != nil {
			slog.Error("Run aborted", "error", err, "trace_id", resp.TraceID)
			return err
		}
		if !resp.Success {
			return errRunFailed
		}
		return nil
	})
}

// readPipedStdin returns stdin when it is not a terminal.
func readPipedStdin() string {
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return ""
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		slog.Error("Failed to read from stdin", "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
