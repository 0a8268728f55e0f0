// cli.go holds the planner CLI entrypoint (Main), defaults, persistent flags and signal handling.
package plancli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/contenox/planner/libtracker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	configDirName  = ".planner"
	defaultOllama  = "http://127.0.0.1:11434"
	defaultModel   = "qwen2.5:7b"
	defaultTimeout = 30 * time.Minute
)

// reservedSubcommands are first-arg names that must not be treated as a request.
var reservedSubcommands = map[string]bool{
	"init": true, "run": true, "help": true, "completion": true,
	"template": true, "checkpoint": true, "agents": true, "watch": true, "trace": true,
}

// Main runs the planner CLI. A bare request ("planner fetch the weather") is run as "planner run ...".
func Main() {
	args := os.Args[1:]
	onlyHelp := len(args) == 0
	if !onlyHelp {
		allHelp := true
		for _, a := range args {
			if a != "--help" && a != "-h" {
				allHelp = false
				break
			}
		}
		onlyHelp = allHelp
	}
	if !onlyHelp && !firstNonFlagIsReserved(args) {
		rootCmd.SetArgs(append([]string{"run"}, args...))
	}
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if !errors.As(err, &exit) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// firstNonFlagIsReserved scans args, skipping flags and their values, and returns
// true if the first positional argument is a reserved subcommand name.
func firstNonFlagIsReserved(args []string) bool {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			if i+1 < len(args) {
				return reservedSubcommands[args[i+1]]
			}
			return false
		}
		if strings.HasPrefix(a, "--") {
			// Long flag without '=' consumes the next token, except known booleans.
			if !strings.Contains(a, "=") && !boolFlags[strings.TrimPrefix(a, "--")] {
				i++
			}
			continue
		}
		if strings.HasPrefix(a, "-") && len(a) > 1 {
			if len(a) == 2 {
				i++
			}
			continue
		}
		return reservedSubcommands[a]
	}
	return false
}

var boolFlags = map[string]bool{
	"trace": true, "no-checkpoint": true, "no-explain": true, "steps": true, "json": true, "force": true, "yaml": true,
}

var rootCmd = &cobra.Command{
	Use:   "planner",
	Short: "Plan and run multi-step requests with dependency-aware agents.",
	Long: `Planner turns a request into a plan of steps, runs independent steps in
parallel, checkpoints progress and asks the model for a revised plan when a
step fails.

  Quickstart:
    planner init                              # scaffold .planner/config.yaml
    planner fetch https://example.com and count the links
    planner run --template nightly-report     # rerun a saved plan
    planner checkpoint list                   # unfinished runs
    planner checkpoint resume <id>            # continue where a run stopped

  State is stored in SQLite by default (.planner/planner.db). Postgres and
  Valkey are available via the store setting.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	addPersistentFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(initCmd, runCmd, templateCmd, checkpointCmd, agentsCmd, watchCmd, traceCmd)
	rootCmd.InitDefaultHelpCmd()
}

// addPersistentFlags defines the flags that override config.yaml (see applyFlags).
func addPersistentFlags(f *pflag.FlagSet) {
	f.String("store", "", "Persistence backend: sqlite, postgres, valkey or memory (default sqlite)")
	f.String("db", "", "SQLite database path (default: .planner/planner.db)")
	f.String("postgres-dsn", "", "Postgres connection string for store=postgres")
	f.String("valkey-addr", "", "Valkey address (host:port) for store=valkey and trace storage")
	f.String("nats-url", "", "NATS url for plan events and remote agents (default: in-process bus)")
	f.String("advisor", "", "Plan advisor backend: ollama or openai (default ollama)")
	f.String("model", "", "Model used by the advisor (default "+defaultModel+")")
	f.String("ollama", "", "Ollama base URL (default "+defaultOllama+")")
	f.String("openai-base-url", "", "OpenAI compatible base URL (default: public API)")
	f.Int("max-revisions", 0, "How often a failed plan is revised (default 3)")
	f.Int("max-in-flight", 0, "Maximum concurrent steps per layer (0 = unbounded)")
	f.Duration("step-timeout", 0, "Per-step watchdog timeout (0 = none)")
	f.String("failure-policy", "", "What happens to running siblings of a failed step: drain or abandon")
	f.String("event-subject", "", "Bus subject plan snapshots are published on")
	f.Bool("trace", false, "Log every operation to stderr")
}

// commandContext returns a context carrying a request id that is cancelled
// on SIGINT/SIGTERM or after timeout (0 = no timeout).
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	base := libtracker.WithNewRequestID(context.Background())
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(base, timeout)
	} else {
		ctx, cancel = context.WithCancel(base)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			slog.Warn("Received interrupt, finishing the running layer...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// Sentinel errors so RunE can return and Main can os.Exit(1).
var errRunFailed = &exitError{1}

type exitError struct{ code int }

func (e *exitError) Error() string { return "exit" }
