// init.go implements the planner init subcommand (scaffold .planner/).
package plancli

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

//go:embed config.yaml
var initConfig string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold .planner/config.yaml in the current directory.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		cwd, err := os.Getwd()
		if err != nil {
			slog.Error("Cannot get current directory", "error", err)
			return err
		}
		created, err := runInit(cwd, force)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		fmt.Println("Done. Next: start Ollama (ollama serve), pull a model (e.g. ollama pull qwen2.5:7b), then run:")
		fmt.Println("  planner fetch https://example.com and summarize it")
		fmt.Println("  planner agents        # capabilities the advisor may use")
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing config")
}

// runInit writes dir/.planner/config.yaml. It returns false when the file
// exists and force is not set.
func runInit(dir string, force bool) (bool, error) {
	plannerDir := filepath.Join(dir, configDirName)
	if err := os.MkdirAll(plannerDir, 0o750); err != nil {
		slog.Error("Failed to create config directory", "error", err)
		return false, err
	}
	path := filepath.Join(plannerDir, "config.yaml")
	if !force {
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("  %s already exists (use --force to overwrite)\n", path)
			return false, nil
		}
	}
	if err := os.WriteFile(path, []byte(initConfig), 0o644); err != nil {
		slog.Error("Failed to write file", "path", path, "error", err)
		return false, err
	}
	fmt.Printf("  Created %s\n", path)
	return true, nil
}
