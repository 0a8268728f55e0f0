// template_cmd.go implements planner template (list, show, import, export, delete).
package plancli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// storeTimeout bounds the commands that only touch the store.
const storeTimeout = time.Minute

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage saved plan templates.",
	Long: `Templates are plans saved with --save-as (or imported from a file) with
their execution state stripped. Run one with: planner run --template <name>`,
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved templates.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, storeTimeout, func(ctx context.Context, _ Config, e *Engine) error {
			names, err := e.Service.GetTemplates(ctx)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No templates saved.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTEPS\tUPDATED")
			for _, name := range names {
				t, err := e.Service.GetTemplate(ctx, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", t.Name, len(t.Steps), t.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		})
	},
}

var templateShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the steps of a template.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, storeTimeout, func(ctx context.Context, _ Config, e *Engine) error {
			steps, err := e.Service.LoadTemplate(ctx, args[0])
			if err != nil {
				return err
			}
			printSteps(os.Stdout, steps)
			return nil
		})
	},
}

var templateImportCmd = &cobra.Command{
	Use:   "import <name> <file>",
	Short: "Save a JSON or YAML plan file as a template.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		steps, err := decodeStepsFile(data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[1], err)
		}
		return withEngine(cmd, storeTimeout, func(ctx context.Context, _ Config, e *Engine) error {
			if err := e.Service.SaveAsTemplate(ctx, args[0], steps); err != nil {
				return err
			}
			fmt.Printf("Saved template %q (%d steps).\n", args[0], len(steps))
			return nil
		})
	},
}

var templateExportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Print a template as JSON (or YAML with --yaml).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asYAML, _ := cmd.Flags().GetBool("yaml")
		return withEngine(cmd, storeTimeout, func(ctx context.Context, _ Config, e *Engine) error {
			steps, err := e.Service.LoadTemplate(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := encodeSteps(steps, asYAML)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		})
	},
}

var templateDeleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a template.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, storeTimeout, func(ctx context.Context, _ Config, e *Engine) error {
			if err := e.Service.DeleteTemplate(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted template %q.\n", args[0])
			return nil
		})
	},
}

func init() {
	templateExportCmd.Flags().Bool("yaml", false, "Export as YAML")
	templateCmd.AddCommand(templateListCmd, templateShowCmd, templateImportCmd, templateExportCmd, templateDeleteCmd)
}
