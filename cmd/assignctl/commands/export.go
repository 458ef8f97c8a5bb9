package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goassign/internal/cli"
	"github.com/TimurManjosov/goassign/internal/registry"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the registry",
	Long: `Write the registry definitions as YAML, JSON or a summary table.
Reads the local source, or the server's registry with --remote. Table output
is a summary; use yaml or json for a file that can be imported again.

Examples:
  assignctl export --source postgres --dsn $DB_DSN --format yaml --output registry.yaml
  assignctl export --remote --base-url http://localhost:8080 --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		outFmt, err := outputFormat()
		if err != nil {
			return err
		}
		ctx := context.Background()

		var defs registry.Definitions
		if remote {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Registry(ctx, "")
			if err != nil {
				return fmt.Errorf("failed to fetch registry: %w", err)
			}
			defs = registry.Definitions{Flags: resp.Flags, Experiments: resp.Experiments, Segments: resp.Segments}
		} else {
			reg, err := loadRegistry(ctx)
			if err != nil {
				return err
			}
			defs = reg.Definitions()
		}

		var output io.Writer = cmd.OutOrStdout()
		if exportOutput != "" && exportOutput != "-" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			output = f
		}

		if err := cli.PrintDefinitions(output, defs, outFmt); err != nil {
			return fmt.Errorf("failed to export: %w", err)
		}
		if exportOutput != "" && exportOutput != "-" && !quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d flag(s) and %d experiment(s) to %s\n",
				len(defs.Flags), len(defs.Experiments), exportOutput)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout)")
}
