package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goassign/internal/registry"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a registry file",
	Long: `Check a registry file for unknown stages, bad weights, duplicate keys
and malformed segment rules. Defaults to the profile's registry file.

Examples:
  assignctl validate registry.yaml
  assignctl validate --registry registry.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			p, err := resolveProfile()
			if err != nil {
				return err
			}
			path = p.Registry
		}
		if path == "" {
			return fmt.Errorf("no registry file given")
		}

		defs, err := registry.ReadFile(path)
		if err != nil {
			return err
		}
		result := registry.Validate(defs)
		out := cmd.OutOrStdout()
		if !result.Valid {
			fields := make([]string, 0, len(result.Errors))
			for field := range result.Errors {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			for _, field := range fields {
				fmt.Fprintf(out, "  %s: %s\n", field, result.Errors[field])
			}
			return fmt.Errorf("%s: %d problem(s) found", path, len(fields))
		}

		if !quiet {
			fmt.Fprintf(out, "%s is valid: %d flag(s), %d experiment(s), %d segment rule(s)\n",
				path, len(defs.Flags), len(defs.Experiments), len(defs.Segments))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
