package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goassign/internal/cli"
	"github.com/TimurManjosov/goassign/internal/engine"
)

var (
	listUser        userFlags
	listEnabledOnly bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every assignment for a user",
	Long: `Evaluate every flag and experiment for a user, sorted by key.

Examples:
  assignctl list --user user-42
  assignctl list --user user-42 --segment internal --format json
  assignctl list --user user-42 --enabled-only
  assignctl list --remote --user user-42`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		uc, err := listUser.context()
		if err != nil {
			return err
		}
		outFmt, err := outputFormat()
		if err != nil {
			return err
		}
		ctx := context.Background()

		var assignments []engine.Assignment
		if remote {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.ListAssignments(ctx, uc)
			if err != nil {
				return fmt.Errorf("failed to list assignments: %w", err)
			}
			assignments = resp.Assignments
		} else {
			reg, err := loadRegistry(ctx)
			if err != nil {
				return err
			}
			assignments = engine.New(reg, engine.WithSalt(salt)).ListActiveAssignments(uc)
		}

		if listEnabledOnly {
			enabled := assignments[:0]
			for _, a := range assignments {
				if a.Enabled() || a.Variant() != "" {
					enabled = append(enabled, a)
				}
			}
			assignments = enabled
		}

		if quiet {
			return nil
		}
		if len(assignments) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No assignments found")
			return nil
		}
		return cli.PrintAssignments(cmd.OutOrStdout(), assignments, outFmt)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listUser.register(listCmd)
	listCmd.Flags().BoolVar(&listEnabledOnly, "enabled-only", false, "Hide disabled flags")
}
