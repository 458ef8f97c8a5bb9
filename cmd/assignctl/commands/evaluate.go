package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goassign/internal/cli"
	"github.com/TimurManjosov/goassign/internal/engine"
)

var evalUser userFlags

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <key>",
	Short: "Evaluate one flag or experiment",
	Long: `Evaluate a flag or experiment for a user. A malformed override is
reported on stderr and the fail-safe default is shown.

Examples:
  assignctl evaluate hero_style --user user-42
  assignctl evaluate driver_map --user user-42 --segment internal
  assignctl evaluate hero_style --session s-1 --override hero_style=cinematic
  assignctl evaluate hero_style --user user-42 --remote`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		uc, err := evalUser.context()
		if err != nil {
			return err
		}
		outFmt, err := outputFormat()
		if err != nil {
			return err
		}
		ctx := context.Background()

		var a engine.Assignment
		var evalErr string
		if remote {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Evaluate(ctx, key, uc)
			if err != nil {
				return fmt.Errorf("failed to evaluate: %w", err)
			}
			a = resp.Assignment
			if resp.Error != nil {
				evalErr = resp.Error.Message
			}
		} else {
			reg, err := loadRegistry(ctx)
			if err != nil {
				return err
			}
			if _, known := reg.Kind(key); !known && verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %q is not in the registry\n", key)
			}
			eng := engine.New(reg, engine.WithSalt(salt))
			a, err = eng.Evaluate(key, uc)
			if err != nil {
				evalErr = err.Error()
			}
		}

		if evalErr != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", evalErr)
		}
		if quiet {
			return nil
		}
		return cli.PrintAssignments(cmd.OutOrStdout(), []engine.Assignment{a}, outFmt)
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evalUser.register(evaluateCmd)
}
