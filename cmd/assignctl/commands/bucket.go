package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goassign/internal/registry"
	"github.com/TimurManjosov/goassign/internal/rollout"
)

var (
	bucketUser    string
	bucketSession string
)

var bucketCmd = &cobra.Command{
	Use:   "bucket <key>",
	Short: "Show the hash bucket for a user and key",
	Long: `Print the bucket (0-99) a user hashes into for a key, and which
stages would enable a flag at that bucket. Useful when debugging why a user
did or did not get a rollout. Pass --salt if the server uses one.

Examples:
  assignctl bucket beta_checkout --user user-42
  assignctl bucket hero_style --session s-1 --salt 2024q3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := bucketUser
		if identity == "" {
			identity = bucketSession
		}
		if identity == "" {
			return fmt.Errorf("--user or --session is required")
		}

		b := rollout.BucketFor(identity, args[0], salt)
		out := cmd.OutOrStdout()
		if quiet {
			fmt.Fprintln(out, b)
			return nil
		}
		fmt.Fprintf(out, "identity=%s key=%s bucket=%d\n", identity, args[0], b)
		for _, stage := range registry.Stages() {
			pct := stage.Percentage()
			if pct <= 0 || pct >= rollout.Buckets {
				continue
			}
			fmt.Fprintf(out, "  %-10s %3d%%  enabled=%t\n", stage, pct, b < pct)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bucketCmd)
	bucketCmd.Flags().StringVar(&bucketUser, "user", "", "User ID")
	bucketCmd.Flags().StringVar(&bucketSession, "session", "", "Session ID, used when --user is empty")
}
