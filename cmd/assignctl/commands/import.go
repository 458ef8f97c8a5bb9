package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	mydb "github.com/TimurManjosov/goassign/internal/db"
	"github.com/TimurManjosov/goassign/internal/registry"
	"github.com/TimurManjosov/goassign/internal/store"
)

var (
	importDryRun  bool
	importMigrate bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a registry file into PostgreSQL",
	Long: `Validate a registry file and replace the definitions stored in
PostgreSQL with it, in a single transaction. Running servers pick the
change up on restart.

Examples:
  assignctl import registry.yaml --dsn postgres://localhost/assign --migrate
  assignctl import registry.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := registry.ReadFile(args[0])
		if err != nil {
			return err
		}
		if _, err := registry.New(defs); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if importDryRun {
			fmt.Fprintf(out, "Dry run: %d flag(s), %d experiment(s), %d segment rule(s) would be imported\n",
				len(defs.Flags), len(defs.Experiments), len(defs.Segments))
			if verbose {
				for _, f := range defs.Flags {
					fmt.Fprintf(out, "  - flag %s (%s)\n", f.Name, f.RolloutStage)
				}
				for _, e := range defs.Experiments {
					fmt.Fprintf(out, "  - experiment %s (active: %t)\n", e.Name, e.Active)
				}
			}
			return nil
		}

		if dsn == "" {
			return fmt.Errorf("--dsn is required")
		}
		ctx := context.Background()
		pool, err := mydb.NewPool(ctx, dsn)
		if err != nil {
			return err
		}
		st := store.NewPostgresStore(pool)
		defer st.Close()

		if importMigrate {
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
		}
		if err := st.Save(ctx, defs); err != nil {
			return fmt.Errorf("failed to import: %w", err)
		}
		if !quiet {
			fmt.Fprintf(out, "Imported %d flag(s), %d experiment(s), %d segment rule(s)\n",
				len(defs.Flags), len(defs.Experiments), len(defs.Segments))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate and summarize without writing")
	importCmd.Flags().BoolVar(&importMigrate, "migrate", false, "Create the tables first if missing")
}
