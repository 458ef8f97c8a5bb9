package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goassign/internal/cli"
	"github.com/TimurManjosov/goassign/internal/client"
	"github.com/TimurManjosov/goassign/internal/engine"
	"github.com/TimurManjosov/goassign/internal/override"
	"github.com/TimurManjosov/goassign/internal/registry"
	"github.com/TimurManjosov/goassign/internal/store"
)

var (
	// Global flags
	profile      string
	baseURL      string
	registryPath string
	source       string
	dsn          string
	salt         string
	format       string
	remote       bool
	quiet        bool
	verbose      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "assignctl",
	Short: "Inspect and test feature flag and experiment assignments",
	Long: `assignctl evaluates flags and experiments against a registry, either
locally from a registry file or database, or remotely through a running
assignment server.

Examples:
  assignctl validate registry.yaml
  assignctl evaluate hero_style --user user-42
  assignctl evaluate beta_checkout --user user-42 --override beta_checkout=true
  assignctl list --user user-42 --segment internal --format json
  assignctl bucket hero_style --user user-42
  assignctl list --remote --base-url http://localhost:8080 --user user-42`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&profile, "profile", "", "Profile from ~/.assignctl/config.yaml")
	pf.StringVar(&baseURL, "base-url", "", "Base URL of the assignment server")
	pf.StringVar(&registryPath, "registry", "", "Registry file (YAML or JSON)")
	pf.StringVar(&source, "source", store.SourceKindFile, "Registry source for local commands (file, postgres)")
	pf.StringVar(&dsn, "dsn", "", "PostgreSQL DSN when --source=postgres")
	pf.StringVar(&salt, "salt", "", "Hash salt; must match the server's ASSIGN_HASH_SALT")
	pf.StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	pf.BoolVar(&remote, "remote", false, "Evaluate through the server at --base-url")
	pf.BoolVar(&quiet, "quiet", false, "Suppress output")
	pf.BoolVar(&verbose, "verbose", false, "Verbose output")
}

// resolveProfile merges flags, environment and config file.
func resolveProfile() (cli.Profile, error) {
	p, err := cli.ResolveProfile(profile, baseURL, registryPath)
	if err != nil {
		return cli.Profile{}, fmt.Errorf("configuration error: %w", err)
	}
	return p, nil
}

// loadRegistry loads and validates the local registry.
func loadRegistry(ctx context.Context) (*registry.Registry, error) {
	p, err := resolveProfile()
	if err != nil {
		return nil, err
	}
	if source == store.SourceKindFile && p.Registry == "" {
		return nil, fmt.Errorf("no registry file: pass --registry or set one in the config profile")
	}
	src, err := store.NewSource(ctx, source, p.Registry, dsn)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return store.LoadRegistry(ctx, src)
}

func newClient() (*client.Client, error) {
	p, err := resolveProfile()
	if err != nil {
		return nil, err
	}
	if p.BaseURL == "" {
		return nil, fmt.Errorf("no server: pass --base-url or set one in the config profile")
	}
	return client.NewClient(p.BaseURL), nil
}

// userFlags are the context flags shared by evaluate and list.
type userFlags struct {
	userID    string
	sessionID string
	email     string
	segments  []string
	overrides []string
}

func (u *userFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&u.userID, "user", "", "User ID")
	f.StringVar(&u.sessionID, "session", "", "Session ID, used for hashing when --user is empty")
	f.StringVar(&u.email, "email", "", "User email, available to segment rules")
	f.StringSliceVar(&u.segments, "segment", nil, "Segment the user belongs to (repeatable)")
	f.StringArrayVar(&u.overrides, "override", nil, "Override as key=value (repeatable)")
}

func (u *userFlags) context() (engine.UserContext, error) {
	overrides, err := override.ParsePairs(u.overrides)
	if err != nil {
		return engine.UserContext{}, err
	}
	return engine.UserContext{
		UserID:    u.userID,
		SessionID: u.sessionID,
		Email:     u.email,
		Segments:  u.segments,
		Overrides: overrides,
	}, nil
}

func outputFormat() (cli.OutputFormat, error) {
	return cli.ParseFormat(format)
}
