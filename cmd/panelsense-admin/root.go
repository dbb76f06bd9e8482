package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/dawidpodolak/panelsense-gateway/migrations"

	"github.com/dawidpodolak/panelsense-gateway/internal/auth"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/config"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/database"
)

const defaultConfigPath = "configs/config.yaml"

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
}

// newRootCmd builds the command tree. Commands write to cmd.OutOrStdout so
// tests can capture their output.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "panelsense-admin",
		Short: "Administer a PanelSense gateway",
		Long: `panelsense-admin manages the panels allowed to connect to a PanelSense
gateway. It works directly on the gateway database and, for live
configuration pushes, talks to the gateway's admin API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Config file path (default: $PANELSENSE_CONFIG or configs/config.yaml)")

	root.AddCommand(newClientCmd(opts))
	root.AddCommand(newTokenCmd(opts))
	root.AddCommand(newAuditCmd(opts))
	return root
}

// path resolves the config file from the flag, the environment or the default.
func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	if path := os.Getenv("PANELSENSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.path())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openStore opens and migrates the gateway database. The caller closes db.
func (o *rootOptions) openStore(ctx context.Context) (*auth.SQLiteClientRepository, *database.DB, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return auth.NewClientRepository(db.DB), db, nil
}
