// Deckvault Core - authentication and access control for a self-hosted deck manager.
//
// This is the main entry point. Subcommands:
//
//	deckvault serve          run the API server
//	deckvault migrate        apply (or --down, roll back) database migrations
//	deckvault reap-sessions  delete invalid and expired sessions once
//	deckvault create-admin   add an administrator account
//	deckvault version        print build information
//
// Configuration is read from --config, DECKVAULT_CONFIG or configs/config.yaml.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/deckvault/deckvault-core/migrations"

	"github.com/deckvault/deckvault-core/internal/infrastructure/config"
	"github.com/deckvault/deckvault-core/internal/infrastructure/database"
	"github.com/deckvault/deckvault-core/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C or SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Tests call it for a fresh instance.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "deckvault",
		Short:         "Deckvault Core authentication and access control server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (default $DECKVAULT_CONFIG or "+defaultConfigPath+")")

	load := func() (*config.Config, *logging.Logger, error) {
		path := resolveConfigPath(configPath)
		cfg, err := config.Load(path)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, logging.New(cfg.Logging, version), nil
	}

	root.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newReapSessionsCmd(load),
		newCreateAdminCmd(load),
		newVersionCmd(),
	)
	return root
}

// loadFunc loads configuration and builds the configured logger.
type loadFunc func() (*config.Config, *logging.Logger, error)

// resolveConfigPath picks the flag, then DECKVAULT_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("DECKVAULT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens and migrates the SQLite database.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deckvault %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
