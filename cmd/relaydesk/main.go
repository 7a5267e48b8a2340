package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaydesk/relaydesk/db"
	"github.com/relaydesk/relaydesk/internal/config"
	internaldb "github.com/relaydesk/relaydesk/internal/db"
	"github.com/relaydesk/relaydesk/internal/logger"
	"github.com/relaydesk/relaydesk/internal/version"
)

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "relaydesk",
		Short: "Relaydesk — multi-tenant support message routing engine",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: config.toml or $CONFIG_PATH)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background schedules",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relaydesk %s\n", version.GetInfo())
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down|version|force N]",
		Short: "Apply schema migrations to the admin backend database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			migrationsFS, err := db.Migrations()
			if err != nil {
				return err
			}
			return internaldb.RunMigrate(logger.L, cfg.AdminBackend.URL, migrationsFS, args[0], args[1:])
		},
	}
}

func resolveConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return os.Getenv("CONFIG_PATH")
}
