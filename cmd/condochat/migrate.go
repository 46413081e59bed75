package main

import (
	"github.com/condohub/condochat/internal/repository"
	"github.com/condohub/condochat/internal/telemetry"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending PostgreSQL schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger, err := telemetry.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		return repository.RunMigrations(cfg.Database.URL, repository.MigrationsFS(), logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
