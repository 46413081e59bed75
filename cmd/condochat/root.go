package main

import (
	"fmt"
	"os"

	"github.com/condohub/condochat/internal/config"
	"github.com/condohub/condochat/internal/telemetry"
	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "condochat",
	Short: "Chat session persistence service for the condominium assistant",
	Long: `condochat stores assistant chat sessions and their messages.

Sessions live in PostgreSQL. When PostgreSQL stops answering, the server
switches to an in-process store for the rest of its lifetime and keeps
serving requests; /health then reports "degraded".

Quick Start:
  condochat migrate --config config.yaml   # Create or upgrade the schema
  condochat serve --config config.yaml     # Start the HTTP API`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.Version = version
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
