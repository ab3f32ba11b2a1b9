package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wonny/regtech-dq/pkg/config"
	"github.com/wonny/regtech-dq/pkg/logger"
)

var (
	// Global flags
	configFile string
	env        string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dq",
	Short: "Exposure data-quality validation and scoring",
	Long: `RegTech Data Quality CLI

Validates exposure batches against the business rule catalog,
scores six quality dimensions and checks bank compliance thresholds.

Usage:
  go run ./cmd/dq [command]

Examples:
  go run ./cmd/dq validate --file exposures.json --bank BANK_1 --batch B_2024_06
  go run ./cmd/dq rules list --as-of 2024-06-30
  go run ./cmd/dq migrate
  go run ./cmd/dq serve`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// Ctrl+C cancels the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "env file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig applies the global flags on top of the environment and loads the config
func loadConfig() (*config.Config, *logger.Logger, error) {
	if configFile != "" {
		if err := godotenv.Overload(configFile); err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", configFile, err)
		}
	}
	if env != "" {
		os.Setenv("ENV", env)
	}
	if verbose {
		os.Setenv("LOG_LEVEL", "debug")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.New(cfg), nil
}
