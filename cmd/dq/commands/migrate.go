package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/regtech-dq/pkg/database"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the dq schema in PostgreSQL",
	Long: `Creates the dq schema and its tables when they do not exist.
Safe to run repeatedly.

Example:
  go run ./cmd/dq migrate
  go run ./cmd/dq migrate --seed-rules`,
	RunE: runMigrate,
}

var migrateSeedRules bool

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateSeedRules, "seed-rules", false, "store the built-in rule catalog after migrating")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled() {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	log.Info("Schema migrated")
	printSuccess(out, "Schema is up to date")

	if migrateSeedRules {
		rulesFile = ""
		return seedRules(cmd, args)
	}
	return nil
}
