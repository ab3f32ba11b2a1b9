package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/predicate"
	"github.com/wonny/regtech-dq/internal/rules"
	"github.com/wonny/regtech-dq/pkg/logger"
)

// rulesCmd represents the rules command
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and manage the rule catalog",
	Long: `Inspects the configured rule catalog.

Subcommands:
  list    - rules in force on a date
  check   - validate a YAML catalog and print its hash
  export  - write the catalog as YAML
  seed    - store a catalog in PostgreSQL

Example:
  go run ./cmd/dq rules list --as-of 2024-06-30
  go run ./cmd/dq rules check --file rules.yaml
  go run ./cmd/dq rules seed --file rules.yaml`,
}

var (
	rulesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the rules in force on a date",
		RunE:  listRules,
	}

	rulesCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "Validate a YAML rule catalog",
		RunE:  checkRules,
	}

	rulesExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export the configured catalog as YAML",
		RunE:  exportRules,
	}

	rulesSeedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Store the default (or a YAML) catalog in PostgreSQL",
		RunE:  seedRules,
	}
)

var (
	rulesAsOf string
	rulesFile string
	rulesOut  string
)

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesCheckCmd, rulesExportCmd, rulesSeedCmd)

	rulesListCmd.Flags().StringVar(&rulesAsOf, "as-of", "", "date YYYY-MM-DD (default today)")
	rulesListCmd.Flags().StringVar(&rulesFile, "file", "", "YAML catalog instead of RULES_SOURCE")

	rulesCheckCmd.Flags().StringVar(&rulesFile, "file", "", "YAML catalog to check")
	rulesCheckCmd.Flags().StringVar(&rulesAsOf, "as-of", "", "date YYYY-MM-DD (default today)")
	_ = rulesCheckCmd.MarkFlagRequired("file")

	rulesExportCmd.Flags().StringVar(&rulesOut, "out", "", "output file (default stdout)")

	rulesSeedCmd.Flags().StringVar(&rulesFile, "file", "", "YAML catalog (default built-in rules)")
}

func parseAsOf(s string) (contracts.Date, error) {
	d, err := contracts.ParseDate(s)
	if err != nil {
		return contracts.Date{}, err
	}
	if d.IsZero() {
		d = contracts.DateOf(time.Now())
	}
	return d, nil
}

func listRules(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	asOf, err := parseAsOf(rulesAsOf)
	if err != nil {
		return err
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, appOptions{rulesFile: rulesFile})
	if err != nil {
		return err
	}
	defer a.Close()

	applicable, err := a.catalog.ApplicableRules(ctx, asOf)
	if err != nil {
		return err
	}
	hash, err := rules.Hash(applicable)
	if err != nil {
		return err
	}

	printHeader(out, fmt.Sprintf("Rules in force on %s", asOf))
	rows := make([][]string, 0, len(applicable))
	for _, r := range applicable {
		kind := "expression"
		if r.IsBatchCheck() {
			kind = "batch:" + r.BatchCheck
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.ExecutionOrder),
			r.RuleCode,
			string(r.Dimension),
			string(r.Severity),
			kind,
		})
	}
	printTable(out, []string{"ORDER", "RULE", "DIMENSION", "SEVERITY", "CHECK"}, []int{5, 44, 12, 8, 10}, rows)
	printSeparator(out)
	printKeyValue(out, "Rules", fmt.Sprintf("%d", len(applicable)), 6)
	printKeyValue(out, "Hash", hash, 6)
	return nil
}

// checkRules parses and compiles a catalog without touching any infrastructure
func checkRules(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	asOf, err := parseAsOf(rulesAsOf)
	if err != nil {
		return err
	}
	all, _, err := rules.LoadFile(rulesFile)
	if err != nil {
		return err
	}

	catalog := rules.NewCatalog(rules.NewStaticSource(all), nil, logger.Nop())
	defaults := contracts.DefaultThreshold("")
	bank := predicate.Params{rules.BankTimelinessParam: predicate.Int(int64(defaults.TimelinessDays))}
	snap, err := catalog.Snapshot(ctx, asOf, bank)
	if err != nil {
		printError(out, err.Error())
		return err
	}

	printHeader(out, fmt.Sprintf("Catalog %s", rulesFile))
	printKeyValue(out, "Loaded", fmt.Sprintf("%d", len(all)), 10)
	printKeyValue(out, "In force", fmt.Sprintf("%d (as of %s)", len(snap.Rules), asOf), 10)
	printKeyValue(out, "Skipped", fmt.Sprintf("%d", snap.Skipped), 10)
	printKeyValue(out, "Hash", snap.Hash, 10)
	printSeparator(out)

	broken := snap.BrokenRules()
	if len(broken) > 0 {
		for _, r := range snap.Rules {
			if r.IsBroken() {
				printError(out, fmt.Sprintf("%s: %v", r.Rule.RuleCode, r.Broken))
			}
		}
		return fmt.Errorf("%d malformed rule(s): %s", len(broken), strings.Join(broken, ", "))
	}
	printSuccess(out, "Catalog is valid")
	return nil
}

func exportRules(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	all, err := a.source.LoadRules(ctx)
	if err != nil {
		return err
	}
	data, err := rules.Export(all)
	if err != nil {
		return err
	}

	if rulesOut == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(rulesOut, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rulesOut, err)
	}
	printSuccess(cmd.OutOrStdout(), fmt.Sprintf("Exported %d rules to %s", len(all), rulesOut))
	return nil
}

func seedRules(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	catalog := rules.DefaultRules()
	if rulesFile != "" {
		loaded, _, err := rules.LoadFile(rulesFile)
		if err != nil {
			return err
		}
		catalog = loaded
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireDB(); err != nil {
		return err
	}

	if err := rules.NewRepository(a.db.Pool).SaveRules(ctx, catalog); err != nil {
		return err
	}
	if a.cached != nil {
		if err := a.cached.Invalidate(ctx); err != nil {
			log.WithError(err).Warn("Failed to invalidate cached rules")
		}
	}
	printSuccess(cmd.OutOrStdout(), fmt.Sprintf("Seeded %d rules", len(catalog)))
	return nil
}
