package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// thresholdsCmd represents the thresholds command
var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Show and version per-bank quality thresholds",
	Long: `Manages the per-bank compliance thresholds.

A bank without a configured row is scored against the system defaults.
Every "set" stores a new version and deactivates the previous one.

Example:
  go run ./cmd/dq thresholds show BANK_1
  go run ./cmd/dq thresholds set BANK_1 --completeness 97 --cutoff 80
  go run ./cmd/dq thresholds history BANK_1`,
}

var (
	thresholdsShowCmd = &cobra.Command{
		Use:   "show [bank_id]",
		Short: "Show the active threshold",
		Args:  cobra.ExactArgs(1),
		RunE:  showThreshold,
	}

	thresholdsSetCmd = &cobra.Command{
		Use:   "set [bank_id]",
		Short: "Store a new threshold version",
		Args:  cobra.ExactArgs(1),
		RunE:  setThreshold,
	}

	thresholdsHistoryCmd = &cobra.Command{
		Use:   "history [bank_id]",
		Short: "List every stored threshold version",
		Args:  cobra.ExactArgs(1),
		RunE:  thresholdHistory,
	}
)

var (
	thCompleteness float64
	thAccuracy     float64
	thTimeliness   int
	thConsistency  float64
	thCutoff       float64
)

func init() {
	rootCmd.AddCommand(thresholdsCmd)
	thresholdsCmd.AddCommand(thresholdsShowCmd, thresholdsSetCmd, thresholdsHistoryCmd)

	defaults := contracts.DefaultThreshold("")
	f := thresholdsSetCmd.Flags()
	f.Float64Var(&thCompleteness, "completeness", defaults.CompletenessMinPercent, "minimum completeness percent")
	f.Float64Var(&thAccuracy, "accuracy-max-error", defaults.AccuracyMaxErrorPercent, "maximum accuracy error percent")
	f.IntVar(&thTimeliness, "timeliness-days", defaults.TimelinessDays, "reporting delay allowed in days")
	f.Float64Var(&thConsistency, "consistency", defaults.ConsistencyPercent, "minimum consistency percent")
	f.Float64Var(&thCutoff, "cutoff", defaults.ComplianceCutoff, "overall compliance cutoff")
}

func showThreshold(cmd *cobra.Command, args []string) error {
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

	th, err := a.thresholds.ThresholdsFor(ctx, args[0])
	if err != nil {
		return err
	}
	printThreshold(cmd.OutOrStdout(), th)
	return nil
}

func setThreshold(cmd *cobra.Command, args []string) error {
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
	if err := a.requireDB(); err != nil {
		return err
	}

	saved, err := a.thresholds.Save(ctx, contracts.QualityThreshold{
		BankID:                  args[0],
		CompletenessMinPercent:  thCompleteness,
		AccuracyMaxErrorPercent: thAccuracy,
		TimelinessDays:          thTimeliness,
		ConsistencyPercent:      thConsistency,
		ComplianceCutoff:        thCutoff,
		Active:                  true,
	})
	if err != nil {
		return err
	}
	printThreshold(cmd.OutOrStdout(), saved)
	printSuccess(cmd.OutOrStdout(), fmt.Sprintf("Stored version %d", saved.Version))
	return nil
}

func thresholdHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
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

	versions, err := a.thresholds.History(ctx, args[0])
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		printWarning(out, fmt.Sprintf("No thresholds stored for %s", args[0]))
		return nil
	}

	printHeader(out, fmt.Sprintf("Threshold history for %s", args[0]))
	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		active := ""
		if v.Active {
			active = "*"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", v.Version),
			v.EffectiveFrom.Format("2006-01-02 15:04"),
			fmt.Sprintf("%.1f", v.CompletenessMinPercent),
			fmt.Sprintf("%.1f", v.AccuracyMaxErrorPercent),
			fmt.Sprintf("%d", v.TimelinessDays),
			fmt.Sprintf("%.1f", v.ConsistencyPercent),
			fmt.Sprintf("%.1f", v.ComplianceCutoff),
			active,
		})
	}
	printTable(out, []string{"VER", "EFFECTIVE", "COMPL", "ACC.ERR", "DAYS", "CONS", "CUTOFF", "ACTIVE"},
		[]int{4, 16, 6, 7, 5, 6, 6, 6}, rows)
	return nil
}

func printThreshold(w io.Writer, th contracts.QualityThreshold) {
	printHeader(w, fmt.Sprintf("Quality threshold for %s (%s)", th.BankID, th.Source))
	printKeyValue(w, "Completeness min", fmt.Sprintf("%.2f%%", th.CompletenessMinPercent), 18)
	printKeyValue(w, "Accuracy max err", fmt.Sprintf("%.2f%%", th.AccuracyMaxErrorPercent), 18)
	printKeyValue(w, "Timeliness", fmt.Sprintf("%d days", th.TimelinessDays), 18)
	printKeyValue(w, "Consistency min", fmt.Sprintf("%.2f%%", th.ConsistencyPercent), 18)
	printKeyValue(w, "Compliance cutoff", fmt.Sprintf("%.2f", th.ComplianceCutoff), 18)
	if th.Version > 0 {
		printKeyValue(w, "Version", fmt.Sprintf("%d", th.Version), 18)
	}
}
