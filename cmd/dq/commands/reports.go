package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/quality"
)

// reportsCmd represents the reports command
var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect stored quality reports",
	Long: `Reads the quality reports stored in PostgreSQL.

Example:
  go run ./cmd/dq reports show BATCH_2024_06
  go run ./cmd/dq reports trends BANK_1 --from 2024-01-01 --to 2024-06-30
  go run ./cmd/dq reports trends BANK_1 --limit 10`,
}

var (
	reportsShowCmd = &cobra.Command{
		Use:   "show [batch_id]",
		Short: "Show the stored report of a batch",
		Args:  cobra.ExactArgs(1),
		RunE:  showReport,
	}

	reportsTrendsCmd = &cobra.Command{
		Use:   "trends [bank_id]",
		Short: "Aggregate a bank's completed reports",
		Args:  cobra.ExactArgs(1),
		RunE:  showTrends,
	}
)

var (
	trendFrom  string
	trendTo    string
	trendLimit int
)

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.AddCommand(reportsShowCmd, reportsTrendsCmd)

	f := reportsTrendsCmd.Flags()
	f.StringVar(&trendFrom, "from", "", "first day, YYYY-MM-DD (inclusive)")
	f.StringVar(&trendTo, "to", "", "last day, YYYY-MM-DD (inclusive)")
	f.IntVar(&trendLimit, "limit", quality.DefaultTrendLimit, "most recent reports to include")
}

func showReport(cmd *cobra.Command, args []string) error {
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

	rep, err := a.reports.GetReport(ctx, args[0])
	if err != nil {
		return fmt.Errorf("report %s: %w", args[0], err)
	}
	printReport(cmd.OutOrStdout(), rep)
	return nil
}

func showTrends(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	q, err := trendQuery(args[0], trendFrom, trendTo, trendLimit)
	if err != nil {
		return err
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

	trend, err := a.service.Trend(ctx, q)
	if err != nil {
		return err
	}
	printTrend(cmd.OutOrStdout(), trend)
	return nil
}

// trendQuery turns the flags into a half-open window; to is inclusive on the command line
func trendQuery(bankID, from, to string, limit int) (quality.TrendQuery, error) {
	q := quality.TrendQuery{BankID: bankID, Limit: limit}
	if from != "" {
		d, err := contracts.ParseDate(from)
		if err != nil {
			return q, fmt.Errorf("--from: %w", err)
		}
		q.From = d.Time
	}
	if to != "" {
		d, err := contracts.ParseDate(to)
		if err != nil {
			return q, fmt.Errorf("--to: %w", err)
		}
		q.To = d.AddDate(0, 0, 1)
	}
	return q, nil
}

func printReport(w io.Writer, rep *contracts.QualityReport) {
	printHeader(w, fmt.Sprintf("Report %s (bank %s)", rep.BatchID, rep.BankID))
	printKeyValue(w, "Status", string(rep.Status), 14)
	printKeyValue(w, "Created", rep.CreatedAt.Format(time.RFC3339), 14)
	printKeyValue(w, "Updated", rep.UpdatedAt.Format(time.RFC3339), 14)
	if rep.ErrorMessage != "" {
		printKeyValue(w, "Error", rep.ErrorMessage, 14)
	}
	if rep.Scores == nil {
		return
	}
	printKeyValue(w, "Exposures", fmt.Sprintf("%d (%d valid)", rep.TotalExposures, rep.ValidExposures), 14)
	printKeyValue(w, "Overall", fmt.Sprintf("%.2f (grade %s)", rep.Scores.Overall, rep.Scores.Grade), 14)
	printKeyValue(w, "Compliant", fmt.Sprintf("%t", rep.Scores.Compliance.Compliant), 14)
	if rep.DetailsReference != "" {
		printKeyValue(w, "Details", rep.DetailsReference, 14)
	}
}

func printTrend(w io.Writer, t *quality.Trend) {
	printHeader(w, fmt.Sprintf("Quality trend for %s", t.BankID))
	if t.Reports == 0 {
		printWarning(w, "No completed reports in the window")
		return
	}
	printKeyValue(w, "Reports", fmt.Sprintf("%d (%d compliant)", t.Reports, t.CompliantCount), 14)
	printKeyValue(w, "Overall avg", fmt.Sprintf("%.2f", t.AverageOverall), 14)
	printKeyValue(w, "Range", fmt.Sprintf("%.2f .. %.2f", t.MinOverall, t.MaxOverall), 14)
	printKeyValue(w, "Change", fmt.Sprintf("%+.2f (%s)", t.Delta, t.Direction), 14)
	printKeyValue(w, "Compliance", fmt.Sprintf("%.1f%%", t.ComplianceRate*100), 14)

	dims := make([]string, 0, len(t.Dimensions))
	for _, d := range contracts.AllDimensions() {
		if v, ok := t.Dimensions[d]; ok {
			dims = append(dims, fmt.Sprintf("%s %.1f", strings.ToLower(string(d)), v))
		}
	}
	printKeyValue(w, "Dimensions", strings.Join(dims, ", "), 14)
	printSeparator(w)

	rows := make([][]string, 0, len(t.Points))
	for _, p := range t.Points {
		compliant := ""
		if p.Compliant {
			compliant = "*"
		}
		rows = append(rows, []string{
			p.CreatedAt.Format("2006-01-02 15:04"),
			p.BatchID,
			fmt.Sprintf("%.2f", p.Overall),
			string(p.Grade),
			compliant,
		})
	}
	printTable(w, []string{"CREATED", "BATCH", "OVERALL", "GRADE", "COMPLIANT"}, []int{16, 24, 7, 5, 9}, rows)
}
