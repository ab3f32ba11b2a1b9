package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/quality"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate and score one exposure batch",
	Long: `Runs the rule catalog over a JSON exposure file and prints the quality scores.

The file holds either an array of exposures or {"exposures": [...]}.
Without --persist only the engine runs; with --persist the batch goes through
the full service (report, execution log, violations, cold storage, events)
and a batch id can be processed only once.

Example:
  go run ./cmd/dq validate --file exposures.json --bank BANK_1 --batch B_2024_06 --as-of 2024-06-30
  go run ./cmd/dq validate --file exposures.json --bank BANK_1 --batch B_2024_06 --rules rules.yaml --json`,
	RunE: runValidate,
}

var (
	validateFile    string
	validateBank    string
	validateBatch   string
	validateAsOf    string
	validateRules   string
	validatePersist bool
	validateJSON    bool
	validateStrict  bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFile, "file", "", "exposure JSON file (- for stdin)")
	validateCmd.Flags().StringVar(&validateBank, "bank", "", "bank id")
	validateCmd.Flags().StringVar(&validateBatch, "batch", "", "batch id")
	validateCmd.Flags().StringVar(&validateAsOf, "as-of", "", "as-of date YYYY-MM-DD (default today)")
	validateCmd.Flags().StringVar(&validateRules, "rules", "", "YAML rule catalog (overrides RULES_SOURCE)")
	validateCmd.Flags().BoolVar(&validatePersist, "persist", false, "persist report, violations and details, publish events")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the full result as JSON")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "exit non-zero when the batch is not compliant")
	_ = validateCmd.MarkFlagRequired("file")
	_ = validateCmd.MarkFlagRequired("batch")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	asOf, err := contracts.ParseDate(validateAsOf)
	if err != nil {
		return err
	}
	if asOf.IsZero() {
		asOf = contracts.DateOf(time.Now())
	}
	exposures, err := readExposures(validateFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, appOptions{rulesFile: validateRules})
	if err != nil {
		return err
	}
	defer a.Close()

	batch := contracts.Batch{
		BatchID:   validateBatch,
		BankID:    validateBank,
		AsOf:      asOf,
		Exposures: exposures,
	}

	var result *contracts.ValidationResult
	if validatePersist {
		res, err := a.service.ValidateBatch(ctx, quality.Command{
			BatchID:   batch.BatchID,
			BankID:    batch.BankID,
			AsOf:      batch.AsOf,
			Exposures: batch.Exposures,
		})
		if errors.Is(err, contracts.ErrAlreadyProcessed) {
			printWarning(out, fmt.Sprintf("Batch %s already processed (status %s)", batch.BatchID, res.Report.Status))
			return nil
		}
		if err != nil {
			return err
		}
		result = res.Outcome.Result
		printKeyValue(out, "Details", res.Report.DetailsReference, 10)
	} else {
		outcome, err := a.engine.Run(ctx, batch)
		if err != nil {
			return err
		}
		result = outcome.Result
	}

	if validateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printSummary(out, result)
	}

	if validateStrict && !result.Scores.Compliance.Compliant {
		return fmt.Errorf("batch %s is not compliant", result.BatchID)
	}
	return nil
}

// readExposures accepts a bare array or an object with an "exposures" field
func readExposures(path string, stdin io.Reader) ([]contracts.ExposureRecord, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read exposures: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	var exposures []contracts.ExposureRecord
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc struct {
			Exposures []contracts.ExposureRecord `json:"exposures"`
		}
		err = json.Unmarshal(trimmed, &doc)
		exposures = doc.Exposures
	} else {
		err = json.Unmarshal(trimmed, &exposures)
	}
	if err != nil {
		return nil, fmt.Errorf("decode exposures: %w", err)
	}
	return exposures, nil
}

func printSummary(w io.Writer, res *contracts.ValidationResult) {
	s := res.Scores
	printHeader(w, fmt.Sprintf("Batch %s (bank %s)", res.BatchID, res.BankID))
	printKeyValue(w, "Exposures", fmt.Sprintf("%d (valid %d, invalid %d)", res.TotalExposures, res.ValidExposures, res.InvalidExposures), 10)
	printKeyValue(w, "Errors", fmt.Sprintf("%d", res.TotalErrors()), 10)
	printKeyValue(w, "Overall", fmt.Sprintf("%.2f (grade %s)", s.Overall, s.Grade), 10)
	printKeyValue(w, "Rules", shortHash(res.RuleSnapshotHash), 10)
	printSeparator(w)

	dims := contracts.AllDimensions()
	rows := make([][]string, 0, len(dims))
	for _, d := range dims {
		rows = append(rows, []string{string(d), fmt.Sprintf("%.2f", res.DimensionScores[d]), fmt.Sprintf("%d", res.ErrorCounts[d])})
	}
	printTable(w, []string{"DIMENSION", "SCORE", "ERRORS"}, []int{14, 8, 6}, rows)
	printSeparator(w)

	if s.Compliance.Compliant {
		printSuccess(w, fmt.Sprintf("Compliant (cutoff %.1f, thresholds: %s)", s.Compliance.Cutoff, s.Compliance.ThresholdSource))
	} else {
		var reasons []string
		if s.Compliance.OverallBelowCutoff {
			reasons = append(reasons, fmt.Sprintf("overall below %.1f", s.Compliance.Cutoff))
		}
		for _, f := range s.Compliance.FailingDimensions {
			reasons = append(reasons, fmt.Sprintf("%s %.2f < %.2f", f.Dimension, f.Score, f.Minimum))
		}
		printError(w, "Not compliant: "+strings.Join(reasons, "; "))
	}

	if len(res.BatchErrors) > 0 {
		fmt.Fprintln(w)
		for _, be := range res.BatchErrors {
			printWarning(w, be.Message)
		}
	}

	top := topRules(res, 5)
	if len(top) > 0 {
		fmt.Fprintln(w, "\nMost frequent findings:")
		for _, t := range top {
			fmt.Fprintf(w, "   • %-40s %d\n", t.code, t.count)
		}
	}
}

type ruleCount struct {
	code  string
	count int
}

// topRules counts exposure errors per rule code, most frequent first
func topRules(res *contracts.ValidationResult, n int) []ruleCount {
	counts := make(map[string]int)
	for _, er := range res.ExposureResults {
		for _, e := range er.Errors {
			counts[e.RuleCode]++
		}
	}
	out := make([]ruleCount, 0, len(counts))
	for code, c := range counts {
		out = append(out, ruleCount{code: code, count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].code < out[j].code
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
