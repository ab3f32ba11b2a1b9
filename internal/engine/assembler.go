package engine

import (
	"fmt"
	"strings"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// Assemble builds the batch result. Inputs are deep-copied; the result shares no
// slices or maps with the execution.
func Assemble(batchID, bankID string, exec *Execution, scores *contracts.QualityScores, snapshotHash string) (*contracts.ValidationResult, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", contracts.ErrInvalidInput)
	}
	if exec == nil || scores == nil {
		return nil, fmt.Errorf("%w: execution and scores are required", contracts.ErrInvalidInput)
	}

	results := make([]contracts.ExposureResult, len(exec.Results))
	valid := 0
	for i, r := range exec.Results {
		cp := r
		cp.Errors = append([]contracts.ValidationError(nil), r.Errors...)
		if cp.Errors == nil {
			cp.Errors = []contracts.ValidationError{}
		}
		if r.NotEvaluated != nil {
			cp.NotEvaluated = append([]string(nil), r.NotEvaluated...)
		}
		if cp.Valid {
			valid++
		}
		results[i] = cp
	}

	batchErrors := append([]contracts.ValidationError{}, exec.BatchErrors...)

	errorCounts := make(map[contracts.Dimension]int, 6)
	for _, d := range contracts.AllDimensions() {
		if t := exec.Tallies[d]; t != nil {
			errorCounts[d] = int(t.Violations())
		} else {
			errorCounts[d] = 0
		}
	}

	sc := *scores
	if scores.Compliance.FailingDimensions != nil {
		sc.Compliance.FailingDimensions = append([]contracts.DimensionShortfall(nil), scores.Compliance.FailingDimensions...)
	}

	return &contracts.ValidationResult{
		BatchID:          batchID,
		BankID:           bankID,
		ExposureResults:  results,
		BatchErrors:      batchErrors,
		DimensionScores:  sc.ByDimension(),
		ErrorCounts:      errorCounts,
		TotalExposures:   len(results),
		ValidExposures:   valid,
		InvalidExposures: len(results) - valid,
		Scores:           sc,
		RuleSnapshotHash: snapshotHash,
	}, nil
}
