package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/regtech-dq/internal/contracts"
)

func TestReadExposures(t *testing.T) {
	dir := t.TempDir()
	array := filepath.Join(dir, "array.json")
	object := filepath.Join(dir, "object.json")
	require.NoError(t, os.WriteFile(array, []byte(`[{"exposure_id":"E1","exposure_amount":"100.5"},{"exposure_id":"E2"}]`), 0o644))
	require.NoError(t, os.WriteFile(object, []byte(`  {"exposures":[{"exposure_id":"E3","reporting_date":"2024-06-30"}]}`), 0o644))

	got, err := readExposures(array, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "E1", got[0].ExposureID)
	assert.True(t, got[0].Amount.Valid)
	assert.Equal(t, "100.5", got[0].Amount.Decimal.String())
	assert.False(t, got[1].Amount.Valid)

	got, err = readExposures(object, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, contracts.NewDate(2024, 6, 30), got[0].ReportingDate)

	got, err = readExposures("-", strings.NewReader(`[{"exposure_id":"E4"}]`))
	require.NoError(t, err)
	assert.Equal(t, "E4", got[0].ExposureID)

	_, err = readExposures(filepath.Join(dir, "missing.json"), nil)
	assert.Error(t, err)

	_, err = readExposures("-", strings.NewReader(`{"exposures": 3}`))
	assert.Error(t, err)
}

func TestTopRules(t *testing.T) {
	res := &contracts.ValidationResult{
		ExposureResults: []contracts.ExposureResult{
			{Errors: []contracts.ValidationError{{RuleCode: "B"}, {RuleCode: "A"}}},
			{Errors: []contracts.ValidationError{{RuleCode: "B"}, {RuleCode: "C"}}},
			{Errors: nil},
		},
	}

	top := topRules(res, 2)
	require.Len(t, top, 2)
	assert.Equal(t, ruleCount{code: "B", count: 2}, top[0])
	assert.Equal(t, ruleCount{code: "A", count: 1}, top[1])
}

func TestPrintSummary(t *testing.T) {
	res := &contracts.ValidationResult{
		BatchID:          "B1",
		BankID:           "BANK_1",
		TotalExposures:   2,
		ValidExposures:   1,
		InvalidExposures: 1,
		RuleSnapshotHash: "0123456789abcdef",
		DimensionScores:  map[contracts.Dimension]float64{contracts.DimensionCompleteness: 50},
		ErrorCounts:      map[contracts.Dimension]int{contracts.DimensionCompleteness: 1},
		ExposureResults: []contracts.ExposureResult{
			{ExposureID: "E1", Errors: []contracts.ValidationError{{RuleCode: "DQ_COMPLETENESS_CURRENCY"}}},
		},
		Scores: contracts.QualityScores{
			Overall: 62.5,
			Grade:   contracts.GradeD,
			Compliance: contracts.ComplianceVerdict{
				Cutoff:             70,
				OverallBelowCutoff: true,
				FailingDimensions: []contracts.DimensionShortfall{
					{Dimension: contracts.DimensionCompleteness, Score: 50, Minimum: 95},
				},
			},
		},
	}

	var buf bytes.Buffer
	printSummary(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "Batch B1 (bank BANK_1)")
	assert.Contains(t, out, "62.50 (grade D)")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "Not compliant: overall below 70.0")
	assert.Contains(t, out, "50.00 < 95.00")
	assert.Contains(t, out, "DQ_COMPLETENESS_CURRENCY")
}
