package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/predicate"
	"github.com/wonny/regtech-dq/internal/rules"
	"github.com/wonny/regtech-dq/pkg/logger"
)

var asOf = contracts.NewDate(2024, time.June, 30)

func amount(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func validExposure(i int) contracts.ExposureRecord {
	return contracts.ExposureRecord{
		ExposureID:       fmt.Sprintf("EXP_%04d", i),
		CounterpartyID:   fmt.Sprintf("CP_%04d", i),
		CounterpartyLEI:  "5493001KJTIIGC8Y1R12",
		Amount:           amount(1_000_000),
		Currency:         "USD",
		CountryCode:      "US",
		Sector:           "BANKING",
		CounterpartyType: "BANK",
		ProductType:      "LOAN",
		InternalRating:   "A",
		RiskCategory:     "LOW_RISK",
		RiskWeight:       decimal.NewNullDecimal(decimal.RequireFromString("0.5")),
		ReportingDate:    contracts.NewDate(2024, time.June, 28),
		ValuationDate:    contracts.NewDate(2024, time.June, 25),
		MaturityDate:     contracts.NewDate(2026, time.June, 30),
		ReferenceNumber:  fmt.Sprintf("REF-%04d", i),
	}
}

func validBatch(n int) []contracts.ExposureRecord {
	out := make([]contracts.ExposureRecord, n)
	for i := range out {
		out[i] = validExposure(i)
	}
	return out
}

// mixedBatch carries violations in several dimensions
func mixedBatch(n int) []contracts.ExposureRecord {
	out := validBatch(n)
	for i := range out {
		switch {
		case i%17 == 5:
			out[i].Amount = amount(-10)
		case i%13 == 3:
			out[i].ReportingDate = contracts.NewDate(2023, time.January, 2)
		case i%11 == 2:
			out[i].ExposureID = "EXP_0000"
		case i%7 == 1:
			out[i].Currency = ""
		case i%19 == 4:
			out[i].ExposureID = ""
		}
	}
	return out
}

func customRule(code string, dim contracts.Dimension, sev contracts.Severity, expr string) contracts.BusinessRule {
	return contracts.BusinessRule{
		RuleID:        "ID_" + code,
		RuleCode:      code,
		Name:          code,
		Dimension:     dim,
		Severity:      sev,
		Expression:    expr,
		Enabled:       true,
		EffectiveDate: rules.DefaultEffectiveDate,
		Version:       1,
	}
}

func newEngine(catalog []contracts.BusinessRule, opts Options) *Engine {
	c := rules.NewCatalog(rules.NewStaticSource(catalog), nil, logger.Nop())
	return New(c, nil, opts, logger.Nop(), nil)
}

func runBatch(t *testing.T, e *Engine, exposures []contracts.ExposureRecord) *Outcome {
	t.Helper()
	out, err := e.Run(context.Background(), contracts.Batch{
		BatchID:   "BATCH_1",
		BankID:    "BANK_1",
		AsOf:      asOf,
		Exposures: exposures,
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func TestRun_AllValid(t *testing.T) {
	e := newEngine(rules.DefaultRules(), Options{})
	out := runBatch(t, e, validBatch(100))
	res := out.Result

	assert.Equal(t, 100, res.TotalExposures)
	assert.Equal(t, 100, res.ValidExposures)
	assert.Equal(t, 0, res.InvalidExposures)
	assert.Equal(t, 0, res.TotalErrors())
	for d, s := range res.DimensionScores {
		assert.Equal(t, 100.0, s, "dimension %s", d)
	}
	assert.InDelta(t, 100.0, res.Scores.Overall, 1e-9)
	assert.Equal(t, contracts.GradeA, res.Scores.Grade)
	assert.True(t, res.Scores.Compliance.Compliant)
	assert.Equal(t, contracts.ThresholdSourceDefault, res.Scores.Compliance.ThresholdSource)
	assert.Len(t, res.RuleSnapshotHash, 64)

	assert.Equal(t, 24, out.Stats.RulesApplied)
	assert.Equal(t, int64(100), out.Stats.ExposuresProcessed)
	assert.Equal(t, int64(100), out.Stats.PerRule["COMPLETENESS_CURRENCY_REQUIRED"].Passed)
	assert.Equal(t, int64(100), out.Stats.PerRule["UNIQUENESS_EXPOSURE_IDS"].Passed)
	for i, r := range res.ExposureResults {
		assert.Equal(t, i, r.Index)
		assert.NotNil(t, r.Errors)
	}
}

func TestRun_MissingExposureIDs(t *testing.T) {
	exposures := validBatch(100)
	for i := 0; i < 10; i++ {
		exposures[i*10].ExposureID = ""
	}

	e := newEngine(rules.DefaultRules(), Options{})
	res := runBatch(t, e, exposures).Result

	assert.Equal(t, 100, res.TotalExposures)
	assert.Equal(t, 90, res.ValidExposures)
	assert.Equal(t, 10, res.InvalidExposures)
	assert.InDelta(t, 90.0, res.Scores.Completeness, 1e-9)
	assert.Equal(t, 100.0, res.Scores.Uniqueness)
	assert.Equal(t, 10, res.ErrorCounts[contracts.DimensionCompleteness])

	r := res.ExposureResults[0]
	assert.True(t, r.Structural)
	require.Len(t, r.Errors, 1, "structural failure short-circuits the rules")
	assert.Equal(t, contracts.CodeMissingExposureID, r.Errors[0].RuleCode)
	assert.Equal(t, contracts.KindStructural, r.Errors[0].Kind)
	assert.Equal(t, contracts.SeverityCritical, r.Errors[0].Severity)

	assert.False(t, res.Scores.Compliance.Compliant)
	require.Len(t, res.Scores.Compliance.FailingDimensions, 1)
	assert.Equal(t, contracts.DimensionCompleteness, res.Scores.Compliance.FailingDimensions[0].Dimension)
}

func TestRun_SeverityWeightsTheScore(t *testing.T) {
	exposures := validBatch(100)
	for i := 0; i < 10; i++ {
		exposures[i].Amount = amount(50)
	}

	scoreWith := func(sev contracts.Severity) float64 {
		e := newEngine([]contracts.BusinessRule{
			customRule("MIN_AMOUNT", contracts.DimensionCompleteness, sev, "amount > 100"),
		}, Options{})
		return runBatch(t, e, exposures).Result.Scores.Completeness
	}

	critical := scoreWith(contracts.SeverityCritical)
	low := scoreWith(contracts.SeverityLow)
	assert.InDelta(t, 90.0, critical, 1e-9)
	assert.InDelta(t, 97.5, low, 1e-9)
	assert.Less(t, critical, low)
}

func TestRun_WorstSeverityCountsOncePerExposure(t *testing.T) {
	exposures := validBatch(100)
	for i := 0; i < 10; i++ {
		exposures[i].Amount = amount(50)
	}

	e := newEngine([]contracts.BusinessRule{
		customRule("OVER_100", contracts.DimensionCompleteness, contracts.SeverityCritical, "amount > 100"),
		customRule("OVER_200", contracts.DimensionCompleteness, contracts.SeverityLow, "amount > 200"),
	}, Options{})
	out := runBatch(t, e, exposures)

	tally := out.Tallies[contracts.DimensionCompleteness]
	assert.Equal(t, int64(10), tally.ExposuresWithViolation)
	assert.Equal(t, int64(10), tally.ViolationCountBySeverity[contracts.SeverityCritical])
	assert.Equal(t, int64(10), tally.ViolationCountBySeverity[contracts.SeverityLow])
	assert.Equal(t, int64(10), tally.ExposuresByWorstSeverity[contracts.SeverityCritical])
	assert.Zero(t, tally.ExposuresByWorstSeverity[contracts.SeverityLow])
	assert.InDelta(t, 90.0, out.Result.Scores.Completeness, 1e-9)
	assert.Equal(t, 20, out.Result.ErrorCounts[contracts.DimensionCompleteness])
}

func TestRun_ScoreInvariants(t *testing.T) {
	e := newEngine(rules.DefaultRules(), Options{Executor: ExecutorOptions{Workers: 3, ChunkSize: 7}})
	out := runBatch(t, e, mixedBatch(250))
	res := out.Result

	assert.Equal(t, res.TotalExposures, res.ValidExposures+res.InvalidExposures)
	assert.Len(t, res.ExposureResults, 250)
	assert.Greater(t, res.InvalidExposures, 0)

	w := DefaultWeights()
	var weighted float64
	for d, s := range res.DimensionScores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 100.0)
		weighted += s * w[d]
	}
	assert.InDelta(t, weighted, res.Scores.Overall, 1e-9)
	assert.Equal(t, GradeFor(res.Scores.Overall), res.Scores.Grade)

	for i, r := range res.ExposureResults {
		assert.Equal(t, i, r.Index, "results keep input order")
		hasViolation := false
		for _, ve := range r.Errors {
			if ve.CountsAgainstQuality() {
				hasViolation = true
			}
		}
		assert.Equal(t, !hasViolation, r.Valid, "exposure %d", i)
	}
}

func TestRun_Idempotent(t *testing.T) {
	e := newEngine(rules.DefaultRules(), Options{Executor: ExecutorOptions{Workers: 4, ChunkSize: 5}})
	exposures := mixedBatch(200)

	first := runBatch(t, e, exposures)
	second := runBatch(t, e, exposures)

	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, first.Tallies, second.Tallies)
}

func TestRun_WorkerCountDoesNotChangeResult(t *testing.T) {
	exposures := mixedBatch(300)
	serial := runBatch(t, newEngine(rules.DefaultRules(), Options{Executor: ExecutorOptions{Workers: 1, ChunkSize: 1000}}), exposures)
	parallel := runBatch(t, newEngine(rules.DefaultRules(), Options{Executor: ExecutorOptions{Workers: 8, ChunkSize: 3}}), exposures)

	assert.Equal(t, serial.Result, parallel.Result)
}

func TestRun_AddingViolationNeverRaisesScore(t *testing.T) {
	e := newEngine(rules.DefaultRules(), Options{})
	base := mixedBatch(60)
	before := runBatch(t, e, base).Result

	worse := make([]contracts.ExposureRecord, len(base))
	copy(worse, base)
	worse[8].Currency = ""
	worse[8].ValuationDate = contracts.NewDate(2023, time.January, 1)
	worse[9].Sector = "UNKNOWN"
	after := runBatch(t, e, worse).Result

	for d, s := range after.DimensionScores {
		assert.LessOrEqual(t, s, before.DimensionScores[d], "dimension %s", d)
	}
	assert.LessOrEqual(t, after.Scores.Overall, before.Scores.Overall)
}

func TestRun_DuplicateExposureIDs(t *testing.T) {
	exposures := validBatch(10)
	exposures[4].ExposureID = exposures[1].ExposureID
	exposures[7].ExposureID = exposures[1].ExposureID

	e := newEngine(rules.DefaultRules(), Options{})
	out := runBatch(t, e, exposures)
	res := out.Result

	assert.True(t, res.ExposureResults[1].Valid, "first occurrence is not a duplicate")
	for _, i := range []int{4, 7} {
		r := res.ExposureResults[i]
		assert.False(t, r.Valid)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, "UNIQUENESS_EXPOSURE_IDS", r.Errors[0].RuleCode)
		assert.Equal(t, contracts.KindViolation, r.Errors[0].Kind)
	}
	assert.InDelta(t, 80.0, res.Scores.Uniqueness, 1e-9)

	require.Len(t, res.BatchErrors, 1)
	finding := res.BatchErrors[0]
	assert.Equal(t, contracts.KindBatchFinding, finding.Kind)
	assert.Contains(t, finding.Message, "EXP_0001")
	assert.Equal(t, int64(1), out.Tallies[contracts.DimensionUniqueness].BatchFindings)
	assert.Equal(t, int64(2), out.Stats.PerRule["UNIQUENESS_EXPOSURE_IDS"].Failed)
}

func TestFindingMessage_ListsFirstTenKeys(t *testing.T) {
	keys := make([]string, 12)
	for i := range keys {
		keys[i] = fmt.Sprintf("K%02d", i)
	}
	msg := findingMessage(contracts.BatchCheckDuplicateExposureID, 15, keys)

	assert.Contains(t, msg, "K09")
	assert.NotContains(t, msg, "K10")
	assert.Contains(t, msg, "(and 2 more)")
	assert.Contains(t, msg, "15 duplicate occurrence(s) of 12 key(s)")
}

func TestRun_BrokenRuleReportsEvaluationErrors(t *testing.T) {
	e := newEngine([]contracts.BusinessRule{
		customRule("BROKEN", contracts.DimensionAccuracy, contracts.SeverityHigh, "noSuchField > 1"),
		customRule("POSITIVE", contracts.DimensionAccuracy, contracts.SeverityHigh, "amount > 0"),
	}, Options{})
	out := runBatch(t, e, validBatch(5))

	for _, r := range out.Result.ExposureResults {
		assert.True(t, r.Valid, "evaluation errors do not invalidate an exposure")
		assert.Equal(t, []string{"BROKEN"}, r.NotEvaluated)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, contracts.KindEvaluationError, r.Errors[0].Kind)
	}
	assert.Equal(t, int64(5), out.Tallies[contracts.DimensionAccuracy].NotEvaluated)
	assert.Equal(t, 100.0, out.Result.Scores.Accuracy)
	assert.Equal(t, int64(5), out.Stats.PerRule["BROKEN"].Errored)
	assert.Equal(t, int64(5), out.Stats.PerRule["POSITIVE"].Passed)
	assert.Equal(t, int64(5), out.Stats.EvaluationErrors)
}

func TestRun_RuleWindowsAndExemptions(t *testing.T) {
	expired := customRule("EXPIRED", contracts.DimensionAccuracy, contracts.SeverityCritical, "amount > 1000000000")
	exp := time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC)
	expired.ExpirationDate = &exp

	exempted := customRule("SMALL", contracts.DimensionAccuracy, contracts.SeverityCritical, "amount < 10")
	exempted.Exemptions = []contracts.RuleExemption{{
		EntityType: contracts.EntityCounterparty,
		EntityID:   "CP_0000",
		ValidFrom:  time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}}

	e := newEngine([]contracts.BusinessRule{expired, exempted}, Options{})
	out := runBatch(t, e, validBatch(3))

	assert.Equal(t, 1, out.Stats.RulesApplied)
	assert.Equal(t, 1, out.Stats.RulesSkipped)
	assert.NotContains(t, out.Stats.PerRule, "EXPIRED")
	assert.Equal(t, int64(1), out.Stats.ExemptionsApplied)
	assert.Equal(t, int64(1), out.Stats.PerRule["SMALL"].Skipped)
	assert.Equal(t, int64(2), out.Stats.PerRule["SMALL"].Failed)
	assert.True(t, out.Result.ExposureResults[0].Valid)
	assert.False(t, out.Result.ExposureResults[1].Valid)
}

func TestRun_EvaluateStructural(t *testing.T) {
	exposures := validBatch(3)
	exposures[1].Amount = amount(-5)

	shortCircuit := runBatch(t, newEngine(rules.DefaultRules(), Options{}), exposures)
	partial := runBatch(t, newEngine(rules.DefaultRules(), Options{Executor: ExecutorOptions{EvaluateStructural: true}}), exposures)

	for _, out := range []*Outcome{shortCircuit, partial} {
		r := out.Result.ExposureResults[1]
		assert.True(t, r.Structural)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, contracts.CodeNegativeAmount, r.Errors[0].RuleCode)
		assert.Equal(t, contracts.DimensionAccuracy, r.Errors[0].Dimension)
	}

	assert.Equal(t, int64(1), shortCircuit.Stats.PerRule["COMPLETENESS_CURRENCY_REQUIRED"].Skipped)
	assert.Equal(t, int64(3), partial.Stats.PerRule["COMPLETENESS_CURRENCY_REQUIRED"].Passed)
	assert.Equal(t, int64(1), partial.Stats.PerRule["ACCURACY_POSITIVE_AMOUNT"].Skipped)
	assert.Equal(t, int64(1), partial.Stats.StructuralErrors)
}

func TestRun_InvalidWeights(t *testing.T) {
	w := DefaultWeights()
	w[contracts.DimensionValidity] = 0.07

	e := newEngine(rules.DefaultRules(), Options{Weights: w})
	out, err := e.Run(context.Background(), contracts.Batch{BatchID: "B", BankID: "X", AsOf: asOf})

	assert.Nil(t, out)
	assert.ErrorIs(t, err, contracts.ErrInvalidWeights)
	assert.True(t, contracts.IsFatal(err))
}

func TestRun_ConfigurationErrorIsFatal(t *testing.T) {
	bad := customRule("BAD", "NOT_A_DIMENSION", contracts.SeverityHigh, "amount > 0")
	e := newEngine([]contracts.BusinessRule{bad}, Options{})

	out, err := e.Run(context.Background(), contracts.Batch{BatchID: "B", AsOf: asOf, Exposures: validBatch(1)})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, contracts.ErrConfiguration)
}

func TestRun_BlankBatchID(t *testing.T) {
	e := newEngine(rules.DefaultRules(), Options{})
	_, err := e.Run(context.Background(), contracts.Batch{AsOf: asOf})
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)
}

func TestRun_EmptyBatch(t *testing.T) {
	e := newEngine(rules.DefaultRules(), Options{})
	res := runBatch(t, e, nil).Result

	assert.Equal(t, 0, res.TotalExposures)
	for _, s := range res.DimensionScores {
		assert.Equal(t, 0.0, s)
	}
	assert.Equal(t, contracts.GradeF, res.Scores.Grade)
	assert.False(t, res.Scores.Compliance.Compliant)
}

type fakeThresholds struct {
	th  contracts.QualityThreshold
	err error
}

func (f fakeThresholds) ThresholdsFor(_ context.Context, _ string) (contracts.QualityThreshold, error) {
	return f.th, f.err
}

func TestRun_Thresholds(t *testing.T) {
	exposures := validBatch(100)
	exposures[0].Currency = ""
	exposures[1].Currency = ""

	catalog := rules.NewCatalog(rules.DefaultSource(), nil, logger.Nop())

	t.Run("missing threshold falls back to defaults", func(t *testing.T) {
		e := New(catalog, fakeThresholds{err: contracts.ErrNotFound}, Options{}, logger.Nop(), nil)
		out := runBatch(t, e, exposures)
		assert.Equal(t, contracts.ThresholdSourceDefault, out.Threshold.Source)
		assert.True(t, out.Result.Scores.Compliance.Compliant)
	})

	t.Run("configured threshold is applied", func(t *testing.T) {
		th := contracts.DefaultThreshold("BANK_1")
		th.CompletenessMinPercent = 99
		th.Source = contracts.ThresholdSourceConfigured
		e := New(catalog, fakeThresholds{th: th}, Options{}, logger.Nop(), nil)

		out := runBatch(t, e, exposures)
		v := out.Result.Scores.Compliance
		assert.False(t, v.Compliant)
		assert.False(t, v.OverallBelowCutoff)
		require.Len(t, v.FailingDimensions, 1)
		assert.Equal(t, 99.0, v.FailingDimensions[0].Minimum)
		assert.Equal(t, contracts.ThresholdSourceConfigured, v.ThresholdSource)
	})

	t.Run("provider failure aborts", func(t *testing.T) {
		e := New(catalog, fakeThresholds{err: errors.New("connection refused")}, Options{}, logger.Nop(), nil)
		out, err := e.Run(context.Background(), contracts.Batch{BatchID: "B", AsOf: asOf, Exposures: exposures})
		assert.Nil(t, out)
		assert.Error(t, err)
	})
}

func TestRun_BankTimelinessParameter(t *testing.T) {
	rule := customRule("BANK_AGE", contracts.DimensionTimeliness, contracts.SeverityHigh,
		"daysBetween(reportingDate, today()) <= bankTimelinessDays")
	catalog := rules.NewCatalog(rules.NewStaticSource([]contracts.BusinessRule{rule}), nil, logger.Nop())

	exposures := validBatch(2)
	exposures[1].ReportingDate = contracts.NewDate(2024, time.June, 20)

	th := contracts.DefaultThreshold("BANK_1")
	th.TimelinessDays = 5
	e := New(catalog, fakeThresholds{th: th}, Options{}, logger.Nop(), nil)
	res := runBatch(t, e, exposures).Result

	assert.True(t, res.ExposureResults[0].Valid)
	assert.False(t, res.ExposureResults[1].Valid)
}

func TestRun_CancelledContext(t *testing.T) {
	e := newEngine(rules.DefaultRules(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := e.Run(ctx, contracts.Batch{BatchID: "B", AsOf: asOf, Exposures: validBatch(100)})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, contracts.ErrBatchCancelled)
	assert.NotErrorIs(t, err, contracts.ErrEngineTimeout)
}

func TestRun_Timeout(t *testing.T) {
	registry := rules.NewRegistry()
	registry.Register(predicate.Function{Name: "slow", MinArgs: 0, MaxArgs: 0,
		Call: func(_ *predicate.Context, _ []predicate.Value) (predicate.Value, error) {
			time.Sleep(20 * time.Millisecond)
			return predicate.Bool(true), nil
		}})
	catalog := rules.NewCatalog(rules.NewStaticSource([]contracts.BusinessRule{
		customRule("SLOW", contracts.DimensionValidity, contracts.SeverityLow, "slow()"),
	}), registry, logger.Nop())

	e := New(catalog, nil, Options{Executor: ExecutorOptions{Workers: 1, ChunkSize: 1, Timeout: 5 * time.Millisecond}}, logger.Nop(), nil)
	out, err := e.Run(context.Background(), contracts.Batch{BatchID: "B", AsOf: asOf, Exposures: validBatch(50)})

	assert.Nil(t, out)
	require.ErrorIs(t, err, contracts.ErrEngineTimeout)
	var te *contracts.EngineTimeoutError
	require.True(t, errors.As(err, &te))
	assert.Less(t, te.Stats.ExposuresProcessed, int64(50))
}

func TestMergedPartialsEqualAggregate(t *testing.T) {
	c := rules.NewCatalog(rules.DefaultSource(), nil, logger.Nop())
	snap, err := c.Snapshot(context.Background(), asOf, nil)
	require.NoError(t, err)

	exec, err := NewExecutor(ExecutorOptions{Workers: 4, ChunkSize: 9}, logger.Nop()).
		Execute(context.Background(), mixedBatch(120), snap)
	require.NoError(t, err)

	whole := Aggregate(exec.Results, exec.BatchErrors)
	assert.Equal(t, whole, exec.Tallies)

	// 짝/홀 분할 후 역순 병합
	even, odd, findings := NewAccumulator(), NewAccumulator(), NewAccumulator()
	for i := range exec.Results {
		if i%2 == 0 {
			even.Add(&exec.Results[i])
		} else {
			odd.Add(&exec.Results[i])
		}
	}
	for _, f := range exec.BatchErrors {
		findings.AddBatchFinding(f)
	}
	merged := NewAccumulator()
	merged.Merge(findings)
	merged.Merge(odd)
	merged.Merge(even)

	assert.Equal(t, whole, merged.Tallies())
	assert.Equal(t, int64(120), merged.Total())
	assert.Equal(t, int64(exec.Valid), merged.Valid())
}

func TestAssemble(t *testing.T) {
	exec := &Execution{
		Results: []contracts.ExposureResult{{
			Index:      0,
			ExposureID: "E1",
			Errors: []contracts.ValidationError{{
				ExposureID: "E1", Dimension: contracts.DimensionAccuracy, RuleCode: "R",
				Severity: contracts.SeverityHigh, Kind: contracts.KindViolation, Message: "original",
			}},
		}},
		Tallies: NewTallies(),
	}
	exec.Tallies[contracts.DimensionAccuracy].ViolationCountBySeverity[contracts.SeverityHigh] = 1
	scores := contracts.QualityScores{Accuracy: 75, Overall: 93.75, Grade: contracts.GradeB}

	t.Run("deep copies the execution", func(t *testing.T) {
		res, err := Assemble("B1", "BANK", exec, &scores, "hash")
		require.NoError(t, err)
		exec.Results[0].Errors[0].Message = "mutated"
		assert.Equal(t, "original", res.ExposureResults[0].Errors[0].Message)
		assert.Equal(t, 1, res.ErrorCounts[contracts.DimensionAccuracy])
		assert.Equal(t, 1, res.InvalidExposures)
		assert.Equal(t, 75.0, res.DimensionScores[contracts.DimensionAccuracy])
		assert.NotNil(t, res.BatchErrors)
		exec.Results[0].Errors[0].Message = "original"
	})

	t.Run("rejects missing input", func(t *testing.T) {
		_, err := Assemble(" ", "BANK", exec, &scores, "")
		assert.ErrorIs(t, err, contracts.ErrInvalidInput)
		_, err = Assemble("B1", "BANK", nil, &scores, "")
		assert.ErrorIs(t, err, contracts.ErrInvalidInput)
		_, err = Assemble("B1", "BANK", exec, nil, "")
		assert.ErrorIs(t, err, contracts.ErrInvalidInput)
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := rules.NewCatalog(rules.DefaultSource(), nil, logger.Nop())
	e := New(c, nil, Options{}, logger.Nop(), m)

	runBatch(t, e, mixedBatch(40))
	_, _ = e.Run(context.Background(), contracts.Batch{AsOf: asOf})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Batches.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Batches.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.ExposuresProcessed))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.ObserveBatch(OutcomeCompleted, time.Second)
		nilMetrics.ObserveTallies(contracts.ExecutionStats{}, NewTallies())
	})
}
