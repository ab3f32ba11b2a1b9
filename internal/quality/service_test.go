package quality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/engine"
	"github.com/wonny/regtech-dq/internal/events"
	"github.com/wonny/regtech-dq/internal/rules"
	"github.com/wonny/regtech-dq/internal/storage"
	"github.com/wonny/regtech-dq/pkg/logger"
)

var asOf = contracts.NewDate(2024, time.June, 30)

func exposure(i int) contracts.ExposureRecord {
	return contracts.ExposureRecord{
		ExposureID:       fmt.Sprintf("EXP_%04d", i),
		CounterpartyID:   fmt.Sprintf("CP_%04d", i),
		CounterpartyLEI:  "5493001KJTIIGC8Y1R12",
		Amount:           decimal.NewNullDecimal(decimal.NewFromInt(1_000_000)),
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

// batchWithProblems: index 1 has no currency, index 2 has no exposure id
func batchWithProblems() []contracts.ExposureRecord {
	out := make([]contracts.ExposureRecord, 10)
	for i := range out {
		out[i] = exposure(i)
	}
	out[1].Currency = ""
	out[2].ExposureID = ""
	return out
}

type fixture struct {
	service   *Service
	repo      *MemoryRepository
	transport *events.MemoryTransport
}

func newFixture(t *testing.T, runner Runner) fixture {
	t.Helper()
	if runner == nil {
		catalog := rules.NewCatalog(rules.DefaultSource(), nil, logger.Nop())
		runner = engine.New(catalog, nil, engine.Options{}, logger.Nop(), nil)
	}
	store, err := storage.NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)

	repo := NewMemoryRepository()
	transport := events.NewMemoryTransport()
	svc := NewService(runner, repo, repo, store, events.NewPublisher(transport, logger.Nop()), logger.Nop())
	return fixture{service: svc, repo: repo, transport: transport}
}

func command(batchID string) Command {
	return Command{
		BatchID:       batchID,
		BankID:        "BANK_1",
		AsOf:          asOf,
		Exposures:     batchWithProblems(),
		CorrelationID: "corr-" + batchID,
	}
}

type runnerFunc func(ctx context.Context, batch contracts.Batch) (*engine.Outcome, error)

func (f runnerFunc) Run(ctx context.Context, batch contracts.Batch) (*engine.Outcome, error) {
	return f(ctx, batch)
}

func TestValidateBatch_PersistsEverySink(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.service.ValidateBatch(ctx, command("BATCH_1"))
	require.NoError(t, err)
	require.NotNil(t, res.Outcome)

	// 요약
	rep, err := f.repo.GetReport(ctx, "BATCH_1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ReportCompleted, rep.Status)
	assert.Equal(t, 10, rep.TotalExposures)
	assert.Equal(t, 8, rep.ValidExposures)
	assert.True(t, strings.HasPrefix(rep.DetailsReference, storage.ReferenceScheme))
	assert.Equal(t, res.Outcome.Result.RuleSnapshotHash, rep.RuleSnapshotHash)
	require.NotNil(t, rep.Scores)
	assert.Equal(t, res.Outcome.Result.Scores.Overall, rep.Scores.Overall)
	assert.Equal(t, res.Outcome.Result.DimensionScores, rep.DimensionScores)
	assert.Less(t, rep.DimensionScores[contracts.DimensionCompleteness], 100.0)

	// 실행 로그: 룰당 한 행
	logs := f.repo.ExecutionLogs()
	require.Len(t, logs, res.Outcome.Stats.RulesApplied)
	var currencyLog contracts.RuleExecutionLog
	for _, l := range logs {
		assert.Equal(t, "BATCH_1", l.BatchID)
		assert.Len(t, l.ExecutionID, 36)
		if l.RuleCode == "COMPLETENESS_CURRENCY_REQUIRED" {
			currencyLog = l
		}
	}
	assert.Equal(t, "DQ_COMPLETENESS_CURRENCY", currencyLog.RuleID)
	assert.Equal(t, contracts.RuleExecutionCount{Passed: 8, Failed: 1, Skipped: 1}, currencyLog.Counts)

	// 위반
	violations, err := f.repo.ViolationsFor(ctx, "BATCH_1")
	require.NoError(t, err)
	var currency, structural *contracts.RuleViolation
	for i := range violations {
		switch violations[i].RuleCode {
		case "COMPLETENESS_CURRENCY_REQUIRED":
			currency = &violations[i]
		case contracts.CodeMissingExposureID:
			structural = &violations[i]
		}
	}
	require.NotNil(t, currency)
	assert.Equal(t, "EXP_0001", currency.ExposureID)
	assert.Equal(t, "DQ_COMPLETENESS_CURRENCY", currency.RuleID)
	require.NotNil(t, currency.ExecutionID)
	assert.Equal(t, currencyLog.ExecutionID, *currency.ExecutionID)

	require.NotNil(t, structural)
	assert.Nil(t, structural.ExecutionID)
	assert.Equal(t, contracts.CodeMissingExposureID, structural.RuleID)

	// 이벤트
	envs := f.transport.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, contracts.EventBatchQualityCompleted, envs[0].EventType)
	assert.Equal(t, "corr-BATCH_1", envs[0].CorrelationID)
	assert.Contains(t, string(envs[0].Payload), rep.DetailsReference)
}

func TestValidateBatch_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.ValidateBatch(ctx, command("BATCH_1"))
	require.NoError(t, err)
	logsAfterFirst := len(f.repo.ExecutionLogs())

	res, err := f.service.ValidateBatch(ctx, command("BATCH_1"))
	assert.ErrorIs(t, err, contracts.ErrAlreadyProcessed)
	require.NotNil(t, res)
	assert.Nil(t, res.Outcome)
	assert.Equal(t, contracts.ReportCompleted, res.Report.Status)

	assert.Len(t, f.repo.ExecutionLogs(), logsAfterFirst)
	assert.Len(t, f.transport.Envelopes(), 1)
}

func TestValidateBatch_EngineFailure(t *testing.T) {
	boom := contracts.ConfigurationError{Field: "rule R", Message: "bad parameter"}
	f := newFixture(t, runnerFunc(func(context.Context, contracts.Batch) (*engine.Outcome, error) {
		return nil, boom
	}))
	ctx := context.Background()

	res, err := f.service.ValidateBatch(ctx, command("BATCH_2"))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, contracts.ErrConfiguration)

	rep, err := f.repo.GetReport(ctx, "BATCH_2")
	require.NoError(t, err)
	assert.Equal(t, contracts.ReportFailed, rep.Status)
	assert.Equal(t, boom.Error(), rep.ErrorMessage)

	envs := f.transport.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, contracts.EventBatchQualityFailed, envs[0].EventType)
	assert.Contains(t, string(envs[0].Payload), "bad parameter")

	// FAILED도 최종 상태
	_, err = f.service.ValidateBatch(ctx, command("BATCH_2"))
	assert.ErrorIs(t, err, contracts.ErrAlreadyProcessed)
}

func TestValidateBatch_CancelledStillRecordsFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.ValidateBatch(ctx, command("BATCH_3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrBatchCancelled)

	rep, err := f.repo.GetReport(context.Background(), "BATCH_3")
	require.NoError(t, err)
	assert.Equal(t, contracts.ReportFailed, rep.Status)
}

func TestValidateBatch_ResumesInProgress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.repo.StartReport(ctx, "BATCH_4", "BANK_1"))

	res, err := f.service.ValidateBatch(ctx, command("BATCH_4"))
	require.NoError(t, err)
	assert.Equal(t, contracts.ReportCompleted, res.Report.Status)
}

func TestValidateBatch_BlankBatchID(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.service.ValidateBatch(context.Background(), command(" "))
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)
}

type failingReports struct {
	*MemoryRepository
}

func (failingReports) GetReport(context.Context, string) (*contracts.QualityReport, error) {
	return nil, errors.New("connection refused")
}

func TestValidateBatch_ReportLookupError(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(runnerFunc(func(context.Context, contracts.Batch) (*engine.Outcome, error) {
		t.Fatal("engine must not run")
		return nil, nil
	}), failingReports{repo}, nil, nil, nil, logger.Nop())

	_, err := svc.ValidateBatch(context.Background(), command("BATCH_5"))
	assert.ErrorContains(t, err, "connection refused")
}

type failingCompletion struct {
	*MemoryRepository
}

func (failingCompletion) CompleteReport(context.Context, *contracts.QualityReport) error {
	return errors.New("db down")
}

func TestValidateBatch_CompletionFailureMarksFailed(t *testing.T) {
	repo := NewMemoryRepository()
	store, err := storage.NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)
	transport := events.NewMemoryTransport()
	catalog := rules.NewCatalog(rules.DefaultSource(), nil, logger.Nop())
	runner := engine.New(catalog, nil, engine.Options{}, logger.Nop(), nil)
	reports := failingCompletion{repo}
	svc := NewService(runner, reports, reports, store, events.NewPublisher(transport, logger.Nop()), logger.Nop())
	ctx := context.Background()

	res, err := svc.ValidateBatch(ctx, command("BATCH_6"))
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "db down")

	rep, err := repo.GetReport(ctx, "BATCH_6")
	require.NoError(t, err)
	assert.Equal(t, contracts.ReportFailed, rep.Status)
	assert.Contains(t, rep.ErrorMessage, "complete report")

	envs := transport.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, contracts.EventBatchQualityFailed, envs[0].EventType)
	assert.Empty(t, repo.ExecutionLogs())
}

func TestMemoryRepository_ListStale(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"OLD_B", "OLD_A", "FRESH"} {
		offset := time.Duration(i) * time.Minute
		if id == "FRESH" {
			offset = 3 * time.Hour
		}
		repo.now = func() time.Time { return base.Add(offset) }
		require.NoError(t, repo.StartReport(ctx, id, "BANK_1"))
	}
	repo.now = func() time.Time { return base.Add(4 * time.Hour) }
	require.NoError(t, repo.FailReport(ctx, "OLD_A", "stale"))
	require.NoError(t, repo.StartReport(ctx, "OLD_C", "BANK_1"))

	stale, err := repo.ListStale(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"OLD_B"}, stale)

	assert.ErrorIs(t, repo.FailReport(ctx, "MISSING", "x"), contracts.ErrNotFound)
	assert.ErrorIs(t, repo.CompleteReport(ctx, &contracts.QualityReport{BatchID: "MISSING"}), contracts.ErrNotFound)
}

func TestViolations_SkipsNonQualityErrors(t *testing.T) {
	res := &contracts.ValidationResult{
		ExposureResults: []contracts.ExposureResult{{
			ExposureID: "E1",
			Errors: []contracts.ValidationError{
				{ExposureID: "E1", RuleCode: "R1", Kind: contracts.KindViolation, Severity: contracts.SeverityHigh},
				{ExposureID: "E1", RuleCode: "R2", Kind: contracts.KindEvaluationError},
			},
		}},
		BatchErrors: []contracts.ValidationError{{RuleCode: "R3", Kind: contracts.KindBatchFinding}},
	}
	at := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	out := Violations("B", res, map[string]string{"R1": "exec-1"}, map[string]string{"R1": "ID_R1"}, at)
	require.Len(t, out, 1)
	assert.Equal(t, "ID_R1", out[0].RuleID)
	assert.Equal(t, "exec-1", *out[0].ExecutionID)
	assert.Equal(t, at, out[0].DetectedAt)
}
