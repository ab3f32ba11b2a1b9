package quality

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/pkg/config"
	"github.com/wonny/regtech-dq/pkg/database"
)

func testRepository(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	db, err := database.New(&config.Config{Database: config.DatabaseConfig{
		URL: url, MaxConns: 4, MinConns: 1, MaxConnLifetime: time.Hour, MaxConnIdleTime: time.Minute,
	}})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))
	return NewRepository(db.Pool)
}

func TestRepository_ReportLifecycle(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()
	batchID := "TEST_" + uuid.NewString()
	bankID := "TEST_BANK_" + uuid.NewString()

	_, err := repo.GetReport(ctx, batchID)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
	assert.ErrorIs(t, repo.CompleteReport(ctx, &contracts.QualityReport{BatchID: batchID}), contracts.ErrNotFound)
	assert.ErrorIs(t, repo.FailReport(ctx, batchID, "x"), contracts.ErrNotFound)

	require.NoError(t, repo.StartReport(ctx, batchID, bankID))
	rep, err := repo.GetReport(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, contracts.ReportInProgress, rep.Status)
	assert.Nil(t, rep.Scores)

	stale, err := repo.ListStale(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Contains(t, stale, batchID)

	scored := scoredReport(batchID, time.Time{}, 88.5, contracts.GradeB, true)
	scored.BankID = bankID
	scored.TotalExposures = 10
	scored.ValidExposures = 8
	scored.TotalErrors = 3
	scored.RuleSnapshotHash = "abc123"
	scored.DimensionScores = map[contracts.Dimension]float64{contracts.DimensionCompleteness: 88.5}
	scored.ErrorCounts = map[contracts.Dimension]int{contracts.DimensionCompleteness: 3}
	require.NoError(t, repo.CompleteReport(ctx, &scored))

	rep, err = repo.GetReport(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, contracts.ReportCompleted, rep.Status)
	require.NotNil(t, rep.Scores)
	assert.Equal(t, 88.5, rep.Scores.Overall)
	assert.Equal(t, contracts.GradeB, rep.Scores.Grade)
	assert.True(t, rep.Scores.Compliance.Compliant)
	assert.Equal(t, 3, rep.ErrorCounts[contracts.DimensionCompleteness])
	assert.Equal(t, "abc123", rep.RuleSnapshotHash)

	trend, err := repo.ListByBank(ctx, bankID, time.Time{}, time.Time{}, 5)
	require.NoError(t, err)
	require.Len(t, trend, 1)
	assert.Equal(t, batchID, trend[0].BatchID)

	// 미래 구간
	none, err := repo.ListByBank(ctx, bankID, time.Now().Add(time.Hour), time.Time{}, 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, repo.FailReport(ctx, batchID, "late failure"))
	rep, err = repo.GetReport(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, contracts.ReportFailed, rep.Status)
	assert.Equal(t, "late failure", rep.ErrorMessage)

	trend, err = repo.ListByBank(ctx, bankID, time.Time{}, time.Time{}, 5)
	require.NoError(t, err)
	assert.Empty(t, trend, "only completed reports")
}

func TestRepository_RuleOutcomes(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()
	batchID := "TEST_" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)
	executionID := uuid.NewString()

	require.NoError(t, repo.SaveExecutionLogs(ctx, nil))
	require.NoError(t, repo.SaveExecutionLogs(ctx, []contracts.RuleExecutionLog{{
		ExecutionID: executionID,
		BatchID:     batchID,
		RuleID:      "R1",
		RuleCode:    "DQ_TEST",
		Counts:      contracts.RuleExecutionCount{Passed: 8, Failed: 2},
		ExecutedAt:  now,
	}}))

	// 같은 execution_id는 기본키 충돌
	err := repo.SaveExecutionLogs(ctx, []contracts.RuleExecutionLog{{ExecutionID: executionID, BatchID: batchID, ExecutedAt: now}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert execution log")

	violations := []contracts.RuleViolation{
		{BatchID: batchID, ExecutionID: &executionID, RuleID: "R1", RuleCode: "DQ_TEST", ExposureID: "E1",
			Dimension: contracts.DimensionCompleteness, Severity: contracts.SeverityHigh, Message: "missing", FieldName: "currency", DetectedAt: now},
		{BatchID: batchID, RuleID: "UNIQ", RuleCode: "DQ_UNIQUE", ExposureID: "E2",
			Dimension: contracts.DimensionUniqueness, Severity: contracts.SeverityCritical, Message: "duplicate", DetectedAt: now},
	}
	require.NoError(t, repo.SaveViolations(ctx, nil))
	require.NoError(t, repo.SaveViolations(ctx, violations))

	got, err := repo.ViolationsFor(ctx, batchID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].ExecutionID)
	assert.Equal(t, executionID, *got[0].ExecutionID)
	assert.Equal(t, contracts.SeverityHigh, got[0].Severity)
	assert.Nil(t, got[1].ExecutionID)
	assert.Equal(t, contracts.DimensionUniqueness, got[1].Dimension)
	assert.True(t, now.Equal(got[1].DetectedAt))
}
