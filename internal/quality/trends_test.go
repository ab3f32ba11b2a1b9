package quality

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/pkg/logger"
)

var day0 = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

func scoredReport(batchID string, created time.Time, overall float64, grade contracts.Grade, compliant bool) contracts.QualityReport {
	return contracts.QualityReport{
		BatchID:   batchID,
		BankID:    "BANK_1",
		Status:    contracts.ReportCompleted,
		CreatedAt: created,
		Scores: &contracts.QualityScores{
			Completeness: overall,
			Accuracy:     100,
			Consistency:  overall,
			Timeliness:   100,
			Uniqueness:   100,
			Validity:     100,
			Overall:      overall,
			Grade:        grade,
			Compliance:   contracts.ComplianceVerdict{Compliant: compliant},
		},
	}
}

// seed stores one COMPLETED report per day, starting at day0
func seed(t *testing.T, repo *MemoryRepository, bankID string, overalls ...float64) {
	t.Helper()
	ctx := context.Background()
	for i, overall := range overalls {
		at := day0.AddDate(0, 0, i)
		repo.now = func() time.Time { return at }
		rep := scoredReport(bankID+"_"+at.Format("0102"), at, overall, contracts.GradeB, overall >= 70)
		rep.BankID = bankID
		require.NoError(t, repo.StartReport(ctx, rep.BatchID, bankID))
		require.NoError(t, repo.CompleteReport(ctx, &rep))
	}
	repo.now = time.Now
}

func TestComputeTrend(t *testing.T) {
	reports := []contracts.QualityReport{
		scoredReport("B3", day0.AddDate(0, 0, 2), 90, contracts.GradeB, true),
		scoredReport("B1", day0, 60, contracts.GradeD, false),
		{BatchID: "B_NO_SCORES", CreatedAt: day0.AddDate(0, 0, 1)},
		scoredReport("B2", day0.AddDate(0, 0, 1), 75, contracts.GradeC, true),
	}

	trend := ComputeTrend("BANK_1", reports)
	assert.Equal(t, 3, trend.Reports)
	assert.InDelta(t, 75, trend.AverageOverall, 1e-9)
	assert.Equal(t, 60.0, trend.MinOverall)
	assert.Equal(t, 90.0, trend.MaxOverall)
	assert.InDelta(t, 30, trend.Delta, 1e-9)
	assert.Equal(t, DirectionImproving, trend.Direction)
	assert.Equal(t, 2, trend.CompliantCount)
	assert.InDelta(t, 2.0/3, trend.ComplianceRate, 1e-9)
	assert.Equal(t, map[contracts.Grade]int{contracts.GradeB: 1, contracts.GradeC: 1, contracts.GradeD: 1}, trend.Grades)
	assert.InDelta(t, 75, trend.Dimensions[contracts.DimensionCompleteness], 1e-9)
	assert.InDelta(t, 100, trend.Dimensions[contracts.DimensionValidity], 1e-9)

	require.Len(t, trend.Points, 3)
	assert.Equal(t, "B1", trend.Points[0].BatchID)
	assert.Equal(t, "B3", trend.Points[2].BatchID)
}

func TestComputeTrend_Empty(t *testing.T) {
	trend := ComputeTrend("BANK_1", nil)
	assert.Zero(t, trend.Reports)
	assert.Zero(t, trend.Delta)
	assert.Equal(t, DirectionStable, trend.Direction)
	assert.NotNil(t, trend.Points)
	assert.Empty(t, trend.Dimensions)
}

func TestComputeTrend_Direction(t *testing.T) {
	tests := []struct {
		first, last float64
		want        Direction
	}{
		{80, 90, DirectionImproving},
		{90, 80, DirectionDeclining},
		{80, 80.5, DirectionStable},
		{80, 79, DirectionStable},
	}
	for _, tt := range tests {
		trend := ComputeTrend("BANK_1", []contracts.QualityReport{
			scoredReport("B1", day0, tt.first, contracts.GradeB, true),
			scoredReport("B2", day0.AddDate(0, 0, 1), tt.last, contracts.GradeB, true),
		})
		assert.Equal(t, tt.want, trend.Direction, "%v -> %v", tt.first, tt.last)
	}
}

func TestMemoryRepository_ListByBank(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	seed(t, repo, "BANK_1", 60, 70, 80, 90)
	seed(t, repo, "BANK_2", 50)

	// 진행 중이거나 실패한 보고서는 제외
	require.NoError(t, repo.StartReport(ctx, "RUNNING", "BANK_1"))
	require.NoError(t, repo.StartReport(ctx, "BROKEN", "BANK_1"))
	require.NoError(t, repo.FailReport(ctx, "BROKEN", "boom"))

	all, err := repo.ListByBank(ctx, "BANK_1", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, 90.0, all[0].Scores.Overall, "newest first")

	window, err := repo.ListByBank(ctx, "BANK_1", day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 3), 0)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, 80.0, window[0].Scores.Overall)
	assert.Equal(t, 70.0, window[1].Scores.Overall)

	limited, err := repo.ListByBank(ctx, "BANK_1", time.Time{}, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, 80.0, limited[1].Scores.Overall)
}

func TestService_Trend(t *testing.T) {
	repo := NewMemoryRepository()
	seed(t, repo, "BANK_1", 60, 70, 80, 90)
	svc := NewService(runnerFunc(nil), repo, repo, nil, nil, logger.Nop())
	ctx := context.Background()

	trend, err := svc.Trend(ctx, TrendQuery{BankID: "BANK_1", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, trend.Reports)
	assert.InDelta(t, 20, trend.Delta, 1e-9)
	assert.InDelta(t, 80, trend.AverageOverall, 1e-9)

	_, err = svc.Trend(ctx, TrendQuery{BankID: " "})
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)

	_, err = svc.Trend(ctx, TrendQuery{BankID: "BANK_1", From: day0, To: day0})
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)

	trend, err = svc.Trend(ctx, TrendQuery{BankID: "BANK_UNKNOWN"})
	require.NoError(t, err)
	assert.Zero(t, trend.Reports)
}
