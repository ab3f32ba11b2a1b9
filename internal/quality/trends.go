package quality

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/wonny/regtech-dq/internal/contracts"
)

const (
	// DefaultTrendLimit is the number of reports a trend covers when no limit is given
	DefaultTrendLimit = 30
	// MaxTrendLimit caps one trend query
	MaxTrendLimit = 500
	// stableBand is the overall-score change still reported as STABLE
	stableBand = 1.0
)

// Direction is the coarse movement of the overall score
type Direction string

const (
	DirectionImproving Direction = "IMPROVING"
	DirectionDeclining Direction = "DECLINING"
	DirectionStable    Direction = "STABLE"
)

// TrendQuery selects the COMPLETED reports of one bank
type TrendQuery struct {
	BankID string
	From   time.Time // inclusive, zero = open
	To     time.Time // exclusive, zero = open
	Limit  int
}

// TrendPoint is one report on the trend line
type TrendPoint struct {
	BatchID   string          `json:"batch_id"`
	CreatedAt time.Time       `json:"created_at"`
	Overall   float64         `json:"overall"`
	Grade     contracts.Grade `json:"grade"`
	Compliant bool            `json:"compliant"`
}

// Trend summarises a bank's scores across its most recent reports
type Trend struct {
	BankID         string                          `json:"bank_id"`
	Reports        int                             `json:"reports"`
	AverageOverall float64                         `json:"average_overall"`
	MinOverall     float64                         `json:"min_overall"`
	MaxOverall     float64                         `json:"max_overall"`
	Delta          float64                         `json:"delta"`
	Direction      Direction                       `json:"direction"`
	CompliantCount int                             `json:"compliant_count"`
	ComplianceRate float64                         `json:"compliance_rate"`
	Dimensions     map[contracts.Dimension]float64 `json:"dimension_averages"`
	Grades         map[contracts.Grade]int         `json:"grades"`
	Points         []TrendPoint                    `json:"points"`
}

// Trend loads the bank's reports in the window and aggregates them
func (s *Service) Trend(ctx context.Context, q TrendQuery) (*Trend, error) {
	if strings.TrimSpace(q.BankID) == "" {
		return nil, fmt.Errorf("%w: bank_id is required", contracts.ErrInvalidInput)
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return nil, fmt.Errorf("%w: from must be before to", contracts.ErrInvalidInput)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultTrendLimit
	}
	if q.Limit > MaxTrendLimit {
		q.Limit = MaxTrendLimit
	}

	reports, err := s.reports.ListByBank(ctx, q.BankID, q.From, q.To, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("list bank reports: %w", err)
	}
	trend := ComputeTrend(q.BankID, reports)
	return &trend, nil
}

// ComputeTrend aggregates reports in any order. Reports without scores are skipped.
// Points are oldest first; Delta is latest overall minus earliest overall, and a
// Delta within one point either way is STABLE.
func ComputeTrend(bankID string, reports []contracts.QualityReport) Trend {
	t := Trend{
		BankID:     bankID,
		Direction:  DirectionStable,
		Dimensions: make(map[contracts.Dimension]float64),
		Grades:     make(map[contracts.Grade]int),
		Points:     []TrendPoint{},
	}

	scored := make([]contracts.QualityReport, 0, len(reports))
	for _, rep := range reports {
		if rep.Scores != nil {
			scored = append(scored, rep)
		}
	}
	if len(scored) == 0 {
		return t
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].CreatedAt.Equal(scored[j].CreatedAt) {
			return scored[i].BatchID < scored[j].BatchID
		}
		return scored[i].CreatedAt.Before(scored[j].CreatedAt)
	})

	t.MinOverall = math.Inf(1)
	t.MaxOverall = math.Inf(-1)
	var sum float64
	dimSums := make(map[contracts.Dimension]float64)
	for _, rep := range scored {
		sc := rep.Scores
		sum += sc.Overall
		t.MinOverall = math.Min(t.MinOverall, sc.Overall)
		t.MaxOverall = math.Max(t.MaxOverall, sc.Overall)
		t.Grades[sc.Grade]++
		if sc.Compliance.Compliant {
			t.CompliantCount++
		}
		for d, v := range dimensionValues(*sc) {
			dimSums[d] += v
		}
		t.Points = append(t.Points, TrendPoint{
			BatchID:   rep.BatchID,
			CreatedAt: rep.CreatedAt,
			Overall:   sc.Overall,
			Grade:     sc.Grade,
			Compliant: sc.Compliance.Compliant,
		})
	}

	n := float64(len(scored))
	t.Reports = len(scored)
	t.AverageOverall = sum / n
	for d, v := range dimSums {
		t.Dimensions[d] = v / n
	}
	t.ComplianceRate = float64(t.CompliantCount) / n
	t.Delta = t.Points[len(t.Points)-1].Overall - t.Points[0].Overall
	switch {
	case t.Delta > stableBand:
		t.Direction = DirectionImproving
	case t.Delta < -stableBand:
		t.Direction = DirectionDeclining
	}
	return t
}

func dimensionValues(s contracts.QualityScores) map[contracts.Dimension]float64 {
	return map[contracts.Dimension]float64{
		contracts.DimensionCompleteness: s.Completeness,
		contracts.DimensionAccuracy:     s.Accuracy,
		contracts.DimensionConsistency:  s.Consistency,
		contracts.DimensionTimeliness:   s.Timeliness,
		contracts.DimensionUniqueness:   s.Uniqueness,
		contracts.DimensionValidity:     s.Validity,
	}
}
