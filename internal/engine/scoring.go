package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// weightTolerance is the allowed distance of the weight sum from 1
const weightTolerance = 1e-6

// Weights maps each dimension to its share of the overall score
type Weights map[contracts.Dimension]float64

// DefaultWeights returns the standard dimension weights
func DefaultWeights() Weights {
	return Weights{
		contracts.DimensionCompleteness: 0.25,
		contracts.DimensionAccuracy:     0.25,
		contracts.DimensionConsistency:  0.20,
		contracts.DimensionTimeliness:   0.15,
		contracts.DimensionUniqueness:   0.10,
		contracts.DimensionValidity:     0.05,
	}
}

// Validate requires all six dimensions, non-negative weights and a sum of 1.
// Weights are never renormalized.
func (w Weights) Validate() error {
	if len(w) != len(contracts.AllDimensions()) {
		return fmt.Errorf("%w: expected %d dimensions, got %d", contracts.ErrInvalidWeights, len(contracts.AllDimensions()), len(w))
	}
	var sum float64
	for _, d := range contracts.AllDimensions() {
		v, ok := w[d]
		if !ok {
			return fmt.Errorf("%w: missing %s", contracts.ErrInvalidWeights, d)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s=%v", contracts.ErrInvalidWeights, d, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: sum is %.6f, expected 1", contracts.ErrInvalidWeights, sum)
	}
	return nil
}

// ParseWeights reads "completeness=0.25,accuracy=0.25,...". Empty input means defaults.
func ParseWeights(s string) (Weights, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultWeights(), nil
	}
	w := make(Weights, 6)
	for _, part := range strings.Split(s, ",") {
		name, raw, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("%w: malformed entry %q", contracts.ErrInvalidWeights, part)
		}
		d, err := contracts.ParseDimension(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contracts.ErrInvalidWeights, err)
		}
		if _, dup := w[d]; dup {
			return nil, fmt.Errorf("%w: duplicate %s", contracts.ErrInvalidWeights, d)
		}
		v, err := cast.ToFloat64E(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", contracts.ErrInvalidWeights, d, err)
		}
		w[d] = v
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// String renders the weights in reporting order
func (w Weights) String() string {
	parts := make([]string, 0, len(w))
	for _, d := range contracts.AllDimensions() {
		parts = append(parts, fmt.Sprintf("%s=%g", strings.ToLower(string(d)), w[d]))
	}
	return strings.Join(parts, ",")
}

// SeverityMultiplier is the penalty weight of a violation of severity s
func SeverityMultiplier(s contracts.Severity) float64 {
	switch s {
	case contracts.SeverityCritical:
		return 1.0
	case contracts.SeverityHigh:
		return 0.75
	case contracts.SeverityMedium:
		return 0.5
	case contracts.SeverityLow:
		return 0.25
	default:
		return 0
	}
}

// DimensionScore converts a tally to 0..100.
// Each exposure counts once, at the multiplier of its worst severity.
func DimensionScore(t *DimensionTally, totalExposures int) float64 {
	if totalExposures <= 0 {
		return 0
	}
	if t == nil {
		return 100
	}
	var weighted float64
	for _, s := range contracts.AllSeverities() {
		weighted += float64(t.ExposuresByWorstSeverity[s]) * SeverityMultiplier(s)
	}
	rate := weighted / float64(totalExposures)
	return clamp(100 * (1 - rate))
}

// GradeFor maps an overall score to a letter grade
func GradeFor(overall float64) contracts.Grade {
	switch {
	case overall >= 95:
		return contracts.GradeA
	case overall >= 85:
		return contracts.GradeB
	case overall >= 70:
		return contracts.GradeC
	case overall >= 50:
		return contracts.GradeD
	default:
		return contracts.GradeF
	}
}

// Score derives the batch scores from the tallies
func Score(tallies Tallies, totalExposures int, w Weights, th contracts.QualityThreshold) (contracts.QualityScores, error) {
	if err := w.Validate(); err != nil {
		return contracts.QualityScores{}, err
	}

	dims := make(map[contracts.Dimension]float64, 6)
	var overall float64
	for _, d := range contracts.AllDimensions() {
		s := DimensionScore(tallies[d], totalExposures)
		dims[d] = s
		overall += s * w[d]
	}
	overall = clamp(overall)

	scores := contracts.QualityScores{
		Completeness: dims[contracts.DimensionCompleteness],
		Accuracy:     dims[contracts.DimensionAccuracy],
		Consistency:  dims[contracts.DimensionConsistency],
		Timeliness:   dims[contracts.DimensionTimeliness],
		Uniqueness:   dims[contracts.DimensionUniqueness],
		Validity:     dims[contracts.DimensionValidity],
		Overall:      overall,
		Grade:        GradeFor(overall),
	}
	scores.Compliance = Compliance(scores, th)
	return scores, nil
}

// Compliance checks the overall cutoff and the bank's per-dimension minimums
func Compliance(s contracts.QualityScores, th contracts.QualityThreshold) contracts.ComplianceVerdict {
	v := contracts.ComplianceVerdict{
		Cutoff:          th.ComplianceCutoff,
		ThresholdSource: th.Source,
	}
	v.OverallBelowCutoff = s.Overall < th.ComplianceCutoff

	mins := []contracts.DimensionShortfall{
		{Dimension: contracts.DimensionCompleteness, Score: s.Completeness, Minimum: th.CompletenessMinPercent},
		{Dimension: contracts.DimensionAccuracy, Score: s.Accuracy, Minimum: 100 - th.AccuracyMaxErrorPercent},
		{Dimension: contracts.DimensionConsistency, Score: s.Consistency, Minimum: th.ConsistencyPercent},
	}
	for _, m := range mins {
		if m.Score < m.Minimum {
			v.FailingDimensions = append(v.FailingDimensions, m)
		}
	}

	v.Compliant = !v.OverallBelowCutoff && len(v.FailingDimensions) == 0
	return v
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
