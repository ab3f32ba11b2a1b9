package engine

import (
	"github.com/wonny/regtech-dq/internal/contracts"
)

// DimensionTally is the per-dimension count set used for scoring
type DimensionTally struct {
	ExposuresWithViolation   int64                        `json:"exposures_with_violation"`
	ViolationCountBySeverity map[contracts.Severity]int64 `json:"violation_count_by_severity"`
	ExposuresByWorstSeverity map[contracts.Severity]int64 `json:"exposures_by_worst_severity"`
	NotEvaluated             int64                        `json:"not_evaluated"`
	BatchFindings            int64                        `json:"batch_findings"`
}

func newDimensionTally() *DimensionTally {
	return &DimensionTally{
		ViolationCountBySeverity: make(map[contracts.Severity]int64, 4),
		ExposuresByWorstSeverity: make(map[contracts.Severity]int64, 4),
	}
}

// Violations is the number of VIOLATION and STRUCTURAL errors in the dimension
func (t *DimensionTally) Violations() int64 {
	var n int64
	for _, c := range t.ViolationCountBySeverity {
		n += c
	}
	return n
}

func (t *DimensionTally) add(o *DimensionTally) {
	t.ExposuresWithViolation += o.ExposuresWithViolation
	t.NotEvaluated += o.NotEvaluated
	t.BatchFindings += o.BatchFindings
	for s, c := range o.ViolationCountBySeverity {
		t.ViolationCountBySeverity[s] += c
	}
	for s, c := range o.ExposuresByWorstSeverity {
		t.ExposuresByWorstSeverity[s] += c
	}
}

// Tallies holds one tally per dimension
type Tallies map[contracts.Dimension]*DimensionTally

// NewTallies creates empty tallies for all six dimensions
func NewTallies() Tallies {
	t := make(Tallies, 6)
	for _, d := range contracts.AllDimensions() {
		t[d] = newDimensionTally()
	}
	return t
}

func (t Tallies) of(d contracts.Dimension) *DimensionTally {
	tally, ok := t[d]
	if !ok {
		tally = newDimensionTally()
		t[d] = tally
	}
	return tally
}

// Accumulator folds exposure results into tallies.
// Each worker owns one; partials are combined with Merge.
type Accumulator struct {
	tallies  Tallies
	total    int64
	valid    int64
	invalid  int64
	worstBuf map[contracts.Dimension]contracts.Severity
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{
		tallies:  NewTallies(),
		worstBuf: make(map[contracts.Dimension]contracts.Severity, 6),
	}
}

// Add counts one exposure result
func (a *Accumulator) Add(r *contracts.ExposureResult) {
	a.total++
	if r.Valid {
		a.valid++
	} else {
		a.invalid++
	}

	worst := a.worstBuf
	for k := range worst {
		delete(worst, k)
	}

	for _, e := range r.Errors {
		t := a.tallies.of(e.Dimension)
		switch e.Kind {
		case contracts.KindViolation, contracts.KindStructural:
			t.ViolationCountBySeverity[e.Severity]++
			if cur, ok := worst[e.Dimension]; !ok || e.Severity.Rank() > cur.Rank() {
				worst[e.Dimension] = e.Severity
			}
		case contracts.KindEvaluationError:
			t.NotEvaluated++
		case contracts.KindBatchFinding:
			t.BatchFindings++
		}
	}

	// 노출 단위로 차원별 1회만 집계 (가장 심각한 severity 기준)
	for d, sev := range worst {
		t := a.tallies.of(d)
		t.ExposuresWithViolation++
		t.ExposuresByWorstSeverity[sev]++
	}
}

// AddBatchFinding counts a batch-level summary error
func (a *Accumulator) AddBatchFinding(e contracts.ValidationError) {
	a.tallies.of(e.Dimension).BatchFindings++
}

// Merge folds o into a. Merge order does not change the result.
func (a *Accumulator) Merge(o *Accumulator) {
	if o == nil {
		return
	}
	a.total += o.total
	a.valid += o.valid
	a.invalid += o.invalid
	for d, t := range o.tallies {
		a.tallies.of(d).add(t)
	}
}

// Tallies returns a copy of the accumulated tallies
func (a *Accumulator) Tallies() Tallies {
	out := NewTallies()
	for d, t := range a.tallies {
		out.of(d).add(t)
	}
	return out
}

// Total is the number of exposures added
func (a *Accumulator) Total() int64 { return a.total }

// Valid is the number of exposures without violations
func (a *Accumulator) Valid() int64 { return a.valid }

// Invalid is the number of exposures with at least one violation
func (a *Accumulator) Invalid() int64 { return a.invalid }

// Aggregate tallies a full result set in one pass
func Aggregate(results []contracts.ExposureResult, batchErrors []contracts.ValidationError) Tallies {
	acc := NewAccumulator()
	for i := range results {
		acc.Add(&results[i])
	}
	for _, e := range batchErrors {
		acc.AddBatchFinding(e)
	}
	return acc.Tallies()
}
