package contracts

import "time"

// ErrorKind separates business violations from system problems
type ErrorKind string

const (
	// KindViolation is a failed rule for one exposure
	KindViolation ErrorKind = "VIOLATION"
	// KindStructural is a record that is unusable for rule evaluation
	KindStructural ErrorKind = "STRUCTURAL"
	// KindEvaluationError is a rule that could not be evaluated (authoring defect)
	KindEvaluationError ErrorKind = "EVALUATION_ERROR"
	// KindBatchFinding is a batch-level summary not tied to one exposure
	KindBatchFinding ErrorKind = "BATCH_FINDING"
)

// Structural error codes
const (
	CodeMissingExposureID = "STRUCTURAL_MISSING_EXPOSURE_ID"
	CodeNegativeAmount    = "STRUCTURAL_NEGATIVE_AMOUNT"
)

// ValidationError is one finding produced while validating a batch
type ValidationError struct {
	ExposureID string    `json:"exposure_id,omitempty"`
	Dimension  Dimension `json:"dimension"`
	RuleCode   string    `json:"rule_code"`
	Message    string    `json:"message"`
	FieldName  string    `json:"field_name,omitempty"`
	Severity   Severity  `json:"severity"`
	Kind       ErrorKind `json:"kind"`
}

// CountsAgainstQuality reports whether the error lowers the dimension score
func (e ValidationError) CountsAgainstQuality() bool {
	return e.Kind == KindViolation || e.Kind == KindStructural
}

// RuleViolation is the persisted form of a ValidationError
type RuleViolation struct {
	BatchID     string    `json:"batch_id"`
	ExecutionID *string   `json:"execution_id,omitempty"`
	RuleID      string    `json:"rule_id"`
	RuleCode    string    `json:"rule_code"`
	ExposureID  string    `json:"exposure_id"`
	Dimension   Dimension `json:"dimension"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	FieldName   string    `json:"field_name,omitempty"`
	DetectedAt  time.Time `json:"detected_at"`
}

// ExposureResult is the outcome for one input record, kept in input order
type ExposureResult struct {
	Index        int               `json:"index"`
	ExposureID   string            `json:"exposure_id"`
	Valid        bool              `json:"is_valid"`
	Structural   bool              `json:"structural,omitempty"`
	Errors       []ValidationError `json:"errors"`
	NotEvaluated []string          `json:"not_evaluated,omitempty"`
}

// RuleExecutionCount counts per-rule outcomes over a batch
type RuleExecutionCount struct {
	Passed  int64 `json:"passed"`
	Failed  int64 `json:"failed"`
	Errored int64 `json:"errored"`
	Skipped int64 `json:"skipped"`
}

// Add folds another count into c
func (c *RuleExecutionCount) Add(o RuleExecutionCount) {
	c.Passed += o.Passed
	c.Failed += o.Failed
	c.Errored += o.Errored
	c.Skipped += o.Skipped
}

// ExecutionStats are batch-scoped counters.
// Elapsed is audit data and not part of any scoring.
type ExecutionStats struct {
	RulesApplied       int                            `json:"rules_applied"`
	RulesSkipped       int                            `json:"rules_skipped"`
	RulesEvaluated     int64                          `json:"rules_evaluated"`
	ViolationsFound    int64                          `json:"violations_found"`
	EvaluationErrors   int64                          `json:"evaluation_errors"`
	StructuralErrors   int64                          `json:"structural_errors"`
	ExemptionsApplied  int64                          `json:"exemptions_applied"`
	ExposuresProcessed int64                          `json:"exposures_processed"`
	PerRule            map[string]*RuleExecutionCount `json:"per_rule"`
	Elapsed            time.Duration                  `json:"elapsed"`
}

// Merge adds the counters of o into s. Rule window counts are batch constants and are not summed.
func (s *ExecutionStats) Merge(o ExecutionStats) {
	s.RulesEvaluated += o.RulesEvaluated
	s.ViolationsFound += o.ViolationsFound
	s.EvaluationErrors += o.EvaluationErrors
	s.StructuralErrors += o.StructuralErrors
	s.ExemptionsApplied += o.ExemptionsApplied
	s.ExposuresProcessed += o.ExposuresProcessed
	if s.PerRule == nil {
		s.PerRule = make(map[string]*RuleExecutionCount, len(o.PerRule))
	}
	for code, c := range o.PerRule {
		if cur, ok := s.PerRule[code]; ok {
			cur.Add(*c)
			continue
		}
		cp := *c
		s.PerRule[code] = &cp
	}
}

// Grade is the letter mapping of an overall score
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// DimensionShortfall is a dimension scoring under the bank minimum
type DimensionShortfall struct {
	Dimension Dimension `json:"dimension"`
	Score     float64   `json:"score"`
	Minimum   float64   `json:"minimum"`
}

// ComplianceVerdict explains the compliant flag
type ComplianceVerdict struct {
	Compliant          bool                 `json:"compliant"`
	Cutoff             float64              `json:"cutoff"`
	OverallBelowCutoff bool                 `json:"overall_below_cutoff"`
	FailingDimensions  []DimensionShortfall `json:"failing_dimensions,omitempty"`
	ThresholdSource    string               `json:"threshold_source"`
}

// QualityScores are derived once per batch and never mutated
type QualityScores struct {
	Completeness float64           `json:"completeness"`
	Accuracy     float64           `json:"accuracy"`
	Consistency  float64           `json:"consistency"`
	Timeliness   float64           `json:"timeliness"`
	Uniqueness   float64           `json:"uniqueness"`
	Validity     float64           `json:"validity"`
	Overall      float64           `json:"overall_score"`
	Grade        Grade             `json:"grade"`
	Compliance   ComplianceVerdict `json:"compliance"`
}

// ByDimension returns the per-dimension scores as a map
func (q QualityScores) ByDimension() map[Dimension]float64 {
	return map[Dimension]float64{
		DimensionCompleteness: q.Completeness,
		DimensionAccuracy:     q.Accuracy,
		DimensionConsistency:  q.Consistency,
		DimensionTimeliness:   q.Timeliness,
		DimensionUniqueness:   q.Uniqueness,
		DimensionValidity:     q.Validity,
	}
}

// ValidationResult is the assembled, batch-scoped outcome handed to collaborators
type ValidationResult struct {
	BatchID          string                `json:"batch_id"`
	BankID           string                `json:"bank_id"`
	ExposureResults  []ExposureResult      `json:"exposure_results"`
	BatchErrors      []ValidationError     `json:"batch_errors"`
	DimensionScores  map[Dimension]float64 `json:"dimension_scores"`
	ErrorCounts      map[Dimension]int     `json:"error_counts"`
	TotalExposures   int                   `json:"total_exposures"`
	ValidExposures   int                   `json:"valid_exposures"`
	InvalidExposures int                   `json:"invalid_exposures"`
	Scores           QualityScores         `json:"scores"`
	RuleSnapshotHash string                `json:"rule_snapshot_hash"`
}

// TotalErrors counts every error attached to exposures plus batch findings
func (r *ValidationResult) TotalErrors() int {
	n := len(r.BatchErrors)
	for i := range r.ExposureResults {
		n += len(r.ExposureResults[i].Errors)
	}
	return n
}

// ResultFor looks up exposure results by id; duplicates return every match
func (r *ValidationResult) ResultFor(exposureID string) []ExposureResult {
	var out []ExposureResult
	for _, er := range r.ExposureResults {
		if er.ExposureID == exposureID {
			out = append(out, er)
		}
	}
	return out
}

// QualityThreshold is the active per-bank threshold row
type QualityThreshold struct {
	BankID                  string    `json:"bank_id"`
	CompletenessMinPercent  float64   `json:"completeness_min_percent"`
	AccuracyMaxErrorPercent float64   `json:"accuracy_max_error_percent"`
	TimelinessDays          int       `json:"timeliness_days"`
	ConsistencyPercent      float64   `json:"consistency_percent"`
	ComplianceCutoff        float64   `json:"compliance_cutoff"`
	Version                 int       `json:"version"`
	EffectiveFrom           time.Time `json:"effective_from"`
	Active                  bool      `json:"active"`
	Source                  string    `json:"source"`
}

// Threshold sources
const (
	ThresholdSourceConfigured = "configured"
	ThresholdSourceDefault    = "default"
)

// DefaultThreshold returns the documented system defaults for a bank
// without a configured threshold.
func DefaultThreshold(bankID string) QualityThreshold {
	return QualityThreshold{
		BankID:                  bankID,
		CompletenessMinPercent:  95.0,
		AccuracyMaxErrorPercent: 5.0,
		TimelinessDays:          7,
		ConsistencyPercent:      98.0,
		ComplianceCutoff:        70.0,
		Active:                  true,
		Source:                  ThresholdSourceDefault,
	}
}
