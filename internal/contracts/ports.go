package contracts

import (
	"context"
	"time"
)

// ⭐ SSOT: collaborator interfaces consumed by the quality engine are defined here

// RuleSource loads every stored rule version; window filtering happens in the catalog
type RuleSource interface {
	LoadRules(ctx context.Context) ([]BusinessRule, error)
}

// ThresholdProvider supplies the active per-bank thresholds
type ThresholdProvider interface {
	ThresholdsFor(ctx context.Context, bankID string) (QualityThreshold, error)
}

// DetailStore writes full per-exposure detail to cold storage and returns a reference
type DetailStore interface {
	StoreDetails(ctx context.Context, result *ValidationResult) (string, error)
}

// EventPublisher hands batch outcomes to other modules
type EventPublisher interface {
	PublishCompleted(ctx context.Context, event BatchQualityCompleted) error
	PublishFailed(ctx context.Context, event BatchQualityFailed) error
	Close() error
}

// ReportStatus is the lifecycle state of a quality report
type ReportStatus string

const (
	ReportInProgress ReportStatus = "IN_PROGRESS"
	ReportCompleted  ReportStatus = "COMPLETED"
	ReportFailed     ReportStatus = "FAILED"
)

// IsTerminal reports whether the batch must not be processed again
func (s ReportStatus) IsTerminal() bool {
	return s == ReportCompleted || s == ReportFailed
}

// QualityReport is the relational summary of one batch
type QualityReport struct {
	BatchID          string                `json:"batch_id"`
	BankID           string                `json:"bank_id"`
	Status           ReportStatus          `json:"status"`
	TotalExposures   int                   `json:"total_exposures"`
	ValidExposures   int                   `json:"valid_exposures"`
	TotalErrors      int                   `json:"total_errors"`
	Scores           *QualityScores        `json:"scores,omitempty"`
	ErrorCounts      map[Dimension]int     `json:"error_counts,omitempty"`
	DetailsReference string                `json:"details_reference,omitempty"`
	RuleSnapshotHash string                `json:"rule_snapshot_hash,omitempty"`
	ErrorMessage     string                `json:"error_message,omitempty"`
	DimensionScores  map[Dimension]float64 `json:"dimension_scores,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// RuleExecutionLog is one row per rule per batch
type RuleExecutionLog struct {
	ExecutionID string             `json:"execution_id"`
	BatchID     string             `json:"batch_id"`
	RuleID      string             `json:"rule_id"`
	RuleCode    string             `json:"rule_code"`
	Counts      RuleExecutionCount `json:"counts"`
	ExecutedAt  time.Time          `json:"executed_at"`
}

// ReportRepository persists batch summaries
type ReportRepository interface {
	GetReport(ctx context.Context, batchID string) (*QualityReport, error)
	StartReport(ctx context.Context, batchID, bankID string) error
	CompleteReport(ctx context.Context, report *QualityReport) error
	FailReport(ctx context.Context, batchID, message string) error
	ListStale(ctx context.Context, olderThan time.Time) ([]string, error)
	// ListByBank returns COMPLETED reports created in [from, to), newest first
	ListByBank(ctx context.Context, bankID string, from, to time.Time, limit int) ([]QualityReport, error)
}

// ViolationWriter persists execution log rows and violations
type ViolationWriter interface {
	SaveExecutionLogs(ctx context.Context, logs []RuleExecutionLog) error
	SaveViolations(ctx context.Context, violations []RuleViolation) error
}
