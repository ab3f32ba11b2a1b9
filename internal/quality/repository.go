package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// Repository stores reports, execution logs and violations in PostgreSQL
// ⭐ SSOT: dq.quality_reports, dq.rule_execution_log, dq.rule_violations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new quality repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const reportColumns = `
	batch_id, bank_id, status, total_exposures, valid_exposures, total_errors,
	scores, dimension_scores, error_counts, details_reference, rule_snapshot_hash,
	error_message, created_at, updated_at`

// GetReport returns ErrNotFound when the batch has never been seen
func (r *Repository) GetReport(ctx context.Context, batchID string) (*contracts.QualityReport, error) {
	query := `SELECT` + reportColumns + `
		FROM dq.quality_reports
		WHERE batch_id = $1
	`

	rep, err := scanReport(r.pool.QueryRow(ctx, query, batchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	return rep, nil
}

// ListByBank returns the bank's COMPLETED reports created in [from, to), newest first.
// A zero from or to leaves that side open.
func (r *Repository) ListByBank(ctx context.Context, bankID string, from, to time.Time, limit int) ([]contracts.QualityReport, error) {
	if limit <= 0 {
		limit = DefaultTrendLimit
	}
	query := `SELECT` + reportColumns + `
		FROM dq.quality_reports
		WHERE bank_id = $1
		  AND status = $2
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC, batch_id
		LIMIT $5
	`

	rows, err := r.pool.Query(ctx, query, bankID, string(contracts.ReportCompleted), optionalTime(from), optionalTime(to), limit)
	if err != nil {
		return nil, fmt.Errorf("query bank reports: %w", err)
	}
	defer rows.Close()

	var out []contracts.QualityReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bank report: %w", err)
		}
		out = append(out, *rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bank reports: %w", err)
	}
	return out, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanReport(row pgx.Row) (*contracts.QualityReport, error) {
	var (
		rep                                   contracts.QualityReport
		status                                string
		scoresJSON, dimensionJSON, errorsJSON []byte
	)
	if err := row.Scan(
		&rep.BatchID, &rep.BankID, &status, &rep.TotalExposures, &rep.ValidExposures, &rep.TotalErrors,
		&scoresJSON, &dimensionJSON, &errorsJSON, &rep.DetailsReference, &rep.RuleSnapshotHash,
		&rep.ErrorMessage, &rep.CreatedAt, &rep.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rep.Status = contracts.ReportStatus(status)

	if len(scoresJSON) > 0 && string(scoresJSON) != "null" {
		rep.Scores = &contracts.QualityScores{}
		if err := json.Unmarshal(scoresJSON, rep.Scores); err != nil {
			return nil, fmt.Errorf("decode scores: %w", err)
		}
	}
	if len(dimensionJSON) > 0 {
		if err := json.Unmarshal(dimensionJSON, &rep.DimensionScores); err != nil {
			return nil, fmt.Errorf("decode dimension scores: %w", err)
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &rep.ErrorCounts); err != nil {
			return nil, fmt.Errorf("decode error counts: %w", err)
		}
	}
	return &rep, nil
}

// StartReport creates the report or resets a stale IN_PROGRESS one
func (r *Repository) StartReport(ctx context.Context, batchID, bankID string) error {
	query := `
		INSERT INTO dq.quality_reports (batch_id, bank_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (batch_id) DO UPDATE SET
			bank_id = EXCLUDED.bank_id,
			status = EXCLUDED.status,
			error_message = '',
			updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, batchID, bankID, string(contracts.ReportInProgress)); err != nil {
		return fmt.Errorf("start report: %w", err)
	}
	return nil
}

// CompleteReport stores the summary and marks the batch COMPLETED
func (r *Repository) CompleteReport(ctx context.Context, report *contracts.QualityReport) error {
	scoresJSON, err := json.Marshal(report.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	dimensionJSON, err := json.Marshal(report.DimensionScores)
	if err != nil {
		return fmt.Errorf("marshal dimension scores: %w", err)
	}
	errorsJSON, err := json.Marshal(report.ErrorCounts)
	if err != nil {
		return fmt.Errorf("marshal error counts: %w", err)
	}

	query := `
		UPDATE dq.quality_reports SET
			status = $2,
			total_exposures = $3,
			valid_exposures = $4,
			total_errors = $5,
			scores = $6,
			dimension_scores = $7,
			error_counts = $8,
			details_reference = $9,
			rule_snapshot_hash = $10,
			error_message = '',
			updated_at = NOW()
		WHERE batch_id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		report.BatchID, string(contracts.ReportCompleted),
		report.TotalExposures, report.ValidExposures, report.TotalErrors,
		scoresJSON, dimensionJSON, errorsJSON,
		report.DetailsReference, report.RuleSnapshotHash,
	)
	if err != nil {
		return fmt.Errorf("complete report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return contracts.ErrNotFound
	}
	return nil
}

// FailReport marks the batch FAILED with a message
func (r *Repository) FailReport(ctx context.Context, batchID, message string) error {
	query := `
		UPDATE dq.quality_reports
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE batch_id = $1
	`
	tag, err := r.pool.Exec(ctx, query, batchID, string(contracts.ReportFailed), message)
	if err != nil {
		return fmt.Errorf("fail report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return contracts.ErrNotFound
	}
	return nil
}

// ListStale returns IN_PROGRESS batches not touched since olderThan, oldest first
func (r *Repository) ListStale(ctx context.Context, olderThan time.Time) ([]string, error) {
	query := `
		SELECT batch_id
		FROM dq.quality_reports
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
	`
	rows, err := r.pool.Query(ctx, query, string(contracts.ReportInProgress), olderThan)
	if err != nil {
		return nil, fmt.Errorf("query stale reports: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan stale reports: %w", err)
	}
	return ids, nil
}

// SaveExecutionLogs 실행 로그 일괄 저장
func (r *Repository) SaveExecutionLogs(ctx context.Context, logs []contracts.RuleExecutionLog) error {
	if len(logs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO dq.rule_execution_log
			(execution_id, batch_id, rule_id, rule_code, passed, failed, errored, skipped, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, l := range logs {
		batch.Queue(query, l.ExecutionID, l.BatchID, l.RuleID, l.RuleCode,
			l.Counts.Passed, l.Counts.Failed, l.Counts.Errored, l.Counts.Skipped, l.ExecutedAt)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range logs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert execution log: %w", err)
		}
	}
	return nil
}

var violationColumns = []string{
	"batch_id", "execution_id", "rule_id", "rule_code", "exposure_id",
	"dimension", "severity", "message", "field_name", "detected_at",
}

// SaveViolations bulk-loads violations with COPY
func (r *Repository) SaveViolations(ctx context.Context, violations []contracts.RuleViolation) error {
	if len(violations) == 0 {
		return nil
	}

	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"dq", "rule_violations"},
		violationColumns,
		pgx.CopyFromSlice(len(violations), func(i int) ([]any, error) {
			v := violations[i]
			return []any{
				v.BatchID, v.ExecutionID, v.RuleID, v.RuleCode, v.ExposureID,
				string(v.Dimension), string(v.Severity), v.Message, v.FieldName, v.DetectedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy violations: %w", err)
	}
	if int(n) != len(violations) {
		return fmt.Errorf("copy violations: wrote %d of %d rows", n, len(violations))
	}
	return nil
}

// ViolationsFor reads the persisted violations of a batch in insertion order
func (r *Repository) ViolationsFor(ctx context.Context, batchID string) ([]contracts.RuleViolation, error) {
	query := `
		SELECT batch_id, execution_id, rule_id, rule_code, exposure_id,
			   dimension, severity, message, field_name, detected_at
		FROM dq.rule_violations
		WHERE batch_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var out []contracts.RuleViolation
	for rows.Next() {
		var (
			v                   contracts.RuleViolation
			dimension, severity string
		)
		if err := rows.Scan(&v.BatchID, &v.ExecutionID, &v.RuleID, &v.RuleCode, &v.ExposureID,
			&dimension, &severity, &v.Message, &v.FieldName, &v.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Dimension = contracts.Dimension(dimension)
		v.Severity = contracts.Severity(severity)
		out = append(out, v)
	}
	return out, rows.Err()
}
