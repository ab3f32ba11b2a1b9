package threshold

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// Repository stores versioned thresholds in PostgreSQL
// ⭐ SSOT: dq.quality_thresholds
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new threshold repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const thresholdColumns = `
	bank_id, version, completeness_min_percent, accuracy_max_error_percent,
	timeliness_days, consistency_percent, compliance_cutoff, effective_from, active
`

func scanThreshold(row pgx.Row) (contracts.QualityThreshold, error) {
	var th contracts.QualityThreshold
	err := row.Scan(
		&th.BankID, &th.Version, &th.CompletenessMinPercent, &th.AccuracyMaxErrorPercent,
		&th.TimelinessDays, &th.ConsistencyPercent, &th.ComplianceCutoff, &th.EffectiveFrom, &th.Active,
	)
	return th, err
}

// Active returns the latest active version for a bank
func (r *Repository) Active(ctx context.Context, bankID string) (contracts.QualityThreshold, error) {
	query := `SELECT ` + thresholdColumns + `
		FROM dq.quality_thresholds
		WHERE bank_id = $1 AND active = TRUE
		ORDER BY version DESC
		LIMIT 1
	`

	th, err := scanThreshold(r.pool.QueryRow(ctx, query, bankID))
	if errors.Is(err, pgx.ErrNoRows) {
		return contracts.QualityThreshold{}, contracts.ErrNotFound
	}
	if err != nil {
		return contracts.QualityThreshold{}, fmt.Errorf("query threshold: %w", err)
	}
	th.Source = contracts.ThresholdSourceConfigured
	return th, nil
}

// Save deactivates the current version and inserts the next one in one transaction.
// Old versions are kept for audit.
func (r *Repository) Save(ctx context.Context, th contracts.QualityThreshold) (contracts.QualityThreshold, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return contracts.QualityThreshold{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 같은 은행의 동시 저장 직렬화
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, th.BankID); err != nil {
		return contracts.QualityThreshold{}, fmt.Errorf("lock bank thresholds: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE dq.quality_thresholds SET active = FALSE
		WHERE bank_id = $1 AND active = TRUE
	`, th.BankID); err != nil {
		return contracts.QualityThreshold{}, fmt.Errorf("deactivate threshold: %w", err)
	}

	query := `
		INSERT INTO dq.quality_thresholds (
			bank_id, version, completeness_min_percent, accuracy_max_error_percent,
			timeliness_days, consistency_percent, compliance_cutoff, effective_from, active
		)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, $5, $6, NOW(), TRUE
		FROM dq.quality_thresholds
		WHERE bank_id = $1
		RETURNING ` + thresholdColumns

	saved, err := scanThreshold(tx.QueryRow(ctx, query,
		th.BankID, th.CompletenessMinPercent, th.AccuracyMaxErrorPercent,
		th.TimelinessDays, th.ConsistencyPercent, th.ComplianceCutoff,
	))
	if err != nil {
		return contracts.QualityThreshold{}, fmt.Errorf("insert threshold: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return contracts.QualityThreshold{}, fmt.Errorf("commit threshold: %w", err)
	}
	saved.Source = contracts.ThresholdSourceConfigured
	return saved, nil
}

// History returns every version for a bank, newest first
func (r *Repository) History(ctx context.Context, bankID string) ([]contracts.QualityThreshold, error) {
	query := `SELECT ` + thresholdColumns + `
		FROM dq.quality_thresholds
		WHERE bank_id = $1
		ORDER BY version DESC
	`

	rows, err := r.pool.Query(ctx, query, bankID)
	if err != nil {
		return nil, fmt.Errorf("query threshold history: %w", err)
	}
	defer rows.Close()

	var out []contracts.QualityThreshold
	for rows.Next() {
		th, err := scanThreshold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		th.Source = contracts.ThresholdSourceConfigured
		out = append(out, th)
	}
	return out, rows.Err()
}
