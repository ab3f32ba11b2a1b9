package database

import (
	"context"
	"fmt"
)

// schemaTables are the tables HealthCheck expects after Migrate
var schemaTables = []string{
	"dq.business_rules",
	"dq.rule_parameters",
	"dq.rule_exemptions",
	"dq.quality_thresholds",
	"dq.quality_reports",
	"dq.rule_execution_log",
	"dq.rule_violations",
}

// schemaStatements create the dq schema. Every statement is idempotent.
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS dq`,

	`CREATE TABLE IF NOT EXISTS dq.business_rules (
		rule_id          TEXT PRIMARY KEY,
		rule_code        TEXT NOT NULL,
		name             TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		dimension        TEXT NOT NULL,
		severity         TEXT NOT NULL,
		expression       TEXT NOT NULL DEFAULT '',
		batch_check      TEXT NOT NULL DEFAULT '',
		execution_order  INTEGER NOT NULL DEFAULT 0,
		effective_date   DATE NOT NULL,
		expiration_date  DATE,
		enabled          BOOLEAN NOT NULL DEFAULT TRUE,
		field_name       TEXT NOT NULL DEFAULT '',
		error_message    TEXT NOT NULL DEFAULT '',
		version          INTEGER NOT NULL DEFAULT 1,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS dq.rule_parameters (
		rule_id    TEXT NOT NULL REFERENCES dq.business_rules(rule_id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		param_type TEXT NOT NULL,
		value      TEXT NOT NULL,
		unit       TEXT NOT NULL DEFAULT '',
		min_value  DOUBLE PRECISION,
		max_value  DOUBLE PRECISION,
		PRIMARY KEY (rule_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS dq.rule_exemptions (
		id          BIGSERIAL PRIMARY KEY,
		rule_id     TEXT NOT NULL REFERENCES dq.business_rules(rule_id) ON DELETE CASCADE,
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		valid_from  DATE NOT NULL,
		valid_to    DATE,
		reason      TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS dq.quality_thresholds (
		bank_id                    TEXT NOT NULL,
		version                    INTEGER NOT NULL,
		completeness_min_percent   DOUBLE PRECISION NOT NULL,
		accuracy_max_error_percent DOUBLE PRECISION NOT NULL,
		timeliness_days            INTEGER NOT NULL,
		consistency_percent        DOUBLE PRECISION NOT NULL,
		compliance_cutoff          DOUBLE PRECISION NOT NULL DEFAULT 70,
		effective_from             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		active                     BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (bank_id, version)
	)`,

	`CREATE TABLE IF NOT EXISTS dq.quality_reports (
		batch_id           TEXT PRIMARY KEY,
		bank_id            TEXT NOT NULL,
		status             TEXT NOT NULL,
		total_exposures    INTEGER NOT NULL DEFAULT 0,
		valid_exposures    INTEGER NOT NULL DEFAULT 0,
		total_errors       INTEGER NOT NULL DEFAULT 0,
		scores             JSONB,
		dimension_scores   JSONB,
		error_counts       JSONB,
		details_reference  TEXT NOT NULL DEFAULT '',
		rule_snapshot_hash TEXT NOT NULL DEFAULT '',
		error_message      TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS dq.rule_execution_log (
		execution_id TEXT PRIMARY KEY,
		batch_id     TEXT NOT NULL,
		rule_id      TEXT NOT NULL,
		rule_code    TEXT NOT NULL,
		passed       BIGINT NOT NULL,
		failed       BIGINT NOT NULL,
		errored      BIGINT NOT NULL,
		skipped      BIGINT NOT NULL,
		executed_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS dq.rule_violations (
		id           BIGSERIAL PRIMARY KEY,
		batch_id     TEXT NOT NULL,
		execution_id TEXT,
		rule_id      TEXT NOT NULL,
		rule_code    TEXT NOT NULL,
		exposure_id  TEXT NOT NULL,
		dimension    TEXT NOT NULL,
		severity     TEXT NOT NULL,
		message      TEXT NOT NULL,
		field_name   TEXT NOT NULL DEFAULT '',
		detected_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_rule_violations_batch ON dq.rule_violations (batch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_quality_reports_status ON dq.quality_reports (status, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_quality_reports_bank ON dq.quality_reports (bank_id, created_at DESC)`,
}

// Migrate creates the dq schema and tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
