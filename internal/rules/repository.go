package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cast"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// Repository reads and writes the rule catalog in PostgreSQL
// ⭐ SSOT: dq.business_rules / rule_parameters / rule_exemptions
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new rule repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadRules returns every stored rule with its parameters and exemptions
func (r *Repository) LoadRules(ctx context.Context) ([]contracts.BusinessRule, error) {
	query := `
		SELECT
			rule_id, rule_code, name, description, dimension, severity,
			expression, batch_check, execution_order, effective_date,
			expiration_date, enabled, field_name, error_message, version
		FROM dq.business_rules
		ORDER BY execution_order, rule_code
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []contracts.BusinessRule
	index := make(map[string]int)
	for rows.Next() {
		var br contracts.BusinessRule
		var dimension, severity string
		if err := rows.Scan(
			&br.RuleID, &br.RuleCode, &br.Name, &br.Description, &dimension, &severity,
			&br.Expression, &br.BatchCheck, &br.ExecutionOrder, &br.EffectiveDate,
			&br.ExpirationDate, &br.Enabled, &br.FieldName, &br.ErrorMessage, &br.Version,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		br.Dimension = contracts.Dimension(dimension)
		br.Severity = contracts.Severity(severity)
		index[br.RuleID] = len(rules)
		rules = append(rules, br)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	if err := r.loadParameters(ctx, rules, index); err != nil {
		return nil, err
	}
	if err := r.loadExemptions(ctx, rules, index); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *Repository) loadParameters(ctx context.Context, rules []contracts.BusinessRule, index map[string]int) error {
	query := `
		SELECT rule_id, name, param_type, value, unit, min_value, max_value
		FROM dq.rule_parameters
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query rule parameters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ruleID, paramType, value string
		var p contracts.RuleParameter
		if err := rows.Scan(&ruleID, &p.Name, &paramType, &value, &p.Unit, &p.Min, &p.Max); err != nil {
			return fmt.Errorf("scan rule parameter: %w", err)
		}
		i, ok := index[ruleID]
		if !ok {
			continue
		}
		p.Type = contracts.ParameterType(paramType)
		p.Value = value
		if rules[i].Parameters == nil {
			rules[i].Parameters = make(map[string]contracts.RuleParameter)
		}
		rules[i].Parameters[p.Name] = p
	}
	return rows.Err()
}

func (r *Repository) loadExemptions(ctx context.Context, rules []contracts.BusinessRule, index map[string]int) error {
	query := `
		SELECT rule_id, entity_type, entity_id, valid_from, valid_to, reason
		FROM dq.rule_exemptions
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query rule exemptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ruleID string
		var x contracts.RuleExemption
		if err := rows.Scan(&ruleID, &x.EntityType, &x.EntityID, &x.ValidFrom, &x.ValidTo, &x.Reason); err != nil {
			return fmt.Errorf("scan rule exemption: %w", err)
		}
		if i, ok := index[ruleID]; ok {
			rules[i].Exemptions = append(rules[i].Exemptions, x)
		}
	}
	return rows.Err()
}

// SaveRules upserts rules and replaces their parameters and exemptions in one transaction
func (r *Repository) SaveRules(ctx context.Context, rules []contracts.BusinessRule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, br := range rules {
		if err := saveRule(ctx, tx, br); err != nil {
			return fmt.Errorf("save rule %s: %w", br.RuleCode, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rules: %w", err)
	}
	return nil
}

func saveRule(ctx context.Context, tx pgx.Tx, br contracts.BusinessRule) error {
	query := `
		INSERT INTO dq.business_rules (
			rule_id, rule_code, name, description, dimension, severity,
			expression, batch_check, execution_order, effective_date,
			expiration_date, enabled, field_name, error_message, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (rule_id) DO UPDATE SET
			rule_code = EXCLUDED.rule_code,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			dimension = EXCLUDED.dimension,
			severity = EXCLUDED.severity,
			expression = EXCLUDED.expression,
			batch_check = EXCLUDED.batch_check,
			execution_order = EXCLUDED.execution_order,
			effective_date = EXCLUDED.effective_date,
			expiration_date = EXCLUDED.expiration_date,
			enabled = EXCLUDED.enabled,
			field_name = EXCLUDED.field_name,
			error_message = EXCLUDED.error_message,
			version = EXCLUDED.version,
			updated_at = NOW()
	`

	var expiration *time.Time
	if br.ExpirationDate != nil {
		t := *br.ExpirationDate
		expiration = &t
	}

	if _, err := tx.Exec(ctx, query,
		br.RuleID, br.RuleCode, br.Name, br.Description, string(br.Dimension), string(br.Severity),
		br.Expression, br.BatchCheck, br.ExecutionOrder, br.EffectiveDate,
		expiration, br.Enabled, br.FieldName, br.ErrorMessage, br.Version,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM dq.rule_parameters WHERE rule_id = $1`, br.RuleID); err != nil {
		return err
	}
	for _, name := range sortedParamNames(br.Parameters) {
		p := br.Parameters[name]
		value, err := parameterText(p.Value)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO dq.rule_parameters (rule_id, name, param_type, value, unit, min_value, max_value)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, br.RuleID, name, string(p.Type), value, p.Unit, p.Min, p.Max); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM dq.rule_exemptions WHERE rule_id = $1`, br.RuleID); err != nil {
		return err
	}
	for _, x := range br.Exemptions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO dq.rule_exemptions (rule_id, entity_type, entity_id, valid_from, valid_to, reason)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, br.RuleID, x.EntityType, x.EntityID, x.ValidFrom, x.ValidTo, x.Reason); err != nil {
			return err
		}
	}
	return nil
}

// parameterText flattens a raw parameter value to its stored text form; lists are comma-joined
func parameterText(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []string:
		return strings.Join(v, ","), nil
	case []interface{}:
		items, err := cast.ToStringSliceE(v)
		if err != nil {
			return "", err
		}
		return strings.Join(items, ","), nil
	}
	return cast.ToStringE(raw)
}
