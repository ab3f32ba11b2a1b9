package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/predicate"
	"github.com/wonny/regtech-dq/pkg/config"
	"github.com/wonny/regtech-dq/pkg/logger"
	"github.com/wonny/regtech-dq/pkg/redis"
)

var asOf = contracts.NewDate(2024, time.March, 31)

func TestResolveParameter(t *testing.T) {
	compiler := predicate.NewCompiler(NewRegistry())

	tests := []struct {
		name    string
		param   contracts.RuleParameter
		wantErr bool
		check   func(t *testing.T, v predicate.Value)
	}{
		{
			name:  "numeric from string",
			param: contracts.RuleParameter{Name: "max", Type: contracts.ParamNumeric, Value: "10000000000"},
			check: func(t *testing.T, v predicate.Value) {
				n, ok := v.AsNumber()
				require.True(t, ok)
				assert.True(t, n.Equal(decimal.NewFromInt(10_000_000_000)))
			},
		},
		{
			name:  "numeric from float",
			param: contracts.RuleParameter{Name: "max", Type: contracts.ParamThreshold, Value: 1.5},
			check: func(t *testing.T, v predicate.Value) {
				n, _ := v.AsNumber()
				assert.Equal(t, "1.5", n.String())
			},
		},
		{
			name:    "numeric below minimum",
			param:   contracts.RuleParameter{Name: "days", Type: contracts.ParamNumeric, Value: -1, Min: floatPtr(0)},
			wantErr: true,
		},
		{
			name:    "numeric above maximum",
			param:   contracts.RuleParameter{Name: "days", Type: contracts.ParamNumeric, Value: 400, Max: floatPtr(365)},
			wantErr: true,
		},
		{
			name:    "not a number",
			param:   contracts.RuleParameter{Name: "days", Type: contracts.ParamNumeric, Value: "ninety"},
			wantErr: true,
		},
		{
			name:    "percentage out of range",
			param:   contracts.RuleParameter{Name: "pct", Type: contracts.ParamPercentage, Value: 101},
			wantErr: true,
		},
		{
			name:  "list from comma string",
			param: contracts.RuleParameter{Name: "ccy", Type: contracts.ParamList, Value: " USD, EUR ,,GBP"},
			check: func(t *testing.T, v predicate.Value) {
				assert.Equal(t, 3, v.Len())
				assert.True(t, v.Contains(predicate.String("EUR")))
			},
		},
		{
			name:  "list from yaml sequence",
			param: contracts.RuleParameter{Name: "ccy", Type: contracts.ParamList, Value: []interface{}{"USD", "JPY"}},
			check: func(t *testing.T, v predicate.Value) {
				assert.Equal(t, 2, v.Len())
			},
		},
		{
			name:    "empty list",
			param:   contracts.RuleParameter{Name: "ccy", Type: contracts.ParamList, Value: " , "},
			wantErr: true,
		},
		{
			name:  "condition compiles",
			param: contracts.RuleParameter{Name: "cond", Type: contracts.ParamCondition, Value: "amount > 0"},
		},
		{
			name:    "formula does not compile",
			param:   contracts.RuleParameter{Name: "f", Type: contracts.ParamFormula, Value: "amount >"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			param:   contracts.RuleParameter{Name: "x", Type: "BLOB", Value: "1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ResolveParameter(tt.param, compiler)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, v)
			}
		})
	}
}

func TestReferenceFunctions(t *testing.T) {
	compiler := predicate.NewCompiler(NewRegistry())
	builder := predicate.NewContextBuilder(asOf)

	tests := []struct {
		name     string
		exposure contracts.ExposureRecord
		expr     string
		want     predicate.Status
	}{
		{"eurozone", contracts.ExposureRecord{Currency: "EUR", CountryCode: "DE"}, "currencyMatchesCountry(currency, country)", predicate.StatusPass},
		{"lowercase codes", contracts.ExposureRecord{Currency: "usd", CountryCode: "us"}, "currencyMatchesCountry(currency, country)", predicate.StatusPass},
		{"mismatch", contracts.ExposureRecord{Currency: "USD", CountryCode: "DE"}, "currencyMatchesCountry(currency, country)", predicate.StatusViolation},
		{"unknown currency passes", contracts.ExposureRecord{Currency: "XAU", CountryCode: "DE"}, "currencyMatchesCountry(currency, country)", predicate.StatusPass},
		{"absent side passes", contracts.ExposureRecord{Currency: "USD"}, "currencyMatchesCountry(currency, country)", predicate.StatusPass},
		{"corporate subsector", contracts.ExposureRecord{Sector: "CORPORATE_SERVICES", CounterpartyType: "COMPANY"}, "sectorMatchesCounterparty(sector, counterpartyType)", predicate.StatusPass},
		{"banking mismatch", contracts.ExposureRecord{Sector: "BANKING", CounterpartyType: "INDIVIDUAL"}, "sectorMatchesCounterparty(sector, counterpartyType)", predicate.StatusViolation},
		{"rating modifier stripped", contracts.ExposureRecord{InternalRating: "BBB+", RiskCategory: "MEDIUM_RISK"}, "ratingMatchesRiskCategory(internalRating, riskCategory)", predicate.StatusPass},
		{"rating mismatch", contracts.ExposureRecord{InternalRating: "AAA", RiskCategory: "HIGH_RISK"}, "ratingMatchesRiskCategory(internalRating, riskCategory)", predicate.StatusViolation},
		{"loan needs maturity", contracts.ExposureRecord{ProductType: "loan"}, "maturityDate is not null or not maturityRequired(productType)", predicate.StatusViolation},
		{"equity has no maturity", contracts.ExposureRecord{ProductType: "EQUITY"}, "maturityDate is not null or not maturityRequired(productType)", predicate.StatusPass},
		{"maturity forbidden", contracts.ExposureRecord{ProductType: "EQUITY", MaturityDate: asOf}, "maturityDate is null or not maturityForbidden(productType)", predicate.StatusViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := compiler.Compile(tt.expr)
			require.NoError(t, err)
			e := tt.exposure
			out := prog.Eval(builder.Fields(&e))
			assert.Equal(t, tt.want, out.Status, "err=%v", out.Err)
		})
	}
}

func TestDefaultRules(t *testing.T) {
	defaults := DefaultRules()
	require.Len(t, defaults, 24)

	perDimension := make(map[contracts.Dimension]int)
	codes := make(map[string]bool)
	for _, r := range defaults {
		perDimension[r.Dimension]++
		assert.False(t, codes[r.RuleCode], "duplicate code %s", r.RuleCode)
		codes[r.RuleCode] = true
	}
	for _, d := range contracts.AllDimensions() {
		assert.Positive(t, perDimension[d], "dimension %s has no rules", d)
	}

	snap, err := NewCatalog(DefaultSource(), nil, logger.Nop()).Snapshot(context.Background(), asOf, nil)
	require.NoError(t, err)
	assert.Len(t, snap.Rules, 24)
	assert.Empty(t, snap.BrokenRules())
	assert.Zero(t, snap.Skipped)
	assert.Len(t, snap.Hash, 64)
}

func TestApplicable(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC) }
	exp := func(d int) *time.Time { t := day(d); return &t }

	all := []contracts.BusinessRule{
		{RuleCode: "LATE", ExecutionOrder: 1, Enabled: true, EffectiveDate: day(31).Add(24 * time.Hour)},
		{RuleCode: "EXPIRED", ExecutionOrder: 1, Enabled: true, EffectiveDate: day(1), ExpirationDate: exp(30)},
		{RuleCode: "LAST_DAY", ExecutionOrder: 5, Enabled: true, EffectiveDate: day(1), ExpirationDate: exp(31)},
		{RuleCode: "DISABLED", ExecutionOrder: 1, Enabled: false, EffectiveDate: day(1)},
		{RuleCode: "B_SAME_ORDER", ExecutionOrder: 2, Enabled: true, EffectiveDate: day(31)},
		{RuleCode: "A_SAME_ORDER", ExecutionOrder: 2, Enabled: true, EffectiveDate: day(1)},
	}

	rules, skipped := Applicable(all, asOf)
	assert.Equal(t, 3, skipped)

	var got []string
	for _, r := range rules {
		got = append(got, r.RuleCode)
	}
	assert.Equal(t, []string{"A_SAME_ORDER", "B_SAME_ORDER", "LAST_DAY"}, got)
}

func validRule(code string) contracts.BusinessRule {
	return contracts.BusinessRule{
		RuleID:        "ID_" + code,
		RuleCode:      code,
		Name:          code,
		Dimension:     contracts.DimensionAccuracy,
		Severity:      contracts.SeverityHigh,
		Expression:    "amount > 0",
		Enabled:       true,
		EffectiveDate: DefaultEffectiveDate,
	}
}

func TestSnapshot_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(rules []contracts.BusinessRule) []contracts.BusinessRule
	}{
		{"duplicate code", func(rs []contracts.BusinessRule) []contracts.BusinessRule {
			dup := validRule("R1")
			dup.RuleID = "OTHER"
			return append(rs, dup)
		}},
		{"duplicate id", func(rs []contracts.BusinessRule) []contracts.BusinessRule {
			dup := validRule("R2")
			dup.RuleID = rs[0].RuleID
			return append(rs, dup)
		}},
		{"unknown dimension", func(rs []contracts.BusinessRule) []contracts.BusinessRule {
			rs[0].Dimension = "BEAUTY"
			return rs
		}},
		{"unknown severity", func(rs []contracts.BusinessRule) []contracts.BusinessRule {
			rs[0].Severity = "URGENT"
			return rs
		}},
		{"unknown batch check", func(rs []contracts.BusinessRule) []contracts.BusinessRule {
			rs[0].Expression = ""
			rs[0].BatchCheck = "DUPLICATE_EVERYTHING"
			return rs
		}},
		{"missing expression", func(rs []contracts.BusinessRule) []contracts.BusinessRule {
			rs[0].Expression = " "
			return rs
		}},
		{"invalid parameter", func(rs []contracts.BusinessRule) []contracts.BusinessRule {
			rs[0].Parameters = map[string]contracts.RuleParameter{
				"maxAmount": {Type: contracts.ParamNumeric, Value: "lots"},
			}
			return rs
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := tt.mutate([]contracts.BusinessRule{validRule("R1")})
			_, err := NewCatalog(NewStaticSource(rules), nil, logger.Nop()).Snapshot(context.Background(), asOf, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, contracts.ErrConfiguration), "got %v", err)

			var cfgErr contracts.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestSnapshot_BrokenRulesAreKept(t *testing.T) {
	malformed := validRule("MALFORMED")
	malformed.Expression = "amount >"
	unknown := validRule("UNKNOWN_IDENT")
	unknown.Expression = "colour == 'red'"
	lower := validRule("LOWERCASE_ENUMS")
	lower.Dimension = "validity"
	lower.Severity = "low"

	snap, err := NewCatalog(NewStaticSource([]contracts.BusinessRule{malformed, unknown, lower}), nil, logger.Nop()).
		Snapshot(context.Background(), asOf, nil)
	require.NoError(t, err)

	require.Len(t, snap.Rules, 3)
	assert.ElementsMatch(t, []string{"MALFORMED", "UNKNOWN_IDENT"}, snap.BrokenRules())

	for _, r := range snap.Rules {
		if r.Rule.RuleCode == "LOWERCASE_ENUMS" {
			assert.Equal(t, contracts.DimensionValidity, r.Rule.Dimension)
			assert.Equal(t, contracts.SeverityLow, r.Rule.Severity)
			assert.True(t, r.References("amount"))
		}
	}
}

func TestSnapshot_BankParameters(t *testing.T) {
	rule := validRule("BANK_TIMELINESS")
	rule.Dimension = contracts.DimensionTimeliness
	rule.Expression = "reportingDate is null or daysBetween(reportingDate, today()) <= bankTimelinessDays"

	catalog := NewCatalog(NewStaticSource([]contracts.BusinessRule{rule}), nil, logger.Nop())

	t.Run("without bank parameter the rule is broken", func(t *testing.T) {
		snap, err := catalog.Snapshot(context.Background(), asOf, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"BANK_TIMELINESS"}, snap.BrokenRules())
	})

	t.Run("bank parameter resolves", func(t *testing.T) {
		params := predicate.NewParams(map[string]predicate.Value{BankTimelinessParam: predicate.Int(7)})
		snap, err := catalog.Snapshot(context.Background(), asOf, params)
		require.NoError(t, err)
		require.Empty(t, snap.BrokenRules())

		e := &contracts.ExposureRecord{ReportingDate: contracts.NewDate(2024, time.March, 20)}
		ctx := predicate.NewContextBuilder(asOf).Build(e, snap.Rules[0].Params)
		assert.Equal(t, predicate.StatusViolation, snap.Rules[0].Program.Eval(ctx).Status)
	})
}

type failingSource struct{}

func (failingSource) LoadRules(context.Context) ([]contracts.BusinessRule, error) {
	return nil, errors.New("connection refused")
}

func TestSnapshot_SourceUnavailable(t *testing.T) {
	catalog := NewCatalog(failingSource{}, nil, logger.Nop())

	_, err := catalog.Snapshot(context.Background(), asOf, nil)
	assert.ErrorIs(t, err, contracts.ErrCatalogUnavailable)

	_, err = catalog.ApplicableRules(context.Background(), asOf)
	assert.ErrorIs(t, err, contracts.ErrCatalogUnavailable)
}

func TestHash_Deterministic(t *testing.T) {
	h1, err := Hash(DefaultRules())
	require.NoError(t, err)
	h2, err := Hash(DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	changed := DefaultRules()
	changed[0].Severity = contracts.SeverityLow
	h3, err := Hash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

const sampleCatalog = `
version: 1
rules:
  - rule_id: DQ_ACCURACY_POSITIVE_AMOUNT
    rule_code: ACCURACY_POSITIVE_AMOUNT
    name: Positive Amount
    dimension: ACCURACY
    severity: CRITICAL
    expression: "amount is not null and amount > 0"
    execution_order: 10
    effective_date: 2024-01-01
    field_name: exposure_amount
    exemptions:
      - entity_type: EXPOSURE
        entity_id: EXP-LEGACY-1
        valid_from: 2024-01-01
        valid_to: 2024-12-31
        reason: legacy booking
  - rule_id: DQ_ACCURACY_VALID_CURRENCY
    rule_code: ACCURACY_VALID_CURRENCY
    name: Valid Currency
    dimension: ACCURACY
    severity: HIGH
    expression: "currency is null or upper(currency) in validCurrencies"
    execution_order: 11
    effective_date: 2024-01-01
    expiration_date: 2024-06-30
    enabled: false
    parameters:
      - name: validCurrencies
        type: LIST
        value: [USD, EUR]
`

func TestParse(t *testing.T) {
	rules, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	first := rules[0]
	assert.True(t, first.Enabled, "enabled defaults to true")
	assert.Equal(t, DefaultEffectiveDate, first.EffectiveDate)
	require.Len(t, first.Exemptions, 1)
	assert.True(t, first.Exemptions[0].ActiveOn(asOf))
	assert.True(t, first.ExemptFor(&contracts.ExposureRecord{ExposureID: "EXP-LEGACY-1"}, asOf))

	second := rules[1]
	assert.False(t, second.Enabled)
	require.NotNil(t, second.ExpirationDate)
	assert.Equal(t, contracts.ParamList, second.Parameters["validCurrencies"].Type)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "rules:\n  - rule_id: X\n    colour: red\n"},
		{"missing effective date", "rules:\n  - rule_id: X\n    rule_code: X\n"},
		{"bad date", "rules:\n  - rule_id: X\n    effective_date: 31/12/2024\n"},
		{"duplicate parameter", "rules:\n  - rule_id: X\n    effective_date: 2024-01-01\n    parameters:\n      - {name: a, type: NUMERIC, value: 1}\n      - {name: a, type: NUMERIC, value: 2}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestExport_PreservesCatalogHash(t *testing.T) {
	data, err := Export(DefaultRules())
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)

	want, _ := Hash(DefaultRules())
	got, _ := Hash(parsed)
	assert.Equal(t, want, got)
}

type countingSource struct {
	calls int
	rules []contracts.BusinessRule
}

func (s *countingSource) LoadRules(context.Context) ([]contracts.BusinessRule, error) {
	s.calls++
	return s.rules, nil
}

func TestCachedSource_DisabledRedisPassesThrough(t *testing.T) {
	client, err := redis.New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)

	inner := &countingSource{rules: []contracts.BusinessRule{validRule("R1")}}
	src := NewCachedSource(inner, redis.NewCache(client, "dq"), 0, logger.Nop())

	rules, err := src.LoadRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "R1", rules[0].RuleCode)

	_, err = src.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.NoError(t, src.Invalidate(context.Background()))
}
