package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/predicate"
)

// ResolveParameter validates a configured parameter and converts it to a predicate value.
// Bounds and list shape are checked here, once per snapshot, never during evaluation.
func ResolveParameter(p contracts.RuleParameter, compiler *predicate.Compiler) (predicate.Value, error) {
	if strings.TrimSpace(p.Name) == "" {
		return predicate.Absent(), fmt.Errorf("parameter name is required")
	}

	switch contracts.ParameterType(strings.ToUpper(string(p.Type))) {
	case contracts.ParamNumeric, contracts.ParamThreshold:
		d, err := toDecimal(p.Value)
		if err != nil {
			return predicate.Absent(), err
		}
		if err := checkBounds(d, p.Min, p.Max); err != nil {
			return predicate.Absent(), err
		}
		return predicate.Number(d), nil

	case contracts.ParamPercentage:
		d, err := toDecimal(p.Value)
		if err != nil {
			return predicate.Absent(), err
		}
		if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
			return predicate.Absent(), fmt.Errorf("percentage %s must be in [0, 100]", d)
		}
		if err := checkBounds(d, p.Min, p.Max); err != nil {
			return predicate.Absent(), err
		}
		return predicate.Number(d), nil

	case contracts.ParamList:
		members, err := toList(p.Value)
		if err != nil {
			return predicate.Absent(), err
		}
		if len(members) == 0 {
			return predicate.Absent(), fmt.Errorf("list must not be empty")
		}
		return predicate.List(members), nil

	case contracts.ParamFormula, contracts.ParamCondition:
		text, err := cast.ToStringE(p.Value)
		if err != nil {
			return predicate.Absent(), fmt.Errorf("expected text: %w", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return predicate.Absent(), fmt.Errorf("expression must not be empty")
		}
		if compiler != nil {
			if _, err := compiler.Compile(text); err != nil {
				return predicate.Absent(), err
			}
		}
		return predicate.String(text), nil
	}

	return predicate.Absent(), fmt.Errorf("unknown parameter type %q", p.Type)
}

func toDecimal(raw interface{}) (decimal.Decimal, error) {
	s, err := cast.ToStringE(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("expected number: %w", err)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("expected number, got %q", s)
	}
	return d, nil
}

func checkBounds(d decimal.Decimal, min, max *float64) error {
	if min != nil && d.LessThan(decimal.NewFromFloat(*min)) {
		return fmt.Errorf("value %s below minimum %v", d, *min)
	}
	if max != nil && d.GreaterThan(decimal.NewFromFloat(*max)) {
		return fmt.Errorf("value %s above maximum %v", d, *max)
	}
	return nil
}

func toList(raw interface{}) ([]string, error) {
	var items []string
	if s, ok := raw.(string); ok {
		items = strings.Split(s, ",")
	} else {
		var err error
		items, err = cast.ToStringSliceE(raw)
		if err != nil {
			return nil, fmt.Errorf("expected list: %w", err)
		}
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out, nil
}

func sortedParamNames(params map[string]contracts.RuleParameter) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
