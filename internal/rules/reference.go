package rules

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/wonny/regtech-dq/internal/predicate"
)

// Reference tables for consistency checks. Keys missing from a table pass.

var currencyCountries = map[string]mapset.Set[string]{
	"USD": setOf("US"),
	"EUR": setOf("DE", "FR", "IT", "ES", "NL", "BE", "AT", "IE", "PT", "GR", "FI", "SK", "SI", "EE", "LV", "LT", "CY", "MT", "LU"),
	"GBP": setOf("GB"),
	"JPY": setOf("JP"),
	"CHF": setOf("CH"),
	"CAD": setOf("CA"),
	"AUD": setOf("AU"),
	"CNY": setOf("CN"),
	"HKD": setOf("HK"),
	"SGD": setOf("SG"),
	"KRW": setOf("KR"),
	"INR": setOf("IN"),
	"BRL": setOf("BR"),
	"MXN": setOf("MX"),
	"ZAR": setOf("ZA"),
	"RUB": setOf("RU"),
	"SEK": setOf("SE"),
	"NOK": setOf("NO"),
	"DKK": setOf("DK"),
	"PLN": setOf("PL"),
	"CZK": setOf("CZ"),
	"HUF": setOf("HU"),
}

var corporateCounterparties = setOf("CORPORATE", "COMPANY")

var sectorCounterparties = map[string]mapset.Set[string]{
	"BANKING":     setOf("BANK", "FINANCIAL_INSTITUTION"),
	"SOVEREIGN":   setOf("GOVERNMENT", "PUBLIC_SECTOR"),
	"RETAIL":      setOf("INDIVIDUAL", "PRIVATE"),
	"SME":         setOf("SMALL_BUSINESS", "CORPORATE"),
	"REAL_ESTATE": setOf("CORPORATE", "COMPANY", "INDIVIDUAL"),
	"INSURANCE":   setOf("INSURANCE_COMPANY", "FINANCIAL_INSTITUTION"),
}

var ratingCategories = map[string]mapset.Set[string]{
	"AAA": setOf("LOW_RISK", "INVESTMENT_GRADE"),
	"AA":  setOf("LOW_RISK", "INVESTMENT_GRADE"),
	"A":   setOf("LOW_RISK", "INVESTMENT_GRADE"),
	"BBB": setOf("MEDIUM_RISK", "INVESTMENT_GRADE"),
	"BB":  setOf("MEDIUM_RISK", "SPECULATIVE_GRADE"),
	"B":   setOf("HIGH_RISK", "SPECULATIVE_GRADE"),
	"CCC": setOf("HIGH_RISK", "SPECULATIVE_GRADE"),
	"CC":  setOf("VERY_HIGH_RISK", "DEFAULT_RISK"),
	"C":   setOf("VERY_HIGH_RISK", "DEFAULT_RISK"),
	"D":   setOf("DEFAULT", "DEFAULT_RISK"),
}

var (
	maturityRequiredProducts  = setOf("LOAN", "BOND", "DEPOSIT", "DERIVATIVE", "SWAP", "FORWARD", "FUTURE", "OPTION")
	maturityForbiddenProducts = setOf("EQUITY", "PERPETUAL_BOND", "DEMAND_DEPOSIT", "CURRENT_ACCOUNT")
)

func setOf(items ...string) mapset.Set[string] {
	return mapset.NewThreadUnsafeSet[string](items...)
}

// NewRegistry returns the predicate builtins plus the reference-data functions
func NewRegistry() *predicate.Registry {
	r := predicate.NewRegistry()
	r.Register(pairCheck("currencyMatchesCountry", func(currency, country string) bool {
		allowed, ok := currencyCountries[currency]
		return !ok || allowed.Contains(country)
	}))
	r.Register(pairCheck("sectorMatchesCounterparty", func(sector, cpType string) bool {
		allowed, ok := sectorCounterparties[sector]
		if !ok && strings.HasPrefix(sector, "CORPORATE") {
			allowed, ok = corporateCounterparties, true
		}
		return !ok || allowed.Contains(cpType)
	}))
	r.Register(pairCheck("ratingMatchesRiskCategory", func(rating, category string) bool {
		base := strings.TrimRight(rating, "+-")
		allowed, ok := ratingCategories[base]
		return !ok || allowed.Contains(category)
	}))
	r.Register(productCheck("maturityRequired", maturityRequiredProducts))
	r.Register(productCheck("maturityForbidden", maturityForbiddenProducts))
	return r
}

// pairCheck builds a two-argument consistency function; an absent side passes
func pairCheck(name string, ok func(a, b string) bool) predicate.Function {
	return predicate.Function{
		Name:    name,
		MinArgs: 2,
		MaxArgs: 2,
		Call: func(_ *predicate.Context, args []predicate.Value) (predicate.Value, error) {
			if args[0].IsAbsent() || args[1].IsAbsent() {
				return predicate.Bool(true), nil
			}
			a, okA := args[0].AsString()
			b, okB := args[1].AsString()
			if !okA || !okB {
				return predicate.Absent(), fmt.Errorf("expected strings, got %s and %s", args[0].Kind(), args[1].Kind())
			}
			return predicate.Bool(ok(normalizeCode(a), normalizeCode(b))), nil
		},
	}
}

func productCheck(name string, products mapset.Set[string]) predicate.Function {
	return predicate.Function{
		Name:    name,
		MinArgs: 1,
		MaxArgs: 1,
		Call: func(_ *predicate.Context, args []predicate.Value) (predicate.Value, error) {
			if args[0].IsAbsent() {
				return predicate.Bool(false), nil
			}
			p, ok := args[0].AsString()
			if !ok {
				return predicate.Absent(), fmt.Errorf("expected string, got %s", args[0].Kind())
			}
			return predicate.Bool(products.Contains(normalizeCode(p))), nil
		},
	}
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
