package contracts

import (
	"fmt"
	"strings"
	"time"
)

// Dimension is one of the six quality axes
type Dimension string

const (
	DimensionCompleteness Dimension = "COMPLETENESS"
	DimensionAccuracy     Dimension = "ACCURACY"
	DimensionConsistency  Dimension = "CONSISTENCY"
	DimensionTimeliness   Dimension = "TIMELINESS"
	DimensionUniqueness   Dimension = "UNIQUENESS"
	DimensionValidity     Dimension = "VALIDITY"
)

// AllDimensions returns the dimensions in reporting order
func AllDimensions() []Dimension {
	return []Dimension{
		DimensionCompleteness,
		DimensionAccuracy,
		DimensionConsistency,
		DimensionTimeliness,
		DimensionUniqueness,
		DimensionValidity,
	}
}

// ParseDimension converts a case-insensitive name to a Dimension
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllDimensions() {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dimension %q", s)
}

// Severity ranks how bad a violation is
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AllSeverities returns severities from least to most severe
func AllSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// Rank orders severities: LOW=1 .. CRITICAL=4, unknown=0
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ParseSeverity converts a case-insensitive name to a Severity
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// ParameterType is the declared type of a rule parameter
type ParameterType string

const (
	ParamNumeric    ParameterType = "NUMERIC"
	ParamPercentage ParameterType = "PERCENTAGE"
	ParamFormula    ParameterType = "FORMULA"
	ParamCondition  ParameterType = "CONDITION"
	ParamThreshold  ParameterType = "THRESHOLD"
	ParamList       ParameterType = "LIST"
)

// RuleParameter is a named, typed value bound to a rule.
// Value holds the raw configured value; it is checked when a catalog snapshot is built.
type RuleParameter struct {
	Name  string        `json:"name"`
	Type  ParameterType `json:"type"`
	Value interface{}   `json:"value"`
	Unit  string        `json:"unit,omitempty"`
	Min   *float64      `json:"min,omitempty"`
	Max   *float64      `json:"max,omitempty"`
}

// Batch-level checks that replace a per-exposure expression
const (
	BatchCheckDuplicateExposureID           = "DUPLICATE_EXPOSURE_ID"
	BatchCheckDuplicateCounterpartyExposure = "DUPLICATE_COUNTERPARTY_EXPOSURE"
	BatchCheckDuplicateReferenceNumber      = "DUPLICATE_REFERENCE_NUMBER"
)

// Exemption entity types
const (
	EntityExposure     = "EXPOSURE"
	EntityCounterparty = "COUNTERPARTY"
)

// RuleExemption switches a rule off for one entity during a window
type RuleExemption struct {
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidTo    *time.Time `json:"valid_to,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// ActiveOn reports whether the exemption covers day d
func (x RuleExemption) ActiveOn(d Date) bool {
	if DateOf(x.ValidFrom).After(d.Time) {
		return false
	}
	return x.ValidTo == nil || !d.After(DateOf(*x.ValidTo).Time)
}

// Covers reports whether the exemption applies to the exposure on day d
func (x RuleExemption) Covers(e *ExposureRecord, d Date) bool {
	if !x.ActiveOn(d) {
		return false
	}
	switch strings.ToUpper(x.EntityType) {
	case EntityExposure:
		return x.EntityID == e.ExposureID
	case EntityCounterparty:
		return x.EntityID == e.CounterpartyID
	default:
		return false
	}
}

// BusinessRule is one configured quality rule.
// Rules are read-only during a batch run.
type BusinessRule struct {
	RuleID         string                   `json:"rule_id"`
	RuleCode       string                   `json:"rule_code"`
	Name           string                   `json:"name"`
	Description    string                   `json:"description,omitempty"`
	Dimension      Dimension                `json:"dimension"`
	Severity       Severity                 `json:"severity"`
	Expression     string                   `json:"expression,omitempty"`
	BatchCheck     string                   `json:"batch_check,omitempty"`
	Parameters     map[string]RuleParameter `json:"parameters,omitempty"`
	ExecutionOrder int                      `json:"execution_order"`
	EffectiveDate  time.Time                `json:"effective_date"`
	ExpirationDate *time.Time               `json:"expiration_date,omitempty"`
	Enabled        bool                     `json:"enabled"`
	FieldName      string                   `json:"field_name,omitempty"`
	ErrorMessage   string                   `json:"error_message,omitempty"`
	Exemptions     []RuleExemption          `json:"exemptions,omitempty"`
	Version        int                      `json:"version"`
}

// AppliesOn reports whether the rule is in force on day d:
// enabled, effective on or before d, and not expired before d.
func (r *BusinessRule) AppliesOn(d Date) bool {
	if !r.Enabled {
		return false
	}
	if DateOf(r.EffectiveDate).After(d.Time) {
		return false
	}
	return r.ExpirationDate == nil || !d.After(DateOf(*r.ExpirationDate).Time)
}

// IsBatchCheck reports whether the rule runs once over the whole batch
func (r *BusinessRule) IsBatchCheck() bool {
	return r.BatchCheck != ""
}

// ExemptFor returns true when an active exemption covers the exposure
func (r *BusinessRule) ExemptFor(e *ExposureRecord, d Date) bool {
	for _, x := range r.Exemptions {
		if x.Covers(e, d) {
			return true
		}
	}
	return false
}
