package engine

import (
	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/rules"
)

// structuralCheck is a pre-check that makes a record unusable for rule evaluation
type structuralCheck struct {
	code      string
	dimension contracts.Dimension
	fieldName string
	// fields are the predicate identifiers that read the broken value
	fields  []string
	message string
	failed  func(e *contracts.ExposureRecord) bool
}

var structuralChecks = []structuralCheck{
	{
		code:      contracts.CodeMissingExposureID,
		dimension: contracts.DimensionCompleteness,
		fieldName: "exposure_id",
		fields:    []string{"exposureId"},
		message:   "Exposure ID is missing",
		failed: func(e *contracts.ExposureRecord) bool {
			return !e.HasExposureID()
		},
	},
	{
		code:      contracts.CodeNegativeAmount,
		dimension: contracts.DimensionAccuracy,
		fieldName: "exposure_amount",
		fields:    []string{"amount", "exposureAmount"},
		message:   "Exposure amount is negative",
		failed: func(e *contracts.ExposureRecord) bool {
			return e.Amount.Valid && e.Amount.Decimal.IsNegative()
		},
	},
}

// structuralResult is the pre-check outcome of one exposure
type structuralResult struct {
	errors []contracts.ValidationError
	broken []string
}

func (s structuralResult) failed() bool {
	return len(s.errors) > 0
}

// touches reports whether a compiled rule reads one of the broken fields
func (s structuralResult) touches(cr *rules.CompiledRule) bool {
	for _, f := range s.broken {
		if cr.References(f) {
			return true
		}
	}
	return false
}

// checkStructure runs every structural pre-check against e
func checkStructure(e *contracts.ExposureRecord) structuralResult {
	var out structuralResult
	for _, c := range structuralChecks {
		if !c.failed(e) {
			continue
		}
		out.errors = append(out.errors, contracts.ValidationError{
			ExposureID: e.ExposureID,
			Dimension:  c.dimension,
			RuleCode:   c.code,
			Message:    c.message,
			FieldName:  c.fieldName,
			Severity:   contracts.SeverityCritical,
			Kind:       contracts.KindStructural,
		})
		out.broken = append(out.broken, c.fields...)
	}
	return out
}
