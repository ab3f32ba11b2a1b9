package predicate

import (
	"strings"
	"unicode"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// Normalize folds an identifier to its lookup key: letters and digits, lowercased.
// "exposure_id", "exposureId" and "EXPOSURE_ID" share one key.
func Normalize(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String()
}

// Params are rule parameters keyed by normalized name
type Params map[string]Value

// NewParams normalizes parameter names
func NewParams(raw map[string]Value) Params {
	p := make(Params, len(raw))
	for k, v := range raw {
		p[Normalize(k)] = v
	}
	return p
}

// Context is the evaluation view of one exposure plus one rule's parameters.
// Exposure fields shadow parameters with the same name.
type Context struct {
	fields map[string]Value
	params Params
	today  contracts.Date
}

// Lookup resolves a normalized name
func (c *Context) Lookup(name string) (Value, bool) {
	if v, ok := c.fields[name]; ok {
		return v, true
	}
	v, ok := c.params[name]
	return v, ok
}

// Today is the as-of date of the batch
func (c *Context) Today() contracts.Date {
	return c.today
}

// WithParams returns a context sharing the exposure fields with a different parameter set
func (c *Context) WithParams(params Params) *Context {
	return &Context{fields: c.fields, params: params, today: c.today}
}

// Flatten returns the merged name→value map
func (c *Context) Flatten() map[string]Value {
	out := make(map[string]Value, len(c.fields)+len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	for k, v := range c.fields {
		out[k] = v
	}
	return out
}

// exposureFields lists every field name the builder publishes, aliases included
var exposureFields = []string{
	"exposureId", "counterpartyId", "counterpartyLei", "lei",
	"amount", "exposureAmount", "currency", "countryCode", "country",
	"sector", "counterpartyType", "productType", "internalRating",
	"riskCategory", "riskWeight", "reportingDate", "valuationDate",
	"maturityDate", "referenceNumber", "collateralValue",
}

// IsExposureField reports whether name resolves to an exposure field
func IsExposureField(name string) bool {
	_, ok := knownFields[Normalize(name)]
	return ok
}

var knownFields = func() map[string]struct{} {
	m := make(map[string]struct{}, len(exposureFields))
	for _, f := range exposureFields {
		m[Normalize(f)] = struct{}{}
	}
	return m
}()

// ContextBuilder projects exposures into evaluation contexts for one as-of date
type ContextBuilder struct {
	today contracts.Date
}

// NewContextBuilder creates a builder whose today() is asOf
func NewContextBuilder(asOf contracts.Date) *ContextBuilder {
	return &ContextBuilder{today: asOf}
}

// Build merges exposure fields and parameters. It never fails; missing fields are Absent.
func (b *ContextBuilder) Build(e *contracts.ExposureRecord, params Params) *Context {
	return b.Fields(e).WithParams(params)
}

// Fields builds the parameter-free context for an exposure
func (b *ContextBuilder) Fields(e *contracts.ExposureRecord) *Context {
	lei := OptionalString(e.CounterpartyLEI)
	amount := OptionalNumber(e.Amount)
	country := OptionalString(e.CountryCode)

	fields := map[string]Value{
		"exposureid":       OptionalString(e.ExposureID),
		"counterpartyid":   OptionalString(e.CounterpartyID),
		"counterpartylei":  lei,
		"lei":              lei,
		"amount":           amount,
		"exposureamount":   amount,
		"currency":         OptionalString(e.Currency),
		"countrycode":      country,
		"country":          country,
		"sector":           OptionalString(e.Sector),
		"counterpartytype": OptionalString(e.CounterpartyType),
		"producttype":      OptionalString(e.ProductType),
		"internalrating":   OptionalString(e.InternalRating),
		"riskcategory":     OptionalString(e.RiskCategory),
		"riskweight":       OptionalNumber(e.RiskWeight),
		"reportingdate":    DateValue(e.ReportingDate),
		"valuationdate":    DateValue(e.ValuationDate),
		"maturitydate":     DateValue(e.MaturityDate),
		"referencenumber":  OptionalString(e.ReferenceNumber),
		"collateralvalue":  OptionalNumber(e.CollateralValue),
	}
	return &Context{fields: fields, today: b.today}
}
