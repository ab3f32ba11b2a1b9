package contracts

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for calendar dates
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day. The zero value means absent.
type Date struct {
	time.Time
}

// NewDate creates a UTC calendar date
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses YYYY-MM-DD or RFC3339
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected %s", s, DateLayout)
	}
	return DateOf(t), nil
}

// String formats the date as YYYY-MM-DD, or "" when absent
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// MarshalJSON writes null for an absent date
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

// UnmarshalJSON accepts null, "", YYYY-MM-DD and RFC3339
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ExposureRecord is one row of exposure data subject to quality checks.
// Records are produced by ingestion and treated as read-only by the engine.
type ExposureRecord struct {
	ExposureID       string              `json:"exposure_id"`
	CounterpartyID   string              `json:"counterparty_id"`
	CounterpartyLEI  string              `json:"counterparty_lei"`
	Amount           decimal.NullDecimal `json:"exposure_amount"`
	Currency         string              `json:"currency"`
	CountryCode      string              `json:"country_code"`
	Sector           string              `json:"sector"`
	CounterpartyType string              `json:"counterparty_type"`
	ProductType      string              `json:"product_type"`
	InternalRating   string              `json:"internal_rating"`
	RiskCategory     string              `json:"risk_category"`
	RiskWeight       decimal.NullDecimal `json:"risk_weight"`
	ReportingDate    Date                `json:"reporting_date"`
	ValuationDate    Date                `json:"valuation_date"`
	MaturityDate     Date                `json:"maturity_date"`
	ReferenceNumber  string              `json:"reference_number"`
	CollateralValue  decimal.NullDecimal `json:"collateral_value"`
}

// HasExposureID reports whether the record carries a usable identifier
func (e *ExposureRecord) HasExposureID() bool {
	return strings.TrimSpace(e.ExposureID) != ""
}

// Batch is the unit of work handed to the engine
type Batch struct {
	BatchID   string
	BankID    string
	AsOf      Date
	Exposures []ExposureRecord
}
