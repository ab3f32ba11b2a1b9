package rules

import (
	"time"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// DefaultEffectiveDate is when the seeded catalog comes into force
var DefaultEffectiveDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	validCurrencyList = "USD,EUR,GBP,JPY,CHF,CAD,AUD,SEK,NOK,DKK,PLN,CZK,HUF,BGN,RON,HRK,RSD,BAM,MKD,ALL," +
		"CNY,HKD,SGD,KRW,INR,THB,MYR,IDR,PHP,VND,BRL,MXN,ARS,CLP,COP,PEN,UYU,ZAR,EGP,MAD,TND,NGN,GHS,KES," +
		"UGX,TZS,ZMW,BWP,MUR,SCR"
	validCountryList = "US,GB,DE,FR,IT,ES,NL,BE,AT,CH,SE,NO,DK,FI,IE,PT,GR,PL,CZ,HU,SK,SI,EE,LV,LT,BG,RO,HR," +
		"CY,MT,LU,JP,CN,HK,SG,KR,IN,TH,MY,ID,PH,VN,AU,NZ,CA,MX,BR,AR,CL,CO,PE,UY,ZA,EG,MA,TN,NG,GH,KE,UG," +
		"TZ,ZM,BW,MU,SC,RU,UA,BY,MD,GE,AM,AZ,KZ,UZ,KG,TJ,TM,MN,TR,IL,SA,AE,QA,KW,BH,OM,JO,LB,SY,IQ,IR,AF," +
		"PK,BD,LK,NP,BT,MM,LA,KH,BN,TL,FJ,PG,SB,VU,NC,PF"
	validSectorList = "BANKING,CORPORATE_MANUFACTURING,CORPORATE_SERVICES,CORPORATE_RETAIL,CORPORATE_TECHNOLOGY," +
		"SOVEREIGN,RETAIL,SME,REAL_ESTATE,INSURANCE,CORPORATE"
)

type ruleSeed struct {
	order      int
	id         string
	code       string
	name       string
	dimension  contracts.Dimension
	severity   contracts.Severity
	expression string
	batch      string
	field      string
	message    string
	params     []contracts.RuleParameter
}

func floatPtr(v float64) *float64 { return &v }

// DefaultRules returns the seeded catalog: six dimensions, twenty-four rules
func DefaultRules() []contracts.BusinessRule {
	seeds := []ruleSeed{
		// Completeness
		{1, "DQ_COMPLETENESS_EXPOSURE_ID", "COMPLETENESS_EXPOSURE_ID_REQUIRED", "Exposure ID Required",
			contracts.DimensionCompleteness, contracts.SeverityCritical,
			"notBlank(exposureId)", "", "exposure_id", "Exposure ID is required", nil},
		{2, "DQ_COMPLETENESS_AMOUNT", "COMPLETENESS_AMOUNT_REQUIRED", "Amount Required",
			contracts.DimensionCompleteness, contracts.SeverityCritical,
			"amount is not null", "", "exposure_amount", "Exposure amount is required", nil},
		{3, "DQ_COMPLETENESS_CURRENCY", "COMPLETENESS_CURRENCY_REQUIRED", "Currency Required",
			contracts.DimensionCompleteness, contracts.SeverityCritical,
			"notBlank(currency)", "", "currency", "Currency is required", nil},
		{4, "DQ_COMPLETENESS_COUNTRY", "COMPLETENESS_COUNTRY_REQUIRED", "Country Required",
			contracts.DimensionCompleteness, contracts.SeverityCritical,
			"notBlank(country)", "", "country_code", "Country is required", nil},
		{5, "DQ_COMPLETENESS_SECTOR", "COMPLETENESS_SECTOR_REQUIRED", "Sector Required",
			contracts.DimensionCompleteness, contracts.SeverityCritical,
			"notBlank(sector)", "", "sector", "Sector is required", nil},
		{6, "DQ_COMPLETENESS_LEI_CORPORATE", "COMPLETENESS_LEI_FOR_CORPORATES", "LEI Required for Corporates",
			contracts.DimensionCompleteness, contracts.SeverityHigh,
			"sector != 'CORPORATE' or notBlank(lei)", "", "counterparty_lei", "LEI code is required for corporate exposures", nil},
		{7, "DQ_COMPLETENESS_MATURITY", "COMPLETENESS_MATURITY_FOR_TERM", "Maturity Required for Term Exposures",
			contracts.DimensionCompleteness, contracts.SeverityHigh,
			"maturityDate is not null or not maturityRequired(productType)", "", "maturity_date", "Maturity date is required for term exposures", nil},
		{8, "DQ_COMPLETENESS_RATING", "COMPLETENESS_INTERNAL_RATING", "Internal Rating Required",
			contracts.DimensionCompleteness, contracts.SeverityHigh,
			"notBlank(internalRating)", "", "internal_rating", "Internal rating is required", nil},

		// Accuracy
		{10, "DQ_ACCURACY_POSITIVE_AMOUNT", "ACCURACY_POSITIVE_AMOUNT", "Positive Amount",
			contracts.DimensionAccuracy, contracts.SeverityCritical,
			"amount is not null and amount > 0", "", "exposure_amount", "Exposure amount must be positive", nil},
		{11, "DQ_ACCURACY_VALID_CURRENCY", "ACCURACY_VALID_CURRENCY", "Valid Currency Code",
			contracts.DimensionAccuracy, contracts.SeverityHigh,
			"currency is null or upper(currency) in validCurrencies", "", "currency", "Currency must be a valid ISO 4217 code",
			[]contracts.RuleParameter{{Name: "validCurrencies", Type: contracts.ParamList, Value: validCurrencyList}}},
		{12, "DQ_ACCURACY_VALID_COUNTRY", "ACCURACY_VALID_COUNTRY", "Valid Country Code",
			contracts.DimensionAccuracy, contracts.SeverityHigh,
			"country is null or upper(country) in validCountries", "", "country_code", "Country must be a valid ISO 3166 code",
			[]contracts.RuleParameter{{Name: "validCountries", Type: contracts.ParamList, Value: validCountryList}}},
		{13, "DQ_ACCURACY_VALID_LEI", "ACCURACY_VALID_LEI_FORMAT", "Valid LEI Format",
			contracts.DimensionAccuracy, contracts.SeverityHigh,
			"lei is null or lei matches '^[A-Z0-9]{20}$'", "", "counterparty_lei", "LEI code must be 20 alphanumeric characters", nil},
		{14, "DQ_ACCURACY_REASONABLE_AMOUNT", "ACCURACY_REASONABLE_AMOUNT", "Reasonable Amount",
			contracts.DimensionAccuracy, contracts.SeverityMedium,
			"amount is null or amount < maxReasonableAmount", "", "exposure_amount", "Exposure amount exceeds the reasonable maximum",
			[]contracts.RuleParameter{{Name: "maxReasonableAmount", Type: contracts.ParamNumeric, Value: "10000000000", Unit: "EUR", Min: floatPtr(0)}}},

		// Consistency
		{20, "DQ_CONSISTENCY_CURRENCY_COUNTRY", "CONSISTENCY_CURRENCY_COUNTRY", "Currency-Country Consistency",
			contracts.DimensionConsistency, contracts.SeverityMedium,
			"currencyMatchesCountry(currency, country)", "", "currency", "Currency is inconsistent with country", nil},
		{21, "DQ_CONSISTENCY_SECTOR_COUNTERPARTY", "CONSISTENCY_SECTOR_COUNTERPARTY", "Sector-Counterparty Consistency",
			contracts.DimensionConsistency, contracts.SeverityMedium,
			"sectorMatchesCounterparty(sector, counterpartyType)", "", "sector", "Sector is inconsistent with counterparty type", nil},
		{22, "DQ_CONSISTENCY_RATING_RISK", "CONSISTENCY_RATING_RISK", "Rating-Risk Consistency",
			contracts.DimensionConsistency, contracts.SeverityMedium,
			"ratingMatchesRiskCategory(internalRating, riskCategory)", "", "internal_rating", "Internal rating is inconsistent with risk category", nil},

		// Timeliness
		{30, "DQ_TIMELINESS_REPORTING_PERIOD", "TIMELINESS_REPORTING_PERIOD", "Reporting Period",
			contracts.DimensionTimeliness, contracts.SeverityHigh,
			"reportingDate is null or daysBetween(reportingDate, today()) <= maxReportingAgeDays", "", "reporting_date",
			"Reporting date is older than the maximum reporting age",
			[]contracts.RuleParameter{{Name: "maxReportingAgeDays", Type: contracts.ParamNumeric, Value: "90", Unit: "DAYS", Min: floatPtr(0)}}},
		{31, "DQ_TIMELINESS_NO_FUTURE", "TIMELINESS_NO_FUTURE_DATE", "No Future Reporting Date",
			contracts.DimensionTimeliness, contracts.SeverityCritical,
			"reportingDate is null or not isFuture(reportingDate)", "", "reporting_date", "Reporting date must not be in the future", nil},
		{32, "DQ_TIMELINESS_VALUATION", "TIMELINESS_RECENT_VALUATION", "Recent Valuation",
			contracts.DimensionTimeliness, contracts.SeverityMedium,
			"valuationDate is null or daysBetween(valuationDate, today()) <= maxValuationAgeDays", "", "valuation_date",
			"Valuation date is older than the maximum valuation age",
			[]contracts.RuleParameter{{Name: "maxValuationAgeDays", Type: contracts.ParamNumeric, Value: "30", Unit: "DAYS", Min: floatPtr(0)}}},

		// Uniqueness
		{40, "DQ_UNIQUENESS_EXPOSURE_IDS", "UNIQUENESS_EXPOSURE_IDS", "Unique Exposure IDs",
			contracts.DimensionUniqueness, contracts.SeverityCritical,
			"", contracts.BatchCheckDuplicateExposureID, "exposure_id", "Duplicate exposure ID in batch", nil},
		{41, "DQ_UNIQUENESS_COUNTERPARTY_EXPOSURE", "UNIQUENESS_COUNTERPARTY_EXPOSURE", "Unique Counterparty-Exposure Pairs",
			contracts.DimensionUniqueness, contracts.SeverityHigh,
			"", contracts.BatchCheckDuplicateCounterpartyExposure, "counterparty_id", "Duplicate counterparty-exposure pair in batch", nil},

		// Validity
		{50, "DQ_VALIDITY_SECTOR", "VALIDITY_VALID_SECTOR", "Valid Sector",
			contracts.DimensionValidity, contracts.SeverityHigh,
			"sector is null or upper(sector) in validSectors", "", "sector", "Sector is not a recognised sector code",
			[]contracts.RuleParameter{{Name: "validSectors", Type: contracts.ParamList, Value: validSectorList}}},
		{51, "DQ_VALIDITY_RISK_WEIGHT", "VALIDITY_RISK_WEIGHT_RANGE", "Risk Weight Range",
			contracts.DimensionValidity, contracts.SeverityHigh,
			"riskWeight is null or (riskWeight >= minRiskWeight and riskWeight <= maxRiskWeight)", "", "risk_weight",
			"Risk weight is outside the allowed range",
			[]contracts.RuleParameter{
				{Name: "minRiskWeight", Type: contracts.ParamNumeric, Value: "0"},
				{Name: "maxRiskWeight", Type: contracts.ParamNumeric, Value: "1.5"},
			}},
		{52, "DQ_VALIDITY_MATURITY_AFTER_REPORTING", "VALIDITY_MATURITY_AFTER_REPORTING", "Maturity After Reporting",
			contracts.DimensionValidity, contracts.SeverityMedium,
			"maturityDate is null or reportingDate is null or maturityDate >= reportingDate", "", "maturity_date",
			"Maturity date must not precede the reporting date", nil},
	}

	out := make([]contracts.BusinessRule, 0, len(seeds))
	for _, s := range seeds {
		r := contracts.BusinessRule{
			RuleID:         s.id,
			RuleCode:       s.code,
			Name:           s.name,
			Dimension:      s.dimension,
			Severity:       s.severity,
			Expression:     s.expression,
			BatchCheck:     s.batch,
			ExecutionOrder: s.order,
			EffectiveDate:  DefaultEffectiveDate,
			Enabled:        true,
			FieldName:      s.field,
			ErrorMessage:   s.message,
			Version:        1,
		}
		if len(s.params) > 0 {
			r.Parameters = make(map[string]contracts.RuleParameter, len(s.params))
			for _, p := range s.params {
				r.Parameters[p.Name] = p
			}
		}
		out = append(out, r)
	}
	return out
}
