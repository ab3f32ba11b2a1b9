package engine

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/rules"
)

// maxListedKeys caps the duplicate keys named in a batch finding
const maxListedKeys = 10

// batchKey extracts the identity a uniqueness check compares. "" means not comparable.
type batchKey func(e *contracts.ExposureRecord) string

var batchKeys = map[string]batchKey{
	contracts.BatchCheckDuplicateExposureID: func(e *contracts.ExposureRecord) string {
		return strings.TrimSpace(e.ExposureID)
	},
	contracts.BatchCheckDuplicateCounterpartyExposure: func(e *contracts.ExposureRecord) string {
		cp := strings.TrimSpace(e.CounterpartyID)
		id := strings.TrimSpace(e.ExposureID)
		if cp == "" || id == "" {
			return ""
		}
		return cp + "|" + id
	},
	contracts.BatchCheckDuplicateReferenceNumber: func(e *contracts.ExposureRecord) string {
		return strings.TrimSpace(e.ReferenceNumber)
	},
}

// batchCheckResult is the outcome of one batch-level rule
type batchCheckResult struct {
	// perExposure holds the violation of each second-and-later occurrence by input index
	perExposure map[int]contracts.ValidationError
	finding     *contracts.ValidationError
	counts      contracts.RuleExecutionCount
	exemptions  int64
}

// runBatchCheck scans the batch once in input order.
// usable[i] is false for exposures excluded by structural pre-checks.
func runBatchCheck(cr *rules.CompiledRule, exposures []contracts.ExposureRecord, usable []bool, asOf contracts.Date) batchCheckResult {
	res := batchCheckResult{perExposure: make(map[int]contracts.ValidationError)}
	keyOf, ok := batchKeys[cr.Rule.BatchCheck]
	if !ok {
		// catalog validation rejects unknown checks before we get here
		return res
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	dupSeen := mapset.NewThreadUnsafeSet[string]()
	var dupKeys []string
	var occurrences int

	for i := range exposures {
		e := &exposures[i]
		if !usable[i] {
			res.counts.Skipped++
			continue
		}
		if cr.Rule.ExemptFor(e, asOf) {
			res.counts.Skipped++
			res.exemptions++
			continue
		}
		key := keyOf(e)
		if key == "" {
			res.counts.Skipped++
			continue
		}
		if seen.Add(key) {
			res.counts.Passed++
			continue
		}

		res.counts.Failed++
		occurrences++
		if dupSeen.Add(key) {
			dupKeys = append(dupKeys, key)
		}
		res.perExposure[i] = contracts.ValidationError{
			ExposureID: e.ExposureID,
			Dimension:  cr.Rule.Dimension,
			RuleCode:   cr.Rule.RuleCode,
			Message:    fmt.Sprintf("%s: %s", messageFor(cr), key),
			FieldName:  cr.Rule.FieldName,
			Severity:   cr.Rule.Severity,
			Kind:       contracts.KindViolation,
		}
	}

	if len(dupKeys) > 0 {
		res.finding = &contracts.ValidationError{
			Dimension: cr.Rule.Dimension,
			RuleCode:  cr.Rule.RuleCode,
			Message:   findingMessage(cr.Rule.BatchCheck, occurrences, dupKeys),
			FieldName: cr.Rule.FieldName,
			Severity:  cr.Rule.Severity,
			Kind:      contracts.KindBatchFinding,
		}
	}
	return res
}

// findingMessage lists the first maxListedKeys duplicate keys
func findingMessage(check string, occurrences int, keys []string) string {
	listed := keys
	if len(listed) > maxListedKeys {
		listed = listed[:maxListedKeys]
	}
	msg := fmt.Sprintf("%s: %d duplicate occurrence(s) of %d key(s): %s",
		check, occurrences, len(keys), strings.Join(listed, ", "))
	if extra := len(keys) - len(listed); extra > 0 {
		msg += fmt.Sprintf(" (and %d more)", extra)
	}
	return msg
}

func messageFor(cr *rules.CompiledRule) string {
	if cr.Rule.ErrorMessage != "" {
		return cr.Rule.ErrorMessage
	}
	return fmt.Sprintf("Rule %s failed", cr.Rule.RuleCode)
}
