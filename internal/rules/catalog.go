package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/predicate"
	"github.com/wonny/regtech-dq/pkg/logger"
)

// BankTimelinessParam is injected into every rule from the bank threshold row
const BankTimelinessParam = "bankTimelinessDays"

// CompiledRule is an applicable rule ready for evaluation
type CompiledRule struct {
	Rule    contracts.BusinessRule
	Program *predicate.Program
	Params  predicate.Params

	// Broken holds the compile problem of a malformed expression.
	// A broken rule reports an evaluation error for every exposure.
	Broken error
}

// IsBroken reports whether the expression failed to compile
func (c *CompiledRule) IsBroken() bool {
	return c.Broken != nil
}

// References reports whether the compiled expression reads the field
func (c *CompiledRule) References(field string) bool {
	return c.Program != nil && c.Program.References(field)
}

// Snapshot is the immutable rule set used for one batch
type Snapshot struct {
	AsOf    contracts.Date
	Rules   []*CompiledRule
	Skipped int
	Hash    string
}

// BrokenRules returns the codes of rules that could not be compiled
func (s *Snapshot) BrokenRules() []string {
	var out []string
	for _, r := range s.Rules {
		if r.IsBroken() {
			out = append(out, r.Rule.RuleCode)
		}
	}
	return out
}

// Catalog serves the rules in force on a date
type Catalog struct {
	source   contracts.RuleSource
	registry *predicate.Registry
	compiler *predicate.Compiler
	logger   *logger.Logger
}

// NewCatalog creates a catalog. A nil registry uses NewRegistry().
func NewCatalog(source contracts.RuleSource, registry *predicate.Registry, log *logger.Logger) *Catalog {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Catalog{
		source:   source,
		registry: registry,
		compiler: predicate.NewCompiler(registry),
		logger:   log,
	}
}

// Registry exposes the function registry used for compilation
func (c *Catalog) Registry() *predicate.Registry {
	return c.registry
}

// ApplicableRules returns the rules in force on asOf, ordered by execution order
func (c *Catalog) ApplicableRules(ctx context.Context, asOf contracts.Date) ([]contracts.BusinessRule, error) {
	all, err := c.source.LoadRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrCatalogUnavailable, err)
	}
	rules, _ := Applicable(all, asOf)
	return rules, nil
}

// Applicable filters rules by their window and returns them in execution order.
// skipped counts rules outside their window or disabled.
func Applicable(all []contracts.BusinessRule, asOf contracts.Date) (rules []contracts.BusinessRule, skipped int) {
	rules = make([]contracts.BusinessRule, 0, len(all))
	for _, r := range all {
		if r.AppliesOn(asOf) {
			rules = append(rules, r)
		} else {
			skipped++
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].ExecutionOrder != rules[j].ExecutionOrder {
			return rules[i].ExecutionOrder < rules[j].ExecutionOrder
		}
		return rules[i].RuleCode < rules[j].RuleCode
	})
	return rules, skipped
}

// Snapshot loads, filters, validates and compiles the rules for one batch.
// bankParams are added to every rule; a rule parameter of the same name wins.
// Invalid configuration aborts with a ConfigurationError; a malformed
// expression only marks its rule as broken.
func (c *Catalog) Snapshot(ctx context.Context, asOf contracts.Date, bankParams predicate.Params) (*Snapshot, error) {
	all, err := c.source.LoadRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrCatalogUnavailable, err)
	}

	rules, skipped := Applicable(all, asOf)
	if err := validateRules(rules); err != nil {
		return nil, err
	}

	hash, err := Hash(rules)
	if err != nil {
		return nil, fmt.Errorf("hash rules: %w", err)
	}

	snap := &Snapshot{
		AsOf:    asOf,
		Rules:   make([]*CompiledRule, 0, len(rules)),
		Skipped: skipped,
		Hash:    hash,
	}
	for _, r := range rules {
		compiled, err := c.compile(r, bankParams)
		if err != nil {
			return nil, err
		}
		if compiled.IsBroken() && c.logger != nil {
			c.logger.WithFields(map[string]interface{}{
				"rule_code":  r.RuleCode,
				"expression": r.Expression,
			}).WithError(compiled.Broken).Warn("Rule expression is malformed, rule will report evaluation errors")
		}
		snap.Rules = append(snap.Rules, compiled)
	}
	return snap, nil
}

func (c *Catalog) compile(r contracts.BusinessRule, bankParams predicate.Params) (*CompiledRule, error) {
	params := make(predicate.Params, len(bankParams)+len(r.Parameters))
	for k, v := range bankParams {
		params[k] = v
	}

	// 파라미터 이름 순서로 검증 (에러 메시지 재현성)
	for _, name := range sortedParamNames(r.Parameters) {
		p := r.Parameters[name]
		if p.Name == "" {
			p.Name = name
		}
		v, err := ResolveParameter(p, c.compiler)
		if err != nil {
			return nil, contracts.ConfigurationError{
				Field:   fmt.Sprintf("rules[%s].parameters.%s", r.RuleCode, name),
				Message: err.Error(),
			}
		}
		params[predicate.Normalize(name)] = v
	}

	compiled := &CompiledRule{Rule: r, Params: params}
	if r.IsBatchCheck() {
		return compiled, nil
	}

	prog, err := c.compiler.Compile(r.Expression)
	if err != nil {
		compiled.Broken = err
		return compiled, nil
	}
	for _, id := range prog.Identifiers() {
		if predicate.IsExposureField(id) {
			continue
		}
		if _, ok := params[id]; ok {
			continue
		}
		compiled.Broken = fmt.Errorf("unknown identifier %q", id)
		return compiled, nil
	}
	compiled.Program = prog
	return compiled, nil
}

var knownBatchChecks = map[string]bool{
	contracts.BatchCheckDuplicateExposureID:           true,
	contracts.BatchCheckDuplicateCounterpartyExposure: true,
	contracts.BatchCheckDuplicateReferenceNumber:      true,
}

// validateRules checks the applicable set and canonicalizes enum fields in place.
// Any failure is fatal for the batch.
func validateRules(rules []contracts.BusinessRule) error {
	ids := make(map[string]bool, len(rules))
	codes := make(map[string]bool, len(rules))

	for i := range rules {
		r := &rules[i]
		field := fmt.Sprintf("rules[%d]", i)
		if strings.TrimSpace(r.RuleID) == "" {
			return contracts.ConfigurationError{Field: field + ".rule_id", Message: "required"}
		}
		if strings.TrimSpace(r.RuleCode) == "" {
			return contracts.ConfigurationError{Field: field + ".rule_code", Message: "required"}
		}
		field = fmt.Sprintf("rules[%s]", r.RuleCode)

		if ids[r.RuleID] {
			return contracts.ConfigurationError{Field: field + ".rule_id", Message: fmt.Sprintf("duplicate rule id %q", r.RuleID)}
		}
		ids[r.RuleID] = true
		if codes[r.RuleCode] {
			return contracts.ConfigurationError{Field: field + ".rule_code", Message: "duplicate rule code"}
		}
		codes[r.RuleCode] = true

		dim, err := contracts.ParseDimension(string(r.Dimension))
		if err != nil {
			return contracts.ConfigurationError{Field: field + ".dimension", Message: err.Error()}
		}
		r.Dimension = dim
		sev, err := contracts.ParseSeverity(string(r.Severity))
		if err != nil {
			return contracts.ConfigurationError{Field: field + ".severity", Message: err.Error()}
		}
		r.Severity = sev
		r.BatchCheck = strings.ToUpper(strings.TrimSpace(r.BatchCheck))

		hasExpr := strings.TrimSpace(r.Expression) != ""
		switch {
		case r.IsBatchCheck() && hasExpr:
			return contracts.ConfigurationError{Field: field, Message: "expression and batch_check are mutually exclusive"}
		case r.IsBatchCheck() && !knownBatchChecks[r.BatchCheck]:
			return contracts.ConfigurationError{Field: field + ".batch_check", Message: fmt.Sprintf("unknown batch check %q", r.BatchCheck)}
		case !r.IsBatchCheck() && !hasExpr:
			return contracts.ConfigurationError{Field: field + ".expression", Message: "required"}
		}
	}
	return nil
}

// Hash is the SHA-256 of the canonical JSON of the rule set
func Hash(rules []contracts.BusinessRule) (string, error) {
	// map 키는 encoding/json이 정렬하므로 결정적
	jsonBytes, err := json.Marshal(rules)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}
