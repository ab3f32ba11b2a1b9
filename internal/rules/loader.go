package rules

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// Document is the YAML layout of a rule catalog file
type Document struct {
	Version int        `yaml:"version"`
	Rules   []RuleYAML `yaml:"rules"`
}

// RuleYAML is one rule in a catalog file. Dates are YYYY-MM-DD.
type RuleYAML struct {
	RuleID         string          `yaml:"rule_id"`
	RuleCode       string          `yaml:"rule_code"`
	Name           string          `yaml:"name"`
	Description    string          `yaml:"description,omitempty"`
	Dimension      string          `yaml:"dimension"`
	Severity       string          `yaml:"severity"`
	Expression     string          `yaml:"expression,omitempty"`
	BatchCheck     string          `yaml:"batch_check,omitempty"`
	ExecutionOrder int             `yaml:"execution_order"`
	EffectiveDate  string          `yaml:"effective_date"`
	ExpirationDate string          `yaml:"expiration_date,omitempty"`
	Enabled        *bool           `yaml:"enabled,omitempty"`
	FieldName      string          `yaml:"field_name,omitempty"`
	ErrorMessage   string          `yaml:"error_message,omitempty"`
	Version        int             `yaml:"version,omitempty"`
	Parameters     []ParameterYAML `yaml:"parameters,omitempty"`
	Exemptions     []ExemptionYAML `yaml:"exemptions,omitempty"`
}

// ParameterYAML is a typed rule parameter
type ParameterYAML struct {
	Name  string      `yaml:"name"`
	Type  string      `yaml:"type"`
	Value interface{} `yaml:"value"`
	Unit  string      `yaml:"unit,omitempty"`
	Min   *float64    `yaml:"min,omitempty"`
	Max   *float64    `yaml:"max,omitempty"`
}

// ExemptionYAML switches a rule off for one entity
type ExemptionYAML struct {
	EntityType string `yaml:"entity_type"`
	EntityID   string `yaml:"entity_id"`
	ValidFrom  string `yaml:"valid_from"`
	ValidTo    string `yaml:"valid_to,omitempty"`
	Reason     string `yaml:"reason,omitempty"`
}

// Parse decodes a catalog document.
// KnownFields(true): 오타/미사용 필드는 즉시 실패
func Parse(data []byte) ([]contracts.BusinessRule, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rule catalog: %w", err)
	}

	out := make([]contracts.BusinessRule, 0, len(doc.Rules))
	for i, ry := range doc.Rules {
		r, err := ry.toRule()
		if err != nil {
			return nil, contracts.ConfigurationError{Field: fmt.Sprintf("rules[%d]", i), Message: err.Error()}
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadFile reads and decodes a catalog file, returning the raw bytes for hashing/audit
func LoadFile(path string) ([]contracts.BusinessRule, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, data, err
	}
	return rules, data, nil
}

// Export renders rules as a catalog document
func Export(rules []contracts.BusinessRule) ([]byte, error) {
	doc := Document{Version: 1, Rules: make([]RuleYAML, 0, len(rules))}
	for _, r := range rules {
		doc.Rules = append(doc.Rules, fromRule(r))
	}
	return yaml.Marshal(doc)
}

// FileSource reads a YAML catalog on every load
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by a YAML file
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// LoadRules reads the file
func (s *FileSource) LoadRules(_ context.Context) ([]contracts.BusinessRule, error) {
	rules, _, err := LoadFile(s.path)
	return rules, err
}

func (ry RuleYAML) toRule() (contracts.BusinessRule, error) {
	effective, err := contracts.ParseDate(ry.EffectiveDate)
	if err != nil {
		return contracts.BusinessRule{}, fmt.Errorf("effective_date: %w", err)
	}
	if effective.IsZero() {
		return contracts.BusinessRule{}, fmt.Errorf("effective_date is required")
	}

	r := contracts.BusinessRule{
		RuleID:         ry.RuleID,
		RuleCode:       ry.RuleCode,
		Name:           ry.Name,
		Description:    ry.Description,
		Dimension:      contracts.Dimension(ry.Dimension),
		Severity:       contracts.Severity(ry.Severity),
		Expression:     ry.Expression,
		BatchCheck:     ry.BatchCheck,
		ExecutionOrder: ry.ExecutionOrder,
		EffectiveDate:  effective.Time,
		Enabled:        ry.Enabled == nil || *ry.Enabled,
		FieldName:      ry.FieldName,
		ErrorMessage:   ry.ErrorMessage,
		Version:        ry.Version,
	}
	if r.Version == 0 {
		r.Version = 1
	}

	if ry.ExpirationDate != "" {
		exp, err := contracts.ParseDate(ry.ExpirationDate)
		if err != nil {
			return contracts.BusinessRule{}, fmt.Errorf("expiration_date: %w", err)
		}
		t := exp.Time
		r.ExpirationDate = &t
	}

	if len(ry.Parameters) > 0 {
		r.Parameters = make(map[string]contracts.RuleParameter, len(ry.Parameters))
		for _, p := range ry.Parameters {
			if _, dup := r.Parameters[p.Name]; dup {
				return contracts.BusinessRule{}, fmt.Errorf("duplicate parameter %q", p.Name)
			}
			r.Parameters[p.Name] = contracts.RuleParameter{
				Name:  p.Name,
				Type:  contracts.ParameterType(p.Type),
				Value: p.Value,
				Unit:  p.Unit,
				Min:   p.Min,
				Max:   p.Max,
			}
		}
	}

	for _, x := range ry.Exemptions {
		from, err := contracts.ParseDate(x.ValidFrom)
		if err != nil || from.IsZero() {
			return contracts.BusinessRule{}, fmt.Errorf("exemption valid_from %q is invalid", x.ValidFrom)
		}
		ex := contracts.RuleExemption{
			EntityType: x.EntityType,
			EntityID:   x.EntityID,
			ValidFrom:  from.Time,
			Reason:     x.Reason,
		}
		if x.ValidTo != "" {
			to, err := contracts.ParseDate(x.ValidTo)
			if err != nil {
				return contracts.BusinessRule{}, fmt.Errorf("exemption valid_to: %w", err)
			}
			t := to.Time
			ex.ValidTo = &t
		}
		r.Exemptions = append(r.Exemptions, ex)
	}

	return r, nil
}

func fromRule(r contracts.BusinessRule) RuleYAML {
	enabled := r.Enabled
	ry := RuleYAML{
		RuleID:         r.RuleID,
		RuleCode:       r.RuleCode,
		Name:           r.Name,
		Description:    r.Description,
		Dimension:      string(r.Dimension),
		Severity:       string(r.Severity),
		Expression:     r.Expression,
		BatchCheck:     r.BatchCheck,
		ExecutionOrder: r.ExecutionOrder,
		EffectiveDate:  formatDate(r.EffectiveDate),
		Enabled:        &enabled,
		FieldName:      r.FieldName,
		ErrorMessage:   r.ErrorMessage,
		Version:        r.Version,
	}
	if r.ExpirationDate != nil {
		ry.ExpirationDate = formatDate(*r.ExpirationDate)
	}

	for _, name := range sortedParamNames(r.Parameters) {
		p := r.Parameters[name]
		ry.Parameters = append(ry.Parameters, ParameterYAML{
			Name: name, Type: string(p.Type), Value: p.Value, Unit: p.Unit, Min: p.Min, Max: p.Max,
		})
	}
	for _, x := range r.Exemptions {
		ex := ExemptionYAML{
			EntityType: x.EntityType,
			EntityID:   x.EntityID,
			ValidFrom:  formatDate(x.ValidFrom),
			Reason:     x.Reason,
		}
		if x.ValidTo != nil {
			ex.ValidTo = formatDate(*x.ValidTo)
		}
		ry.Exemptions = append(ry.Exemptions, ex)
	}
	return ry
}

func formatDate(t time.Time) string {
	return t.Format(contracts.DateLayout)
}
