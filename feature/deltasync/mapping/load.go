package mapping

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RuleSpec is the file form of a rule.
type RuleSpec struct {
	Kind      string            `yaml:"kind" validate:"required,oneof=exact renamed computed substitution"`
	Field     string            `yaml:"field" validate:"required_if=Kind exact"`
	Source    string            `yaml:"source" validate:"required_if=Kind renamed,required_if=Kind substitution"`
	Target    string            `yaml:"target" validate:"required_unless=Kind exact"`
	Coerce    string            `yaml:"coerce" validate:"omitempty,oneof=int float decimal bool string date"`
	Sources   []string          `yaml:"sources" validate:"required_if=Kind computed"`
	Op        string            `yaml:"op" validate:"omitempty,oneof=concat format"`
	Separator string            `yaml:"separator"`
	Format    string            `yaml:"format" validate:"required_if=Op format"`
	Table     map[string]string `yaml:"table" validate:"required_if=Kind substitution"`
	Optional  bool              `yaml:"optional"`
}

type ruleFile struct {
	Rules []RuleSpec `yaml:"rules" validate:"required,min=1,dive"`
}

// ParseRules decodes and validates a rule file.
func ParseRules(data []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse mapping rules: %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid mapping rules: %w", err)
	}

	rules := make([]Rule, 0, len(file.Rules))
	for _, rs := range file.Rules {
		rules = append(rules, rs.Rule())
	}
	return rules, nil
}

// Rule converts a validated file rule to its variant.
func (s RuleSpec) Rule() Rule {
	switch s.Kind {
	case "renamed":
		return Renamed{From: s.Source, To: s.Target, Coerce: s.Coerce, Optional: s.Optional}
	case "computed":
		var c Computed
		if s.Op == "format" {
			c = Format(s.Target, s.Format, s.Sources...)
		} else {
			c = Concat(s.Target, s.Separator, s.Sources...)
		}
		c.Optional = s.Optional
		return c
	case "substitution":
		return ValueSubstitution{From: s.Source, To: s.Target, Table: s.Table, Optional: s.Optional}
	default:
		return Exact{Field: s.Field, Optional: s.Optional}
	}
}

// ObjectGetter returns the bytes of a named config object.
type ObjectGetter interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// Load reads the rule file named name and builds a mapper.
func Load(ctx context.Context, objects ObjectGetter, name string) (*Mapper, error) {
	data, err := objects.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping rules: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	return NewMapper(rules)
}
