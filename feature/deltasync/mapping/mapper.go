package mapping

import (
	"fmt"
	"strings"

	"delta-sync/core/utils"
	"delta-sync/feature/deltasync/models"
)

// ExternalRecord is a staging row translated to the external API's columns.
type ExternalRecord struct {
	NaturalKey string
	// TargetID is the existing external record to update; nil means create.
	TargetID *string
	Fields   map[string]any
}

// FieldError explains why one target field could not be produced.
type FieldError struct {
	Target string `json:"target"`
	Source string `json:"source"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s <- %s: %s", e.Target, e.Source, e.Reason)
}

// Result is either a complete record or the list of field errors.
type Result struct {
	Record ExternalRecord
	Errors []FieldError
}

// OK reports whether every rule produced its field.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Reason joins the field errors into one message.
func (r Result) Reason() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return "mapping failed: " + strings.Join(msgs, "; ")
}

// Mapper applies a fixed rule set to staging rows. It is pure and safe for
// concurrent use.
type Mapper struct {
	rules []Rule
}

// NewMapper validates the rule set: every rule needs a target, targets are
// unique, and computed rules need a function.
func NewMapper(rules []Rule) (*Mapper, error) {
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		target := r.Target()
		if target == "" {
			return nil, fmt.Errorf("rule %d has no target", i)
		}
		if _, dup := seen[target]; dup {
			return nil, fmt.Errorf("target %q is mapped twice", target)
		}
		seen[target] = struct{}{}

		switch rule := r.(type) {
		case Computed:
			if rule.Fn == nil || len(rule.From) == 0 {
				return nil, fmt.Errorf("computed rule %q needs sources and a function", target)
			}
		case ValueSubstitution:
			if len(rule.Table) == 0 {
				return nil, fmt.Errorf("substitution rule %q has an empty table", target)
			}
		case Renamed:
			if rule.From == "" {
				return nil, fmt.Errorf("renamed rule %q has no source", target)
			}
			if !utils.IsCoercion(rule.Coerce) {
				return nil, fmt.Errorf("renamed rule %q: unknown coercion %q", target, rule.Coerce)
			}
		}
	}
	return &Mapper{rules: rules}, nil
}

// Rules returns the rule set.
func (m *Mapper) Rules() []Rule {
	return m.rules
}

// Map translates a staging row. Every rule either writes its target or adds a
// FieldError; nothing is dropped silently.
func (m *Mapper) Map(rec models.StagingRecord) Result {
	return m.MapFields(rec.NaturalKey, rec.TargetID, rec.Fields)
}

// MapFields translates raw fields.
func (m *Mapper) MapFields(key string, targetID *string, fields map[string]any) Result {
	res := Result{Record: ExternalRecord{
		NaturalKey: key,
		TargetID:   targetID,
		Fields:     make(map[string]any, len(m.rules)),
	}}

	for _, r := range m.rules {
		val, ferr := apply(r, fields)
		if ferr != nil {
			res.Errors = append(res.Errors, *ferr)
			continue
		}
		res.Record.Fields[r.Target()] = val
	}
	return res
}

func lookup(fields map[string]any, name string) (any, bool) {
	v, ok := fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func missing(target, source string) *FieldError {
	return &FieldError{Target: target, Source: source, Reason: "missing required source field"}
}

func apply(r Rule, fields map[string]any) (any, *FieldError) {
	switch rule := r.(type) {
	case Exact:
		v, ok := lookup(fields, rule.Field)
		if !ok {
			if rule.Optional {
				return nil, nil
			}
			return nil, missing(rule.Field, rule.Field)
		}
		return v, nil

	case Renamed:
		v, ok := lookup(fields, rule.From)
		if !ok {
			if rule.Optional {
				return nil, nil
			}
			return nil, missing(rule.To, rule.From)
		}
		out, err := utils.Coerce(rule.Coerce, v)
		if err != nil {
			return nil, &FieldError{Target: rule.To, Source: rule.From, Reason: err.Error()}
		}
		return out, nil

	case Computed:
		values := make([]any, len(rule.From))
		present := 0
		for i, src := range rule.From {
			if v, ok := lookup(fields, src); ok {
				values[i] = v
				present++
			}
		}
		if present == 0 && rule.Optional {
			return nil, nil
		}
		out, err := rule.Fn(values)
		if err != nil {
			return nil, &FieldError{Target: rule.To, Source: strings.Join(rule.From, ","), Reason: err.Error()}
		}
		return out, nil

	case ValueSubstitution:
		v, ok := lookup(fields, rule.From)
		if !ok {
			if rule.Optional {
				return nil, nil
			}
			return nil, missing(rule.To, rule.From)
		}
		raw := strings.TrimSpace(utils.ToString(v))
		out, found := rule.Table[raw]
		if !found {
			return nil, &FieldError{Target: rule.To, Source: rule.From, Reason: fmt.Sprintf("unmapped value %q", raw)}
		}
		return out, nil

	default:
		return nil, &FieldError{Target: r.Target(), Reason: fmt.Sprintf("unsupported rule %T", r)}
	}
}

// Invert returns the reverse of the Exact and Renamed rules; other rules are
// not invertible and are left out. Coercions are not reversed.
func Invert(rules []Rule) []Rule {
	var out []Rule
	for _, r := range rules {
		switch rule := r.(type) {
		case Exact:
			out = append(out, rule)
		case Renamed:
			out = append(out, Renamed{From: rule.To, To: rule.From, Optional: rule.Optional})
		}
	}
	return out
}
