package mapping

import (
	"fmt"
	"strings"

	"delta-sync/core/utils"
)

// Rule is one declarative field mapping. The set of rules is closed: Exact,
// Renamed, Computed and ValueSubstitution.
type Rule interface {
	// Target is the external field the rule writes.
	Target() string
	// Sources are the source fields the rule reads.
	Sources() []string
	isRule()
}

// Exact copies a source field verbatim to a target field of the same name.
type Exact struct {
	Field    string
	Optional bool
}

// Renamed copies a source field under another name, optionally coercing its type.
type Renamed struct {
	From string
	To   string
	// Coerce names a conversion in utils.Coerce; empty keeps the value as is.
	Coerce   string
	Optional bool
}

// Computed derives a target value from several source fields.
type Computed struct {
	To   string
	From []string
	Fn   func(values []any) (any, error)
	// Optional makes an all-missing input produce nil instead of an error.
	Optional bool
}

// ValueSubstitution translates a source enumeration through a lookup table.
// A value missing from the table is an error.
type ValueSubstitution struct {
	From     string
	To       string
	Table    map[string]string
	Optional bool
}

func (r Exact) Target() string    { return r.Field }
func (r Exact) Sources() []string { return []string{r.Field} }
func (Exact) isRule()             {}

func (r Renamed) Target() string    { return r.To }
func (r Renamed) Sources() []string { return []string{r.From} }
func (Renamed) isRule()             {}

func (r Computed) Target() string    { return r.To }
func (r Computed) Sources() []string { return r.From }
func (Computed) isRule()             {}

func (r ValueSubstitution) Target() string    { return r.To }
func (r ValueSubstitution) Sources() []string { return []string{r.From} }
func (ValueSubstitution) isRule()             {}

// Concat builds a computed rule joining the non-empty text of sources with sep.
func Concat(target, sep string, sources ...string) Computed {
	return Computed{
		To:   target,
		From: sources,
		Fn: func(values []any) (any, error) {
			parts := make([]string, 0, len(values))
			for _, v := range values {
				if s := strings.TrimSpace(utils.ToString(v)); s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) == 0 {
				return nil, fmt.Errorf("all of %s are empty", strings.Join(sources, ", "))
			}
			return strings.Join(parts, sep), nil
		},
	}
}

// Format builds a computed rule filling "{field}" placeholders in layout.
// Every placeholder source must be present.
func Format(target, layout string, sources ...string) Computed {
	return Computed{
		To:   target,
		From: sources,
		Fn: func(values []any) (any, error) {
			pairs := make([]string, 0, len(values)*2)
			for i, v := range values {
				if v == nil {
					return nil, fmt.Errorf("missing %s", sources[i])
				}
				pairs = append(pairs, "{"+sources[i]+"}", utils.ToString(v))
			}
			return strings.NewReplacer(pairs...).Replace(layout), nil
		},
	}
}
