package mapping

import (
	"context"
	"errors"
	"math"
	"testing"

	"delta-sync/feature/deltasync/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticObjects map[string]string

func (s staticObjects) Get(_ context.Context, name string) ([]byte, error) {
	data, ok := s[name]
	if !ok {
		return nil, errors.New("no such object")
	}
	return []byte(data), nil
}

func record(fields map[string]any) models.StagingRecord {
	return models.StagingRecord{NaturalKey: "PO-4755-001", Fields: fields}
}

func TestMap_ValueSubstitution(t *testing.T) {
	m, err := NewMapper([]Rule{
		ValueSubstitution{From: "Country", To: "country_code", Table: map[string]string{"Cambodia": "KH"}},
	})
	require.NoError(t, err)

	ok := m.Map(record(map[string]any{"Country": "Cambodia"}))
	require.True(t, ok.OK())
	assert.Equal(t, "KH", ok.Record.Fields["country_code"])

	padded := m.Map(record(map[string]any{"Country": " Cambodia "}))
	assert.True(t, padded.OK())

	bad := m.Map(record(map[string]any{"Country": "Atlantis"}))
	require.False(t, bad.OK())
	assert.NotContains(t, bad.Record.Fields, "country_code")
	assert.Equal(t, FieldError{Target: "country_code", Source: "Country", Reason: `unmapped value "Atlantis"`}, bad.Errors[0])
	assert.Contains(t, bad.Reason(), "Atlantis")
}

func TestMap_AllRuleKinds(t *testing.T) {
	target := "9702050042"
	m, err := NewMapper([]Rule{
		Exact{Field: "Country"},
		Renamed{From: "po_number", To: "name"},
		Renamed{From: "Amount", To: "amount", Coerce: "decimal"},
		Renamed{From: "due", To: "due_date", Coerce: "date"},
		Concat("title", " - ", "po_number", "customer"),
		Format("summary", "{po_number} for {customer}", "po_number", "customer"),
		Exact{Field: "Notes", Optional: true},
	})
	require.NoError(t, err)

	rec := record(map[string]any{
		"Country":   "Cambodia",
		"po_number": "PO-4755-001",
		"customer":  "Acme Corp",
		"Amount":    1500.5,
		"due":       "2024-03-01 10:00:00",
	})
	rec.TargetID = &target

	res := m.Map(rec)
	require.True(t, res.OK(), res.Errors)
	assert.Equal(t, "PO-4755-001", res.Record.NaturalKey)
	assert.Equal(t, &target, res.Record.TargetID)
	assert.Equal(t, "Cambodia", res.Record.Fields["Country"])
	assert.Equal(t, "PO-4755-001", res.Record.Fields["name"])
	assert.Equal(t, "2024-03-01", res.Record.Fields["due_date"])
	assert.Equal(t, "PO-4755-001 - Acme Corp", res.Record.Fields["title"])
	assert.Equal(t, "PO-4755-001 for Acme Corp", res.Record.Fields["summary"])
	assert.Contains(t, res.Record.Fields, "Notes")
	assert.Nil(t, res.Record.Fields["Notes"])
}

func TestMap_CollectsEveryError(t *testing.T) {
	m, err := NewMapper([]Rule{
		Exact{Field: "Country"},
		Renamed{From: "Amount", To: "amount", Coerce: "int"},
		Format("summary", "{po_number}", "po_number"),
		Concat("title", " ", "a", "b"),
	})
	require.NoError(t, err)

	res := m.Map(record(map[string]any{"Amount": "lots"}))
	require.Len(t, res.Errors, 4)
	assert.Equal(t, "missing required source field", res.Errors[0].Reason)
	assert.Equal(t, "amount", res.Errors[1].Target)
	assert.Equal(t, "summary", res.Errors[2].Target)
	assert.Equal(t, "title", res.Errors[3].Target)
	assert.Empty(t, res.Record.Fields)
}

func TestMap_NonFiniteAmount(t *testing.T) {
	m, err := NewMapper([]Rule{
		Renamed{From: "Amount", To: "amount", Coerce: "decimal"},
		Renamed{From: "Rate", To: "rate", Coerce: "float"},
	})
	require.NoError(t, err)

	var res Result
	assert.NotPanics(t, func() {
		res = m.Map(record(map[string]any{"Amount": math.NaN(), "Rate": math.Inf(-1)}))
	})
	require.False(t, res.OK())
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "amount", res.Errors[0].Target)
	assert.Contains(t, res.Errors[0].Reason, "not a finite number")
	assert.Equal(t, "rate", res.Errors[1].Target)
}

func TestNewMapper_Validation(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"Duplicate Target", []Rule{Exact{Field: "name"}, Renamed{From: "po", To: "name"}}},
		{"Missing Target", []Rule{Renamed{From: "po"}}},
		{"Computed Without Fn", []Rule{Computed{To: "x", From: []string{"a"}}}},
		{"Empty Table", []Rule{ValueSubstitution{From: "a", To: "b"}}},
		{"Unknown Coercion", []Rule{Renamed{From: "a", To: "b", Coerce: "uuid"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMapper(tt.rules)
			assert.Error(t, err)
		})
	}
}

func TestInvert_RoundTrip(t *testing.T) {
	rules := []Rule{
		Exact{Field: "Country"},
		Renamed{From: "po_number", To: "name"},
		Renamed{From: "customer", To: "client"},
		ValueSubstitution{From: "Country", To: "country_code", Table: map[string]string{"Cambodia": "KH"}},
	}
	forward, err := NewMapper(rules)
	require.NoError(t, err)
	inverse, err := NewMapper(Invert(rules))
	require.NoError(t, err)
	assert.Len(t, inverse.Rules(), 3)

	original := map[string]any{"Country": "Cambodia", "po_number": "PO-4755-001", "customer": "Acme Corp"}
	mapped := forward.Map(record(original))
	require.True(t, mapped.OK())

	back := inverse.MapFields(mapped.Record.NaturalKey, nil, mapped.Record.Fields)
	require.True(t, back.OK())
	assert.Equal(t, original, back.Record.Fields)
}

const rulesYAML = `
rules:
  - kind: exact
    field: Country
  - kind: renamed
    source: po_number
    target: name
  - kind: renamed
    source: Amount
    target: amount
    coerce: decimal
  - kind: computed
    op: concat
    target: title
    separator: " / "
    sources: [po_number, customer]
  - kind: computed
    op: format
    target: summary
    format: "{customer}: {po_number}"
    sources: [customer, po_number]
  - kind: substitution
    source: Country
    target: country_code
    table:
      Cambodia: KH
      Laos: LA
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(rulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 6)

	assert.IsType(t, Exact{}, rules[0])
	assert.Equal(t, Renamed{From: "po_number", To: "name"}, rules[1])
	assert.IsType(t, Computed{}, rules[3])
	assert.IsType(t, ValueSubstitution{}, rules[5])

	m, err := NewMapper(rules)
	require.NoError(t, err)
	res := m.Map(record(map[string]any{"Country": "Laos", "po_number": "PO-1", "customer": "Acme", "Amount": "12.5"}))
	require.True(t, res.OK(), res.Errors)
	assert.Equal(t, "PO-1 / Acme", res.Record.Fields["title"])
	assert.Equal(t, "Acme: PO-1", res.Record.Fields["summary"])
	assert.Equal(t, "LA", res.Record.Fields["country_code"])
}

func TestParseRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"Unknown Kind", "rules: [{kind: magic, field: a}]"},
		{"Exact Without Field", "rules: [{kind: exact}]"},
		{"Renamed Without Target", "rules: [{kind: renamed, source: a}]"},
		{"Substitution Without Table", "rules: [{kind: substitution, source: a, target: b}]"},
		{"Computed Without Sources", "rules: [{kind: computed, target: t, op: concat}]"},
		{"Format Without Layout", "rules: [{kind: computed, target: t, op: format, sources: [a]}]"},
		{"Bad Coercion", "rules: [{kind: renamed, source: a, target: b, coerce: uuid}]"},
		{"No Rules", "rules: []"},
		{"Broken YAML", "rules: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	objects := staticObjects{"mapping.yaml": rulesYAML}

	m, err := Load(context.Background(), objects, "mapping.yaml")
	require.NoError(t, err)
	assert.Len(t, m.Rules(), 6)

	_, err = Load(context.Background(), objects, "missing.yaml")
	assert.Error(t, err)
}
