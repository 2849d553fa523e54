package fingerprint

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"delta-sync/feature/deltasync/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func row(fields map[string]any) models.SourceRow {
	return models.SourceRow{NaturalKey: "PO-4755-001", Customer: "Acme", Fields: fields}
}

func TestFingerprint_Deterministic(t *testing.T) {
	h := New([]string{"Amount", "Country", "Due"})
	r := row(map[string]any{"Amount": 10.5, "Country": "Cambodia", "Due": "2024-03-01"})

	first := h.Fingerprint(r)
	assert.Len(t, string(first), 64)
	assert.Equal(t, first, h.Fingerprint(r))
	assert.Equal(t, first, New([]string{"Amount", "Country", "Due"}).Fingerprint(r))
}

func TestFingerprint_Canonicalization(t *testing.T) {
	h := New([]string{"Amount", "Country", "Due"})
	base := h.Fingerprint(row(map[string]any{
		"Amount": 10.5, "Country": "Cambodia", "Due": "2024-03-01",
	}))

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"Whitespace And Case", map[string]any{"Amount": 10.5, "Country": "  CAMBODIA ", "Due": "2024-03-01"}},
		{"Numeric Representation", map[string]any{"Amount": float32(10.5), "Country": "Cambodia", "Due": "2024-03-01"}},
		{"Decimal Type", map[string]any{"Amount": decimal.RequireFromString("10.5000"), "Country": "Cambodia", "Due": "2024-03-01"}},
		{"Time Value", map[string]any{"Amount": 10.5, "Country": "Cambodia", "Due": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}},
		{"Datetime Text", map[string]any{"Amount": 10.5, "Country": "Cambodia", "Due": "2024-03-01 00:00:00"}},
		{"Extra Field Ignored", map[string]any{"Amount": 10.5, "Country": "Cambodia", "Due": "2024-03-01", "UpdatedAt": "now"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, base, h.Fingerprint(row(tt.fields)))
		})
	}
}

func TestFingerprint_DetectsChanges(t *testing.T) {
	h := New([]string{"Amount", "Country"})
	base := h.Fingerprint(row(map[string]any{"Amount": 10, "Country": "Cambodia"}))

	assert.NotEqual(t, base, h.Fingerprint(row(map[string]any{"Amount": 11, "Country": "Cambodia"})))
	assert.NotEqual(t, base, h.Fingerprint(row(map[string]any{"Amount": 10, "Country": "Laos"})))
	assert.NotEqual(t, base, h.Fingerprint(row(map[string]any{"Amount": 10, "Country": nil})))
}

func TestFingerprint_NilVersusEmpty(t *testing.T) {
	h := New([]string{"Note"})
	assert.NotEqual(t,
		h.Fingerprint(row(map[string]any{"Note": nil})),
		h.Fingerprint(row(map[string]any{"Note": ""})),
	)
	assert.Equal(t,
		h.Fingerprint(row(map[string]any{"Note": nil})),
		h.Fingerprint(row(map[string]any{})),
	)
}

func TestFingerprint_AllFieldsWithExclusions(t *testing.T) {
	h := New(nil, WithExcluded("updated_at"))
	a := h.Fingerprint(row(map[string]any{"Amount": 1, "updated_at": "2024-01-01"}))
	b := h.Fingerprint(row(map[string]any{"Amount": 1, "updated_at": "2024-06-01"}))
	assert.Equal(t, a, b)

	assert.Equal(t, []string{"Amount", "Country"}, h.Fields(row(map[string]any{"Country": "KH", "Amount": 1, "updated_at": 0})))
}

func TestFingerprint_NumericTypesOnly(t *testing.T) {
	h := New([]string{"Code"})
	fp := func(v any) models.Fingerprint { return h.Fingerprint(row(map[string]any{"Code": v})) }

	assert.Equal(t, fp(7), fp(7.0))
	assert.Equal(t, fp(int64(7)), fp(json.Number("7")))
	assert.Equal(t, fp(7), fp(decimal.NewFromInt(7)))

	assert.NotEqual(t, fp("007"), fp("7"))
	assert.NotEqual(t, fp("7"), fp(7))
	assert.NotEqual(t, fp("1e3"), fp("1000"))
}

func TestFingerprint_NonFiniteFloat(t *testing.T) {
	h := New([]string{"Amount"})
	for _, v := range []any{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.NotPanics(t, func() { h.Fingerprint(row(map[string]any{"Amount": v})) })
	}
	assert.Equal(t,
		h.Fingerprint(row(map[string]any{"Amount": math.NaN()})),
		h.Fingerprint(row(map[string]any{"Amount": math.NaN()})),
	)
	assert.NotEqual(t,
		h.Fingerprint(row(map[string]any{"Amount": math.Inf(1)})),
		h.Fingerprint(row(map[string]any{"Amount": math.Inf(-1)})),
	)
}

func TestFingerprint_Precision(t *testing.T) {
	h := New([]string{"Amount"}, WithPrecision(2))
	assert.Equal(t, "1.23", h.Canonical(1.234))
	assert.Equal(t,
		h.Fingerprint(row(map[string]any{"Amount": 1.231})),
		h.Fingerprint(row(map[string]any{"Amount": 1.229})),
	)
}
