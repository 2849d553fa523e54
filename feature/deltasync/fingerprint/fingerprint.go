package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"delta-sync/core/utils"
	"delta-sync/feature/deltasync/models"

	"github.com/shopspring/decimal"
)

const (
	// DefaultPrecision is the number of decimals numerics are rendered with.
	DefaultPrecision = 4
	// nullToken stands for a nil or missing value; it cannot collide with canonical text
	// because canonical text never carries the unit separator.
	nullToken = "\x00null"
	separator = "\x1f"
)

// Option configures a Hasher.
type Option func(*Hasher)

// WithExcluded drops volatile or audit columns from the field set.
func WithExcluded(fields ...string) Option {
	return func(h *Hasher) {
		for _, f := range fields {
			h.excluded[strings.ToLower(f)] = struct{}{}
		}
	}
}

// WithPrecision sets the fixed number of decimals for numeric values.
func WithPrecision(places int32) Option {
	return func(h *Hasher) {
		h.precision = places
	}
}

// Hasher computes stable content fingerprints for source rows.
type Hasher struct {
	fields    []string
	excluded  map[string]struct{}
	precision int32
}

// New creates a Hasher over the given ordered field list. An empty list hashes
// every field of the row in sorted name order.
func New(fields []string, opts ...Option) *Hasher {
	h := &Hasher{
		excluded:  make(map[string]struct{}),
		precision: DefaultPrecision,
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, f := range fields {
		if _, skip := h.excluded[strings.ToLower(f)]; !skip {
			h.fields = append(h.fields, f)
		}
	}
	return h
}

// Fields returns the field set used for the row.
func (h *Hasher) Fields(row models.SourceRow) []string {
	if len(h.fields) > 0 {
		return h.fields
	}
	names := make([]string, 0, len(row.Fields))
	for name := range row.Fields {
		if _, skip := h.excluded[strings.ToLower(name)]; !skip {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Fingerprint returns the SHA-256 hex digest of the row's canonicalized fields.
func (h *Hasher) Fingerprint(row models.SourceRow) models.Fingerprint {
	fields := h.Fields(row)
	parts := make([]string, len(fields))
	for i, name := range fields {
		parts[i] = name + "=" + h.Canonical(row.Fields[name])
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, separator)))
	return models.Fingerprint(hex.EncodeToString(sum[:]))
}

// Canonical renders a value in its normalized form.
func (h *Hasher) Canonical(val any) string {
	switch v := val.(type) {
	case nil:
		return nullToken
	case *string:
		if v == nil {
			return nullToken
		}
		return h.Canonical(*v)
	case *time.Time:
		if v == nil {
			return nullToken
		}
		return v.UTC().Format(time.RFC3339)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case decimal.Decimal:
		return v.StringFixed(h.precision)
	case json.Number:
		return h.numeric(v)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return h.numeric(v)
	case []byte:
		return h.text(string(v))
	case string:
		return h.text(v)
	default:
		return h.text(utils.ToString(v))
	}
}

func (h *Hasher) numeric(v any) string {
	d, err := utils.ToDecimal(v)
	if err != nil {
		return h.text(utils.ToString(v))
	}
	return d.StringFixed(h.precision)
}

// text trims and lower-cases. Recognisable dates are rendered as RFC 3339 UTC
// since drivers often return them as text. Digits stay text: "007" and "7" are
// different codes.
func (h *Hasher) text(s string) string {
	s = strings.TrimSpace(s)
	if looksLikeDate(s) {
		if t, err := utils.ToTime(s); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	return strings.ToLower(s)
}

func looksLikeDate(s string) bool {
	return len(s) >= 10 && s[4] == '-' && s[7] == '-'
}
