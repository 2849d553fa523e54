package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayouts are the text layouts recognised as dates, tried in order.
var DateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ToInt converts various types to int64 using explicit type switching.
// It handles standard integer types, whole floats, strings, and byte slices.
func ToInt(val any) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("value %v is not a whole number", v)
		}
		return int64(v), nil
	case float32:
		return ToInt(float64(v))
	case decimal.Decimal:
		if !v.IsInteger() {
			return 0, fmt.Errorf("value %s is not a whole number", v)
		}
		return v.IntPart(), nil
	case json.Number:
		return v.Int64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not an integer", v)
		}
		return i, nil
	case []byte:
		return ToInt(string(v))
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", val)
	}
}

// ToDecimal converts numeric values and numeric strings to an exact decimal.
func ToDecimal(val any) (decimal.Decimal, error) {
	switch v := val.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, fmt.Errorf("value %v is not a finite number", v)
		}
		return decimal.NewFromFloat(v), nil
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return decimal.Zero, fmt.Errorf("value %v is not a finite number", v)
		}
		return decimal.NewFromFloat32(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, fmt.Errorf("value %q is not numeric", v)
		}
		return d, nil
	case []byte:
		return ToDecimal(string(v))
	}
	i, err := ToInt(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cannot convert %T to decimal", val)
	}
	return decimal.NewFromInt(i), nil
}

// ToFloat converts numeric values and numeric strings to float64.
func ToFloat(val any) (float64, error) {
	d, err := ToDecimal(val)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// ToString converts various types to string.
func ToString(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case decimal.Decimal:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ToBool converts various types to bool.
// It handles bool, numeric types (1=true), and strings ("1", "true", "yes").
func ToBool(val any) (bool, error) {
	switch v := val.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y":
			return true, nil
		case "0", "false", "no", "n", "":
			return false, nil
		}
		return false, fmt.Errorf("value %q is not a boolean", v)
	case []byte:
		return ToBool(string(v))
	}
	i, err := ToInt(val)
	if err != nil {
		return false, fmt.Errorf("cannot convert %T to boolean", val)
	}
	return i == 1, nil
}

// ToTime converts time values and date strings in one of DateLayouts to UTC time.
func ToTime(val any) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		if v == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return v.UTC(), nil
	case []byte:
		return ToTime(string(v))
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range DateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("value %q is not a date", v)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", val)
	}
}

// Coercions lists the kinds accepted by Coerce.
var Coercions = []string{"int", "float", "decimal", "bool", "string", "date"}

// IsCoercion reports whether kind is empty or one of Coercions.
func IsCoercion(kind string) bool {
	return kind == "" || slices.Contains(Coercions, kind)
}

// Coerce converts val to the named kind: int, float, decimal, bool, string, or date.
// An empty kind returns val unchanged.
func Coerce(kind string, val any) (any, error) {
	if val == nil {
		return nil, nil
	}
	switch kind {
	case "":
		return val, nil
	case "int":
		return ToInt(val)
	case "float":
		return ToFloat(val)
	case "decimal":
		return ToDecimal(val)
	case "bool":
		return ToBool(val)
	case "string":
		return ToString(val), nil
	case "date":
		t, err := ToTime(val)
		if err != nil {
			return nil, err
		}
		return t.Format("2006-01-02"), nil
	default:
		return nil, fmt.Errorf("unknown coercion %q", kind)
	}
}
