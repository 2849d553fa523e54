package utils

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToInt(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    int64
		wantErr bool
	}{
		{"int", 42, 42, false},
		{"uint8", uint8(7), 7, false},
		{"whole float", 3.0, 3, false},
		{"fraction", 3.5, 0, true},
		{"string", " 12 ", 12, false},
		{"bytes", []byte("9"), 9, false},
		{"bad string", "abc", 0, true},
		{"struct", struct{}{}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToInt(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToDecimal(t *testing.T) {
	d, err := ToDecimal("1500.50")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("1500.5")))

	d, err = ToDecimal(int32(4))
	require.NoError(t, err)
	assert.Equal(t, "4", d.String())

	_, err = ToDecimal("n/a")
	assert.Error(t, err)

	for _, v := range []any{math.NaN(), math.Inf(1), math.Inf(-1), float32(math.Inf(1))} {
		assert.NotPanics(t, func() {
			_, err = ToDecimal(v)
		})
		assert.ErrorContains(t, err, "not a finite number")
	}

	_, err = ToFloat(math.NaN())
	assert.Error(t, err)
}

func TestToBool(t *testing.T) {
	v, err := ToBool("Yes")
	require.NoError(t, err)
	assert.True(t, v)

	v, err = ToBool(0)
	require.NoError(t, err)
	assert.False(t, v)

	_, err = ToBool("maybe")
	assert.Error(t, err)
}

func TestToTime(t *testing.T) {
	got, err := ToTime("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = ToTime("2024-03-01T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, 8, got.Hour())

	_, err = ToTime("yesterday")
	assert.Error(t, err)
}

func TestCoerce(t *testing.T) {
	v, err := Coerce("date", "2024-03-01 12:30:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", v)

	v, err = Coerce("", "kept")
	require.NoError(t, err)
	assert.Equal(t, "kept", v)

	v, err = Coerce("int", nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Coerce("decimal", math.Inf(1))
	assert.Error(t, err)

	_, err = Coerce("uuid", "x")
	assert.ErrorContains(t, err, "unknown coercion")
}

func TestIsCoercion(t *testing.T) {
	assert.True(t, IsCoercion(""))
	assert.True(t, IsCoercion("date"))
	assert.False(t, IsCoercion("uuid"))
}
