package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToReservePrecision(t *testing.T) {
	tests := []struct {
		name     string
		size     U128
		decimals uint32
		want     string
	}{
		{"six decimals scales up", NewU128(1_000_000), 6, "1000000000"},
		{"nine decimals unchanged", NewU128(1_000_000_000), 9, "1000000000"},
		{"twelve decimals scales down", MustU128("1000000000000"), 12, "1000000000"},
		{"sub-unit truncates", NewU128(5), 6, "5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToReservePrecision(tt.size, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, err := ToReservePrecision(NewU128(1), 39)
	assert.ErrorIs(t, err, ErrMathError)
}

func TestCalculateSizeDiscountAssetWeight(t *testing.T) {
	tests := []struct {
		name string
		size U128
		imf  uint32
		want uint32
	}{
		{"zero imf is a no-op", MustU128("1000000000000000000"), 0, 8000},
		{"zero size keeps base", NewU128(0), 1000, 8000},
		{"small size keeps base", MustU128("1000000000000"), 1000, 8000},
		{"large size discounts", MustU128("1000000000000000"), 1000, 5500},
		{"huge size discounts further", MustU128("1000000000000000000"), 1000, 337},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateSizeDiscountAssetWeight(tt.size, tt.imf, 8000)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateSizeDiscountAssetWeight_Monotonic(t *testing.T) {
	for _, imf := range []uint32{1, 100, 1000, 50_000, 1_000_000} {
		prev := uint32(8000)
		size := NewU128(1)
		for i := 0; i < 30; i++ {
			w, err := CalculateSizeDiscountAssetWeight(size, imf, 8000)
			require.NoError(t, err)
			assert.LessOrEqual(t, w, prev, "imf=%d size=%s", imf, size)
			assert.LessOrEqual(t, w, uint32(8000))
			prev = w
			size, err = size.SafeMulUint64(7)
			require.NoError(t, err)
		}
	}
}

func TestCalculateSizePremiumLiabilityWeight(t *testing.T) {
	tests := []struct {
		name string
		size U128
		imf  uint32
		lw   uint32
		want uint32
	}{
		{"zero imf is a no-op", MustU128("1000000000000000000"), 0, 12000, 12000},
		{"zero size keeps base", NewU128(0), 1000, 12000, 12000},
		{"premium at 1e12", MustU128("1000000000000"), 1000, 12000, 12304},
		{"premium at 1e15", MustU128("1000000000000000"), 1000, 12000, 21988},
		{"maintenance base at 1e15", MustU128("1000000000000000"), 1000, 11000, 20989},
		{"imf above precision zeroes numerator", NewU128(0), 2_000_000, 12000, 12000},
		{"steep imf", MustU128("1000000000000000000"), 100_000, 12000, 31633576},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateSizePremiumLiabilityWeight(tt.size, tt.imf, tt.lw, SpotWeightPrecisionU128)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateSizePremiumLiabilityWeight_MonotonicAndFloored(t *testing.T) {
	for _, imf := range []uint32{1, 100, 1000, 50_000, 1_000_000} {
		prev := uint32(0)
		size := NewU128(1)
		for i := 0; i < 20; i++ {
			w, err := CalculateSizePremiumLiabilityWeight(size, imf, 11000, SpotWeightPrecisionU128)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, w, prev, "imf=%d size=%s", imf, size)
			assert.GreaterOrEqual(t, w, uint32(11000))
			prev = w
			size, err = size.SafeMulUint64(7)
			require.NoError(t, err)
		}
	}
}

func TestCalculateSizePremiumLiabilityWeight_Overflow(t *testing.T) {
	_, err := CalculateSizePremiumLiabilityWeight(MaxU128(), 1_000_000, 12000, SpotWeightPrecisionU128)
	assert.ErrorIs(t, err, ErrMathError)
}

func TestParseMarginRequirementType(t *testing.T) {
	kind, err := ParseMarginRequirementType("Maintenance")
	require.NoError(t, err)
	assert.Equal(t, MarginRequirementMaintenance, kind)

	kind, err = ParseMarginRequirementType("initial")
	require.NoError(t, err)
	assert.Equal(t, MarginRequirementInitial, kind)

	_, err = ParseMarginRequirementType("fill")
	assert.Error(t, err)
}
