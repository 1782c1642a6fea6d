package math

import (
	"fmt"
	"strings"
)

// MarginRequirementType selects which set of weights applies to a check.
type MarginRequirementType int

const (
	MarginRequirementInitial MarginRequirementType = iota
	MarginRequirementMaintenance
)

func (t MarginRequirementType) String() string {
	switch t {
	case MarginRequirementInitial:
		return "Initial"
	case MarginRequirementMaintenance:
		return "Maintenance"
	default:
		return "Unknown"
	}
}

// ParseMarginRequirementType accepts "initial" or "maintenance" in any case.
func ParseMarginRequirementType(s string) (MarginRequirementType, error) {
	switch strings.ToLower(s) {
	case "initial":
		return MarginRequirementInitial, nil
	case "maintenance":
		return MarginRequirementMaintenance, nil
	default:
		return 0, fmt.Errorf("unknown margin requirement type %q", s)
	}
}

// ToReservePrecision rescales a size expressed in 10^decimals units into
// AMMReservePrecision units.
func ToReservePrecision(size U128, decimals uint32) (U128, error) {
	sizePrecision, err := Pow10(decimals)
	if err != nil {
		return U128{}, err
	}
	if sizePrecision.Gt(AMMReservePrecisionU128) {
		divisor, err := sizePrecision.SafeDiv(AMMReservePrecisionU128)
		if err != nil {
			return U128{}, err
		}
		return size.SafeDiv(divisor)
	}
	scaled, err := size.SafeMul(AMMReservePrecisionU128)
	if err != nil {
		return U128{}, err
	}
	return scaled.SafeDiv(sizePrecision)
}

// sizeSqrt returns sqrt(size*10 + 1): a 1e9-precision size becomes a
// 1e5-precision root.
func sizeSqrt(size U128) (U128, error) {
	scaled, err := size.SafeMulUint64(10)
	if err != nil {
		return U128{}, err
	}
	scaled, err = scaled.SafeAddUint64(1)
	if err != nil {
		return U128{}, err
	}
	return scaled.Sqrt(), nil
}

// CalculateSizeDiscountAssetWeight discounts assetWeight as size grows:
//
//	1.1 * SPOT_WEIGHT_PRECISION / (1 + sqrt(size*10+1) * imf / 1e5 / IMF_PRECISION)
//
// The result never exceeds assetWeight. size is in AMMReservePrecision.
func CalculateSizeDiscountAssetWeight(size U128, imfFactor uint32, assetWeight uint32) (uint32, error) {
	if imfFactor == 0 {
		return assetWeight, nil
	}

	root, err := sizeSqrt(size)
	if err != nil {
		return 0, err
	}

	imfNumerator := SpotIMFPrecision + SpotIMFPrecision/10

	numerator, err := NewU128(imfNumerator).SafeMul(SpotWeightPrecisionU128)
	if err != nil {
		return 0, err
	}

	premium, err := root.SafeMulUint64(uint64(imfFactor))
	if err != nil {
		return 0, err
	}
	premium, err = premium.SafeDivUint64(100_000)
	if err != nil {
		return 0, err
	}
	denominator, err := SpotIMFPrecisionU128.SafeAdd(premium)
	if err != nil {
		return 0, err
	}

	discounted, err := numerator.SafeDiv(denominator)
	if err != nil {
		return 0, err
	}

	discountedU32, err := discounted.CastU32()
	if err != nil {
		return 0, err
	}

	if discountedU32 < assetWeight {
		return discountedU32, nil
	}
	return assetWeight, nil
}

// CalculateSizePremiumLiabilityWeight raises liabilityWeight as size grows:
//
//	lw - lw/max(1, IMF_PRECISION/imf) + sqrt(size*10+1) * imf / (1e5 * IMF_PRECISION / precision)
//
// The result is never below liabilityWeight. size is in AMMReservePrecision.
func CalculateSizePremiumLiabilityWeight(size U128, imfFactor uint32, liabilityWeight uint32, precision U128) (uint32, error) {
	if imfFactor == 0 {
		return liabilityWeight, nil
	}

	root, err := sizeSqrt(size)
	if err != nil {
		return 0, err
	}

	lw := NewU128(uint64(liabilityWeight))

	imfRatio, err := SpotIMFPrecisionU128.SafeDivUint64(uint64(imfFactor))
	if err != nil {
		return 0, err
	}
	imfRatio = Max(NewU128(1), imfRatio)

	lwReduction, err := lw.SafeDiv(imfRatio)
	if err != nil {
		return 0, err
	}
	lwNumerator, err := lw.SafeSub(lwReduction)
	if err != nil {
		return 0, err
	}

	scale, err := NewU128(100_000).SafeMul(SpotIMFPrecisionU128)
	if err != nil {
		return 0, err
	}
	scale, err = scale.SafeDiv(precision)
	if err != nil {
		return 0, err
	}

	premium, err := root.SafeMulUint64(uint64(imfFactor))
	if err != nil {
		return 0, err
	}
	premium, err = premium.SafeDiv(scale)
	if err != nil {
		return 0, err
	}

	weighted, err := lwNumerator.SafeAdd(premium)
	if err != nil {
		return 0, err
	}
	weightedU32, err := weighted.CastU32()
	if err != nil {
		return 0, err
	}

	if weightedU32 > liabilityWeight {
		return weightedU32, nil
	}
	return liabilityWeight, nil
}
