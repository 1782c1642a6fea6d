package math

// balancePrecisionScale returns 10^(19 - decimals), the factor between
// balance*index and a token amount in native units.
func balancePrecisionScale(decimals uint32) (U128, error) {
	exp, err := SafeSubU(balanceConversionExponent, decimals)
	if err != nil {
		return U128{}, err
	}
	return Pow10(exp)
}

// GetTokenAmount converts a normalized balance into a token amount in the
// token's native precision: balance * cumulativeInterest / 10^(19-decimals).
func GetTokenAmount(balance, cumulativeInterest U128, decimals uint32) (U128, error) {
	precisionDecrease, err := balancePrecisionScale(decimals)
	if err != nil {
		return U128{}, err
	}
	product, err := balance.SafeMul(cumulativeInterest)
	if err != nil {
		return U128{}, err
	}
	return product.SafeDiv(precisionDecrease)
}

// GetSpotBalance is the inverse of GetTokenAmount. The result is truncated,
// so converting back never yields more tokens than were supplied.
func GetSpotBalance(tokenAmount, cumulativeInterest U128, decimals uint32) (U128, error) {
	precisionIncrease, err := balancePrecisionScale(decimals)
	if err != nil {
		return U128{}, err
	}
	scaled, err := tokenAmount.SafeMul(precisionIncrease)
	if err != nil {
		return U128{}, err
	}
	return scaled.SafeDiv(cumulativeInterest)
}

// GetSpotBalanceRoundUp is GetSpotBalance rounded up, for debiting a
// deposit: the balance removed always covers the tokens taken out.
func GetSpotBalanceRoundUp(tokenAmount, cumulativeInterest U128, decimals uint32) (U128, error) {
	floor, err := GetSpotBalance(tokenAmount, cumulativeInterest, decimals)
	if err != nil {
		return U128{}, err
	}
	back, err := floor.SafeMul(cumulativeInterest)
	if err != nil {
		return U128{}, err
	}
	precisionIncrease, err := balancePrecisionScale(decimals)
	if err != nil {
		return U128{}, err
	}
	scaled, err := tokenAmount.SafeMul(precisionIncrease)
	if err != nil {
		return U128{}, err
	}
	if back.Eq(scaled) {
		return floor, nil
	}
	return floor.SafeAddUint64(1)
}
