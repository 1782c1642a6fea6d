package math

// VaultAmountToShares converts a deposit into insurance fund shares at the
// current share price. An empty vault mints shares 1:1.
func VaultAmountToShares(amount uint64, totalShares U128, vaultBalance uint64) (U128, error) {
	if vaultBalance == 0 {
		return NewU128(amount), nil
	}
	scaled, err := NewU128(amount).SafeMul(totalShares)
	if err != nil {
		return U128{}, err
	}
	return scaled.SafeDivUint64(vaultBalance)
}

// SharesToVaultAmount converts shares into the vault amount they redeem for.
func SharesToVaultAmount(shares, totalShares U128, vaultBalance uint64) (uint64, error) {
	if shares.Gt(totalShares) {
		return 0, mathErr("shares exceed total", shares.String(), totalShares.String())
	}
	if totalShares.IsZero() {
		return 0, nil
	}
	scaled, err := shares.SafeMulUint64(vaultBalance)
	if err != nil {
		return 0, err
	}
	amount, err := scaled.SafeDiv(totalShares)
	if err != nil {
		return 0, err
	}
	return amount.CastU64()
}

// CalculateRebaseInfo returns how many orders of magnitude shares can be
// divided down by when they have grown far above the vault balance, and the
// matching divisor 10^expoDiff.
func CalculateRebaseInfo(totalShares U128, vaultBalance uint64) (uint32, U128, error) {
	if vaultBalance == 0 {
		return 0, U128{}, mathErr("rebase on empty vault")
	}
	full, err := totalShares.SafeDivUint64(10)
	if err != nil {
		return 0, U128{}, err
	}
	full, err = full.SafeDivUint64(vaultBalance)
	if err != nil {
		return 0, U128{}, err
	}
	expoDiff := Log10(full)
	divisor, err := Pow10(expoDiff)
	if err != nil {
		return 0, U128{}, err
	}
	return expoDiff, divisor, nil
}
