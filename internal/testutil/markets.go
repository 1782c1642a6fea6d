package testutil

import (
	fpmath "SpotLedger/internal/math"
	"SpotLedger/internal/state"
)

// DefaultBaseMarket is an active 9-decimal asset at market index 1 with
// no accrued interest and a 20%/10% liability premium.
func DefaultBaseMarket() *state.SpotMarket {
	return &state.SpotMarket{
		MarketIndex:                1,
		Name:                       state.NewMarketName("SOL"),
		CumulativeDepositInterest:  fpmath.SpotCumulativeInterestPrecisionU128,
		CumulativeBorrowInterest:   fpmath.SpotCumulativeInterestPrecisionU128,
		InitialLiabilityWeight:     12000,
		MaintenanceLiabilityWeight: 11000,
		InitialAssetWeight:         8000,
		MaintenanceAssetWeight:     9000,
		Decimals:                   9,
		OrderTickSize:              1,
		Status:                     state.MarketStatusActive,
		AssetTier:                  state.DefaultAssetTier(),
		RevenuePool:                state.PoolBalance{Market: 1},
		SpotFeePool:                state.PoolBalance{Market: 0},
	}
}

// DefaultQuoteMarket is the 6-decimal quote asset at market index 0 with
// unit weights.
func DefaultQuoteMarket() *state.SpotMarket {
	return &state.SpotMarket{
		MarketIndex:                0,
		Name:                       state.NewMarketName("USDC"),
		CumulativeDepositInterest:  fpmath.SpotCumulativeInterestPrecisionU128,
		CumulativeBorrowInterest:   fpmath.SpotCumulativeInterestPrecisionU128,
		InitialLiabilityWeight:     10000,
		MaintenanceLiabilityWeight: 10000,
		InitialAssetWeight:         10000,
		MaintenanceAssetWeight:     10000,
		Decimals:                   6,
		OrderTickSize:              1,
		Status:                     state.MarketStatusActive,
		AssetTier:                  state.AssetTierCollateral,
	}
}
