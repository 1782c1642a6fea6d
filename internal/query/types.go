package query

import (
	fpmath "SpotLedger/internal/math"
	"SpotLedger/internal/state"
)

// MarketSummary is the risk view of one market. UI fields are decimal
// strings scaled by the market's token decimals or by weight precision.
type MarketSummary struct {
	MarketIndex       uint16             `json:"market_index"`
	Name              string             `json:"name"`
	Status            state.MarketStatus `json:"status"`
	AssetTier         state.AssetTier    `json:"asset_tier"`
	TierNumber        uint8              `json:"tier_number"`
	IsCollateral      bool               `json:"is_collateral"`
	IsBorrowable      bool               `json:"is_borrowable"`
	AllowsMultiBorrow bool               `json:"allows_multi_borrow"`
	IsActive          bool               `json:"is_active"`
	IsReduceOnly      bool               `json:"is_reduce_only"`
	ClampDenominator  *int64             `json:"clamp_denominator,omitempty"`
	Decimals          uint32             `json:"decimals"`

	InitialAssetWeight         string `json:"initial_asset_weight"`
	MaintenanceAssetWeight     string `json:"maintenance_asset_weight"`
	InitialLiabilityWeight     string `json:"initial_liability_weight"`
	MaintenanceLiabilityWeight string `json:"maintenance_liability_weight"`
	IMFFactor                  string `json:"imf_factor"`

	DepositTokenAmount string `json:"deposit_token_amount"`
	BorrowTokenAmount  string `json:"borrow_token_amount"`
	// Empty when borrows exceed deposits.
	AvailableDeposits string `json:"available_deposits,omitempty"`

	InsuranceTotalShares    fpmath.U128 `json:"insurance_total_shares"`
	InsuranceUserShares     fpmath.U128 `json:"insurance_user_shares"`
	InsuranceProtocolShares fpmath.U128 `json:"insurance_protocol_shares"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// MarketDetail is the summary plus the full market record.
type MarketDetail struct {
	MarketSummary
	Market *state.SpotMarket `json:"market"`
}

// WeightsResponse holds the weights that apply to a position of Size token
// units under one margin requirement.
type WeightsResponse struct {
	MarketIndex       uint16      `json:"market_index"`
	Size              fpmath.U128 `json:"size"`
	MarginRequirement string      `json:"margin_requirement"`
	AssetWeight       uint32      `json:"asset_weight"`
	LiabilityWeight   uint32      `json:"liability_weight"`
	MarginRatio       uint32      `json:"margin_ratio"`
	AssetWeightUI     string      `json:"asset_weight_ui"`
	LiabilityWeightUI string      `json:"liability_weight_ui"`
	MarginRatioUI     string      `json:"margin_ratio_ui"`
	IsActive          bool        `json:"is_active"`
	AsOfSequence      int64       `json:"as_of_sequence"`
}

// TokenAmountResponse converts a scaled balance into token units.
type TokenAmountResponse struct {
	MarketIndex   uint16                `json:"market_index"`
	ScaledBalance fpmath.U128           `json:"scaled_balance"`
	BalanceType   state.SpotBalanceType `json:"balance_type"`
	TokenAmount   fpmath.U128           `json:"token_amount"`
	TokenAmountUI string                `json:"token_amount_ui"`
	AsOfSequence  int64                 `json:"as_of_sequence"`
}

// BalanceUpdateResponse is the result of moving Amount tokens in Direction
// through a position, computed on a copy of the market.
type BalanceUpdateResponse struct {
	MarketIndex          uint16                `json:"market_index"`
	Amount               fpmath.U128           `json:"amount"`
	Direction            state.SpotBalanceType `json:"direction"`
	ScaledBalance        uint64                `json:"scaled_balance"`
	BalanceType          state.SpotBalanceType `json:"balance_type"`
	TokenAmount          fpmath.U128           `json:"token_amount"`
	TokenAmountUI        string                `json:"token_amount_ui"`
	MarketDepositBalance fpmath.U128           `json:"market_deposit_balance"`
	MarketBorrowBalance  fpmath.U128           `json:"market_borrow_balance"`
	AsOfSequence         int64                 `json:"as_of_sequence"`
}
