// internal/state/spot_market.go
package state

import (
	"encoding/binary"
	"fmt"

	fpmath "SpotLedger/internal/math"
)

// SpotMarket is the per-asset accounting record: balances, cumulative
// interest indices, risk weights, tier and lifecycle status.
//
// All fixed-point fields keep the precisions defined in internal/math:
// balances in SpotBalancePrecision, indices in
// SpotCumulativeInterestPrecision, weights in SpotWeightPrecision.
type SpotMarket struct {
	Pubkey               Pubkey               `json:"pubkey"`
	Oracle               Pubkey               `json:"oracle"`
	Mint                 Pubkey               `json:"mint"`
	Vault                Pubkey               `json:"vault"`
	Name                 MarketName           `json:"name"`
	HistoricalOracleData HistoricalOracleData `json:"historical_oracle_data"`
	HistoricalIndexData  HistoricalIndexData  `json:"historical_index_data"`
	RevenuePool          PoolBalance          `json:"revenue_pool"`  // in base asset
	SpotFeePool          PoolBalance          `json:"spot_fee_pool"` // in quote asset
	InsuranceFund        InsuranceFund        `json:"insurance_fund"`

	TotalSpotFee              fpmath.U128 `json:"total_spot_fee"`
	DepositBalance            fpmath.U128 `json:"deposit_balance"`
	BorrowBalance             fpmath.U128 `json:"borrow_balance"`
	CumulativeDepositInterest fpmath.U128 `json:"cumulative_deposit_interest"`
	CumulativeBorrowInterest  fpmath.U128 `json:"cumulative_borrow_interest"`

	// No withdraw guard while deposits are below this threshold.
	WithdrawGuardThreshold uint64 `json:"withdraw_guard_threshold"`
	MaxTokenDeposits       uint64 `json:"max_token_deposits"`
	DepositTokenTwap       uint64 `json:"deposit_token_twap"` // 24h
	BorrowTokenTwap        uint64 `json:"borrow_token_twap"`  // 24h
	UtilizationTwap        uint64 `json:"utilization_twap"`   // 24h
	LastInterestTs         uint64 `json:"last_interest_ts"`
	LastTwapTs             uint64 `json:"last_twap_ts"`
	ExpiryTs               int64  `json:"expiry_ts"` // 0 means no expiry
	OrderStepSize          uint64 `json:"order_step_size"`
	OrderTickSize          uint64 `json:"order_tick_size"`
	MinOrderSize           uint64 `json:"min_order_size"`
	MaxPositionSize        uint64 `json:"max_position_size"`
	NextFillRecordID       uint64 `json:"next_fill_record_id"`
	NextDepositRecordID    uint64 `json:"next_deposit_record_id"`

	InitialAssetWeight         uint32 `json:"initial_asset_weight"`
	MaintenanceAssetWeight     uint32 `json:"maintenance_asset_weight"`
	InitialLiabilityWeight     uint32 `json:"initial_liability_weight"`
	MaintenanceLiabilityWeight uint32 `json:"maintenance_liability_weight"`
	IMFFactor                  uint32 `json:"imf_factor"`
	LiquidatorFee              uint32 `json:"liquidator_fee"`
	IFLiquidationFee           uint32 `json:"if_liquidation_fee"` // share of liquidation transfer to insurance
	OptimalUtilization         uint32 `json:"optimal_utilization"`
	OptimalBorrowRate          uint32 `json:"optimal_borrow_rate"`
	MaxBorrowRate              uint32 `json:"max_borrow_rate"`
	Decimals                   uint32 `json:"decimals"`

	MarketIndex   uint16       `json:"market_index"`
	OrdersEnabled bool         `json:"orders_enabled"`
	OracleSource  OracleSource `json:"oracle_source"`
	Status        MarketStatus `json:"status"`
	AssetTier     AssetTier    `json:"asset_tier"`
}

// IsActive reports whether the market is neither settling nor delisted and
// has not passed its expiry.
func (m *SpotMarket) IsActive(now int64) bool {
	statusOK := m.Status != MarketStatusSettlement && m.Status != MarketStatusDelisted
	notExpired := m.ExpiryTs == 0 || now < m.ExpiryTs
	return statusOK && notExpired
}

func (m *SpotMarket) IsReduceOnly() bool {
	return m.Status == MarketStatusReduceOnly
}

// SanitizeClampDenominator returns the oracle clamp denominator for the
// market's tier. Unlisted markets have none and fall back to the default band.
func (m *SpotMarket) SanitizeClampDenominator() (int64, bool) {
	return m.AssetTier.ClampDenominator()
}

// AssetWeight returns the weight applied to a deposit of size (in token
// units). Initial weights are discounted for large sizes; maintenance
// weights are flat.
func (m *SpotMarket) AssetWeight(size fpmath.U128, kind fpmath.MarginRequirementType) (uint32, error) {
	if kind == fpmath.MarginRequirementMaintenance {
		return m.MaintenanceAssetWeight, nil
	}
	scaled, err := fpmath.ToReservePrecision(size, m.Decimals)
	if err != nil {
		return 0, fmt.Errorf("market %d asset weight: %w", m.MarketIndex, err)
	}
	w, err := fpmath.CalculateSizeDiscountAssetWeight(scaled, m.IMFFactor, m.InitialAssetWeight)
	if err != nil {
		return 0, fmt.Errorf("market %d asset weight: %w", m.MarketIndex, err)
	}
	return w, nil
}

// LiabilityWeight returns the weight applied to a borrow of size, never
// below the configured weight for kind.
func (m *SpotMarket) LiabilityWeight(size fpmath.U128, kind fpmath.MarginRequirementType) (uint32, error) {
	base := m.baseLiabilityWeight(kind)

	scaled, err := fpmath.ToReservePrecision(size, m.Decimals)
	if err != nil {
		return 0, fmt.Errorf("market %d liability weight: %w", m.MarketIndex, err)
	}
	w, err := fpmath.CalculateSizePremiumLiabilityWeight(scaled, m.IMFFactor, base, fpmath.SpotWeightPrecisionU128)
	if err != nil {
		return 0, fmt.Errorf("market %d liability weight: %w", m.MarketIndex, err)
	}
	return max(w, base), nil
}

// MarginRatio expresses the liability weight as a perp-style margin ratio.
func (m *SpotMarket) MarginRatio(kind fpmath.MarginRequirementType) (uint32, error) {
	r, err := fpmath.SafeSubU(m.baseLiabilityWeight(kind), fpmath.MarginPrecision)
	if err != nil {
		return 0, fmt.Errorf("market %d margin ratio: %w", m.MarketIndex, err)
	}
	return r, nil
}

func (m *SpotMarket) baseLiabilityWeight(kind fpmath.MarginRequirementType) uint32 {
	if kind == fpmath.MarginRequirementMaintenance {
		return m.MaintenanceLiabilityWeight
	}
	return m.InitialLiabilityWeight
}

// CumulativeInterest returns the index for the given side.
func (m *SpotMarket) CumulativeInterest(side SpotBalanceType) fpmath.U128 {
	if side == SpotBalanceTypeBorrow {
		return m.CumulativeBorrowInterest
	}
	return m.CumulativeDepositInterest
}

// TokenAmount converts a scaled balance into token units.
func (m *SpotMarket) TokenAmount(balance fpmath.U128, side SpotBalanceType) (fpmath.U128, error) {
	return fpmath.GetTokenAmount(balance, m.CumulativeInterest(side), m.Decimals)
}

// SpotBalance converts a token amount into a scaled balance, truncating.
func (m *SpotMarket) SpotBalance(tokenAmount fpmath.U128, side SpotBalanceType) (fpmath.U128, error) {
	return fpmath.GetSpotBalance(tokenAmount, m.CumulativeInterest(side), m.Decimals)
}

// AvailableDeposits is deposit tokens minus borrow tokens. Fails when
// borrows exceed deposits.
func (m *SpotMarket) AvailableDeposits() (fpmath.U128, error) {
	deposits, err := m.TokenAmount(m.DepositBalance, SpotBalanceTypeDeposit)
	if err != nil {
		return fpmath.U128{}, err
	}
	borrows, err := m.TokenAmount(m.BorrowBalance, SpotBalanceTypeBorrow)
	if err != nil {
		return fpmath.U128{}, err
	}
	return deposits.SafeSub(borrows)
}

// Precision returns 10^decimals.
func (m *SpotMarket) Precision() (uint64, error) {
	p, err := fpmath.Pow10(m.Decimals)
	if err != nil {
		return 0, err
	}
	return p.CastU64()
}

// Clone returns an independent copy. SpotMarket holds no references, so a
// value copy suffices.
func (m *SpotMarket) Clone() *SpotMarket {
	c := *m
	return &c
}

// CanonicalBytes encodes every field in declaration order, little-endian,
// for deterministic state hashing.
func (m *SpotMarket) CanonicalBytes() []byte {
	buf := make([]byte, 0, 768)

	buf = append(buf, m.Pubkey[:]...)
	buf = append(buf, m.Oracle[:]...)
	buf = append(buf, m.Mint[:]...)
	buf = append(buf, m.Vault[:]...)
	buf = append(buf, m.Name[:]...)

	h := m.HistoricalOracleData
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.LastOraclePrice))
	buf = binary.LittleEndian.AppendUint64(buf, h.LastOracleConf)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.LastOracleDelay))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.LastOraclePriceTwap))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.LastOraclePriceTwap5Min))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.LastOraclePriceTwapTs))

	x := m.HistoricalIndexData
	buf = binary.LittleEndian.AppendUint64(buf, x.LastIndexBidPrice)
	buf = binary.LittleEndian.AppendUint64(buf, x.LastIndexAskPrice)
	buf = binary.LittleEndian.AppendUint64(buf, x.LastIndexPriceTwap)
	buf = binary.LittleEndian.AppendUint64(buf, x.LastIndexPriceTwap5Min)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(x.LastIndexPriceTwapTs))

	buf = m.RevenuePool.appendCanonical(buf)
	buf = m.SpotFeePool.appendCanonical(buf)
	buf = m.InsuranceFund.appendCanonical(buf)

	buf = appendU128LE(buf, m.TotalSpotFee)
	buf = appendU128LE(buf, m.DepositBalance)
	buf = appendU128LE(buf, m.BorrowBalance)
	buf = appendU128LE(buf, m.CumulativeDepositInterest)
	buf = appendU128LE(buf, m.CumulativeBorrowInterest)

	for _, v := range [...]uint64{
		m.WithdrawGuardThreshold,
		m.MaxTokenDeposits,
		m.DepositTokenTwap,
		m.BorrowTokenTwap,
		m.UtilizationTwap,
		m.LastInterestTs,
		m.LastTwapTs,
		uint64(m.ExpiryTs),
		m.OrderStepSize,
		m.OrderTickSize,
		m.MinOrderSize,
		m.MaxPositionSize,
		m.NextFillRecordID,
		m.NextDepositRecordID,
	} {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}

	for _, v := range [...]uint32{
		m.InitialAssetWeight,
		m.MaintenanceAssetWeight,
		m.InitialLiabilityWeight,
		m.MaintenanceLiabilityWeight,
		m.IMFFactor,
		m.LiquidatorFee,
		m.IFLiquidationFee,
		m.OptimalUtilization,
		m.OptimalBorrowRate,
		m.MaxBorrowRate,
		m.Decimals,
	} {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}

	buf = binary.LittleEndian.AppendUint16(buf, m.MarketIndex)
	if m.OrdersEnabled {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(m.OracleSource), byte(m.Status), byte(m.AssetTier))

	return buf
}

func appendU128LE(buf []byte, v fpmath.U128) []byte {
	lo, hi := v.Limbs()
	buf = binary.LittleEndian.AppendUint64(buf, lo)
	return binary.LittleEndian.AppendUint64(buf, hi)
}
