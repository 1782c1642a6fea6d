package event

import (
	"fmt"

	"SpotLedger/internal/state"
)

// SpotRiskParamUpdate replaces a market's margin weights, imf factor, fees
// and asset tier. Weights are in SpotWeightPrecision (10_000 = 1.0).
type SpotRiskParamUpdate struct {
	Market                     uint16          `json:"market_index"`
	InitialAssetWeight         uint32          `json:"initial_asset_weight"`
	MaintenanceAssetWeight     uint32          `json:"maintenance_asset_weight"`
	InitialLiabilityWeight     uint32          `json:"initial_liability_weight"`
	MaintenanceLiabilityWeight uint32          `json:"maintenance_liability_weight"`
	IMFFactor                  uint32          `json:"imf_factor"`
	LiquidatorFee              uint32          `json:"liquidator_fee"`
	IFLiquidationFee           uint32          `json:"if_liquidation_fee"`
	AssetTier                  state.AssetTier `json:"asset_tier"`
	Sequence                   int64           `json:"sequence"`
	Ts                         int64           `json:"ts"`
}

func (r *SpotRiskParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("spot_risk_param:%d:%d", r.Market, r.Sequence)
}

func (r *SpotRiskParamUpdate) EventType() EventType {
	return EventTypeSpotRiskParamUpdate
}

func (r *SpotRiskParamUpdate) MarketIndex() uint16 {
	return r.Market
}

func (r *SpotRiskParamUpdate) SourceSequence() int64 {
	return r.Sequence
}

func (r *SpotRiskParamUpdate) Timestamp() int64 {
	return r.Ts
}
