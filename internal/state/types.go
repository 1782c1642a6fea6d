// internal/state/types.go
package state

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Pubkey is an opaque 32-byte account identifier. Text form is lowercase hex.
type Pubkey [32]byte

func (p Pubkey) String() string {
	return hex.EncodeToString(p[:])
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pubkey) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(string(text), "0x")
	if s == "" {
		*p = Pubkey{}
		return nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("pubkey %q: %w", text, err)
	}
	if len(raw) != len(p) {
		return fmt.Errorf("pubkey %q: want %d bytes, got %d", text, len(p), len(raw))
	}
	copy(p[:], raw)
	return nil
}

// MarketName is a fixed 32-byte, NUL-padded display name.
type MarketName [32]byte

// NewMarketName truncates s to 32 bytes.
func NewMarketName(s string) MarketName {
	var n MarketName
	copy(n[:], s)
	return n
}

func (n MarketName) String() string {
	return strings.TrimRight(string(n[:]), "\x00 ")
}

func (n MarketName) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *MarketName) UnmarshalText(text []byte) error {
	if len(text) > len(n) {
		return fmt.Errorf("market name %q longer than %d bytes", text, len(n))
	}
	*n = NewMarketName(string(text))
	return nil
}

// MarketStatus is the lifecycle state of a spot market.
type MarketStatus uint8

const (
	MarketStatusInitialized MarketStatus = iota
	MarketStatusActive
	MarketStatusFundingPaused
	MarketStatusAmmPaused
	MarketStatusFillPaused
	MarketStatusWithdrawPaused
	MarketStatusReduceOnly
	MarketStatusSettlement
	MarketStatusDelisted
)

var marketStatusNames = [...]string{
	"initialized",
	"active",
	"funding_paused",
	"amm_paused",
	"fill_paused",
	"withdraw_paused",
	"reduce_only",
	"settlement",
	"delisted",
}

// DefaultMarketStatus is the status of a freshly listed market.
func DefaultMarketStatus() MarketStatus {
	return MarketStatusInitialized
}

func (s MarketStatus) String() string {
	if int(s) < len(marketStatusNames) {
		return marketStatusNames[s]
	}
	return fmt.Sprintf("MarketStatus(%d)", uint8(s))
}

func (s MarketStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(marketStatusNames) {
		return nil, fmt.Errorf("unknown market status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *MarketStatus) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = DefaultMarketStatus()
		return nil
	}
	for i, name := range marketStatusNames {
		if strings.EqualFold(name, string(text)) {
			*s = MarketStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown market status %q", text)
}

// AssetTier governs how an asset may be used as collateral and borrowed.
// The zero value is Unlisted, the least privileged tier.
type AssetTier uint8

const (
	// AssetTierUnlisted: no collateral, no borrow.
	AssetTierUnlisted AssetTier = iota
	// AssetTierCollateral: full privileges.
	AssetTierCollateral
	// AssetTierProtected: collateral, but no borrow.
	AssetTierProtected
	// AssetTierCross: not collateral, allows multi-borrow.
	AssetTierCross
	// AssetTierIsolated: not collateral, only single borrow.
	AssetTierIsolated
)

var assetTierNames = [...]string{
	AssetTierUnlisted:   "unlisted",
	AssetTierCollateral: "collateral",
	AssetTierProtected:  "protected",
	AssetTierCross:      "cross",
	AssetTierIsolated:   "isolated",
}

// DefaultAssetTier is the tier used when none is configured.
func DefaultAssetTier() AssetTier {
	return AssetTierUnlisted
}

func (t AssetTier) String() string {
	if int(t) < len(assetTierNames) {
		return assetTierNames[t]
	}
	return fmt.Sprintf("AssetTier(%d)", uint8(t))
}

// ClampDenominator returns the tier's clamp denominator. Unlisted has none.
func (t AssetTier) ClampDenominator() (int64, bool) {
	switch t {
	case AssetTierCollateral, AssetTierProtected:
		return 10, true
	case AssetTierCross:
		return 5, true
	case AssetTierIsolated:
		return 3, true
	default:
		return 0, false
	}
}

// IsCollateral reports whether deposits count toward collateral.
func (t AssetTier) IsCollateral() bool {
	return t == AssetTierCollateral || t == AssetTierProtected
}

// IsBorrowable reports whether the asset can be borrowed at all.
func (t AssetTier) IsBorrowable() bool {
	return t == AssetTierCollateral || t == AssetTierCross || t == AssetTierIsolated
}

// AllowsMultiBorrow reports whether the asset can be borrowed alongside
// other liabilities.
func (t AssetTier) AllowsMultiBorrow() bool {
	return t == AssetTierCollateral || t == AssetTierCross
}

// TierNumber orders tiers from most (0) to least (4) privileged.
func (t AssetTier) TierNumber() uint8 {
	switch t {
	case AssetTierCollateral:
		return 0
	case AssetTierProtected:
		return 1
	case AssetTierCross:
		return 2
	case AssetTierIsolated:
		return 3
	default:
		return 4
	}
}

func (t AssetTier) MarshalText() ([]byte, error) {
	if int(t) >= len(assetTierNames) {
		return nil, fmt.Errorf("unknown asset tier %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *AssetTier) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = DefaultAssetTier()
		return nil
	}
	for i, name := range assetTierNames {
		if strings.EqualFold(name, string(text)) {
			*t = AssetTier(i)
			return nil
		}
	}
	return fmt.Errorf("unknown asset tier %q", text)
}

// SpotBalanceType is the side of a balance.
type SpotBalanceType uint8

const (
	SpotBalanceTypeDeposit SpotBalanceType = iota
	SpotBalanceTypeBorrow
)

func (t SpotBalanceType) String() string {
	switch t {
	case SpotBalanceTypeDeposit:
		return "deposit"
	case SpotBalanceTypeBorrow:
		return "borrow"
	default:
		return fmt.Sprintf("SpotBalanceType(%d)", uint8(t))
	}
}

// Opposite returns the other side.
func (t SpotBalanceType) Opposite() SpotBalanceType {
	if t == SpotBalanceTypeDeposit {
		return SpotBalanceTypeBorrow
	}
	return SpotBalanceTypeDeposit
}

func (t SpotBalanceType) MarshalText() ([]byte, error) {
	if t > SpotBalanceTypeBorrow {
		return nil, fmt.Errorf("unknown balance type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *SpotBalanceType) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "deposit":
		*t = SpotBalanceTypeDeposit
	case "borrow":
		*t = SpotBalanceTypeBorrow
	default:
		return fmt.Errorf("unknown balance type %q", text)
	}
	return nil
}

// OracleSource names the price feed backing a market.
type OracleSource uint8

const (
	OracleSourcePyth OracleSource = iota
	OracleSourceSwitchboard
	OracleSourceQuoteAsset
	OracleSourcePyth1K
	OracleSourcePyth1M
	OracleSourcePythStableCoin
)

var oracleSourceNames = [...]string{
	"pyth",
	"switchboard",
	"quote_asset",
	"pyth_1k",
	"pyth_1m",
	"pyth_stable_coin",
}

func (o OracleSource) String() string {
	if int(o) < len(oracleSourceNames) {
		return oracleSourceNames[o]
	}
	return fmt.Sprintf("OracleSource(%d)", uint8(o))
}

func (o OracleSource) MarshalText() ([]byte, error) {
	if int(o) >= len(oracleSourceNames) {
		return nil, fmt.Errorf("unknown oracle source %d", uint8(o))
	}
	return []byte(o.String()), nil
}

func (o *OracleSource) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*o = OracleSourcePyth
		return nil
	}
	for i, name := range oracleSourceNames {
		if strings.EqualFold(name, string(text)) {
			*o = OracleSource(i)
			return nil
		}
	}
	return fmt.Errorf("unknown oracle source %q", text)
}

// HistoricalOracleData is the oracle snapshot carried on a market. Never
// inspected by the accounting core.
type HistoricalOracleData struct {
	LastOraclePrice         int64  `json:"last_oracle_price"`
	LastOracleConf          uint64 `json:"last_oracle_conf"`
	LastOracleDelay         int64  `json:"last_oracle_delay"`
	LastOraclePriceTwap     int64  `json:"last_oracle_price_twap"`
	LastOraclePriceTwap5Min int64  `json:"last_oracle_price_twap_5min"`
	LastOraclePriceTwapTs   int64  `json:"last_oracle_price_twap_ts"`
}

// HistoricalIndexData is the index price snapshot carried on a market.
type HistoricalIndexData struct {
	LastIndexBidPrice      uint64 `json:"last_index_bid_price"`
	LastIndexAskPrice      uint64 `json:"last_index_ask_price"`
	LastIndexPriceTwap     uint64 `json:"last_index_price_twap"`
	LastIndexPriceTwap5Min uint64 `json:"last_index_price_twap_5min"`
	LastIndexPriceTwapTs   int64  `json:"last_index_price_twap_ts"`
}

// SpotFulfillmentType identifies an external fulfillment venue.
type SpotFulfillmentType uint8

const (
	SpotFulfillmentTypeSerumV3 SpotFulfillmentType = iota
	SpotFulfillmentTypeMatch
)

// SpotFulfillmentStatus toggles an external fulfillment venue.
type SpotFulfillmentStatus uint8

const (
	SpotFulfillmentStatusEnabled SpotFulfillmentStatus = iota
	SpotFulfillmentStatusDisabled
)
