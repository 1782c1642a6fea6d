package query

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	fpmath "SpotLedger/internal/math"
	"SpotLedger/internal/state"
)

// MarketReader is the read side of the market engine.
type MarketReader interface {
	GetMarket(index uint16) (*state.SpotMarket, bool)
	ListMarkets() []*state.SpotMarket
	GetSequence() int64
}

// RiskService derives risk views from committed market records. It never
// writes; every response carries the engine sequence it was read at.
type RiskService struct {
	reader MarketReader
	now    func() time.Time
}

func NewRiskService(reader MarketReader) *RiskService {
	return &RiskService{reader: reader, now: time.Now}
}

// ListMarkets returns a summary of every market ordered by index.
func (s *RiskService) ListMarkets() ([]MarketSummary, error) {
	asOf := s.reader.GetSequence()
	now := s.now().Unix()
	markets := s.reader.ListMarkets()

	out := make([]MarketSummary, 0, len(markets))
	for _, m := range markets {
		summary, err := summarize(m, now, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

// GetMarket returns the summary and record of one market.
func (s *RiskService) GetMarket(index uint16) (*MarketDetail, error) {
	asOf := s.reader.GetSequence()
	m, err := s.market(index)
	if err != nil {
		return nil, err
	}
	summary, err := summarize(m, s.now().Unix(), asOf)
	if err != nil {
		return nil, err
	}
	return &MarketDetail{MarketSummary: summary, Market: m}, nil
}

// GetWeights evaluates the asset and liability weights for size token units
// at now (unix seconds). A zero now means the current time.
func (s *RiskService) GetWeights(index uint16, size fpmath.U128, kind fpmath.MarginRequirementType, now int64) (*WeightsResponse, error) {
	asOf := s.reader.GetSequence()
	m, err := s.market(index)
	if err != nil {
		return nil, err
	}
	if now == 0 {
		now = s.now().Unix()
	}

	aw, err := m.AssetWeight(size, kind)
	if err != nil {
		return nil, fmt.Errorf("asset weight: %w", err)
	}
	lw, err := m.LiabilityWeight(size, kind)
	if err != nil {
		return nil, fmt.Errorf("liability weight: %w", err)
	}
	ratio, err := m.MarginRatio(kind)
	if err != nil {
		return nil, fmt.Errorf("margin ratio: %w", err)
	}

	return &WeightsResponse{
		MarketIndex:       m.MarketIndex,
		Size:              size,
		MarginRequirement: kind.String(),
		AssetWeight:       aw,
		LiabilityWeight:   lw,
		MarginRatio:       ratio,
		AssetWeightUI:     weightUI(aw),
		LiabilityWeightUI: weightUI(lw),
		MarginRatioUI:     weightUI(ratio),
		IsActive:          m.IsActive(now),
		AsOfSequence:      asOf,
	}, nil
}

// GetTokenAmount converts a scaled balance on side into token units using
// the market's cumulative interest index.
func (s *RiskService) GetTokenAmount(index uint16, balance fpmath.U128, side state.SpotBalanceType) (*TokenAmountResponse, error) {
	asOf := s.reader.GetSequence()
	m, err := s.market(index)
	if err != nil {
		return nil, err
	}
	amount, err := m.TokenAmount(balance, side)
	if err != nil {
		return nil, fmt.Errorf("token amount: %w", err)
	}
	return &TokenAmountResponse{
		MarketIndex:   m.MarketIndex,
		ScaledBalance: balance,
		BalanceType:   side,
		TokenAmount:   amount,
		TokenAmountUI: tokenUI(amount, m.Decimals),
		AsOfSequence:  asOf,
	}, nil
}

// PreviewBalanceUpdate moves amount tokens in direction through a position
// holding balance on side and reports the position and market pools
// afterwards. The position's balance must already be part of the market's
// pooled balance. Nothing is committed.
func (s *RiskService) PreviewBalanceUpdate(index uint16, balance uint64, side state.SpotBalanceType, amount fpmath.U128, direction state.SpotBalanceType) (*BalanceUpdateResponse, error) {
	asOf := s.reader.GetSequence()
	m, err := s.market(index)
	if err != nil {
		return nil, err
	}
	m = m.Clone()

	pos := &state.SpotPosition{Market: m.MarketIndex, ScaledBalance: balance, Type: side}
	if err := state.UpdateSpotBalances(amount, direction, m, pos); err != nil {
		return nil, fmt.Errorf("balance update: %w", err)
	}
	tokens, err := m.TokenAmount(pos.Balance(), pos.Type)
	if err != nil {
		return nil, fmt.Errorf("token amount: %w", err)
	}

	return &BalanceUpdateResponse{
		MarketIndex:          m.MarketIndex,
		Amount:               amount,
		Direction:            direction,
		ScaledBalance:        pos.ScaledBalance,
		BalanceType:          pos.Type,
		TokenAmount:          tokens,
		TokenAmountUI:        tokenUI(tokens, m.Decimals),
		MarketDepositBalance: m.DepositBalance,
		MarketBorrowBalance:  m.BorrowBalance,
		AsOfSequence:         asOf,
	}, nil
}

func (s *RiskService) market(index uint16) (*state.SpotMarket, error) {
	m, ok := s.reader.GetMarket(index)
	if !ok {
		return nil, fmt.Errorf("market %d: %w", index, state.ErrMarketNotFound)
	}
	return m, nil
}

func summarize(m *state.SpotMarket, now, asOf int64) (MarketSummary, error) {
	deposits, err := m.TokenAmount(m.DepositBalance, state.SpotBalanceTypeDeposit)
	if err != nil {
		return MarketSummary{}, fmt.Errorf("market %d deposits: %w", m.MarketIndex, err)
	}
	borrows, err := m.TokenAmount(m.BorrowBalance, state.SpotBalanceTypeBorrow)
	if err != nil {
		return MarketSummary{}, fmt.Errorf("market %d borrows: %w", m.MarketIndex, err)
	}
	protocol, err := m.InsuranceFund.ProtocolShares()
	if err != nil {
		return MarketSummary{}, fmt.Errorf("market %d insurance: %w", m.MarketIndex, err)
	}

	summary := MarketSummary{
		MarketIndex:                m.MarketIndex,
		Name:                       m.Name.String(),
		Status:                     m.Status,
		AssetTier:                  m.AssetTier,
		TierNumber:                 m.AssetTier.TierNumber(),
		IsCollateral:               m.AssetTier.IsCollateral(),
		IsBorrowable:               m.AssetTier.IsBorrowable(),
		AllowsMultiBorrow:          m.AssetTier.AllowsMultiBorrow(),
		IsActive:                   m.IsActive(now),
		IsReduceOnly:               m.IsReduceOnly(),
		Decimals:                   m.Decimals,
		InitialAssetWeight:         weightUI(m.InitialAssetWeight),
		MaintenanceAssetWeight:     weightUI(m.MaintenanceAssetWeight),
		InitialLiabilityWeight:     weightUI(m.InitialLiabilityWeight),
		MaintenanceLiabilityWeight: weightUI(m.MaintenanceLiabilityWeight),
		IMFFactor:                  decimal.New(int64(m.IMFFactor), -6).String(),
		DepositTokenAmount:         tokenUI(deposits, m.Decimals),
		BorrowTokenAmount:          tokenUI(borrows, m.Decimals),
		InsuranceTotalShares:       m.InsuranceFund.TotalShares,
		InsuranceUserShares:        m.InsuranceFund.UserShares,
		InsuranceProtocolShares:    protocol,
		AsOfSequence:               asOf,
	}
	if d, ok := m.SanitizeClampDenominator(); ok {
		summary.ClampDenominator = &d
	}
	if !borrows.Gt(deposits) {
		avail, _ := deposits.SafeSub(borrows)
		summary.AvailableDeposits = tokenUI(avail, m.Decimals)
	}
	return summary, nil
}

// weightUI renders a weight in SpotWeightPrecision as a decimal, e.g.
// 12000 -> "1.2".
func weightUI(w uint32) string {
	return decimal.New(int64(w), -4).String()
}

// tokenUI renders a token amount in 10^decimals units as a decimal.
func tokenUI(amount fpmath.U128, decimals uint32) string {
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}
