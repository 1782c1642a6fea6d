package state

import (
	"errors"
	"fmt"
	"sort"

	fpmath "SpotLedger/internal/math"
)

var (
	ErrInvalidParams  = errors.New("invalid spot market params")
	ErrMarketNotFound = errors.New("spot market not found")
	ErrMarketExists   = errors.New("spot market already exists")
)

// ValidateSpotMarket checks that risk parameters and indices are within
// the ranges the admin surface accepts:
// initial_asset_weight <= maintenance_asset_weight <= 10_000,
// initial_liability_weight >= maintenance_liability_weight >= 10_000,
// imf_factor <= 1e6, decimals <= 19, cumulative indices >= 1e10,
// insurance user_shares <= total_shares and user_factor <= total_factor <= 1e6.
func ValidateSpotMarket(m *SpotMarket) error {
	if m.MaintenanceAssetWeight > fpmath.SpotWeightPrecision {
		return invalid("maintenance_asset_weight must be <= %d, got %d", fpmath.SpotWeightPrecision, m.MaintenanceAssetWeight)
	}
	if m.InitialAssetWeight > m.MaintenanceAssetWeight {
		return invalid("initial_asset_weight (%d) must be <= maintenance_asset_weight (%d)", m.InitialAssetWeight, m.MaintenanceAssetWeight)
	}
	if m.MaintenanceLiabilityWeight < fpmath.SpotWeightPrecision {
		return invalid("maintenance_liability_weight must be >= %d, got %d", fpmath.SpotWeightPrecision, m.MaintenanceLiabilityWeight)
	}
	if m.InitialLiabilityWeight < m.MaintenanceLiabilityWeight {
		return invalid("initial_liability_weight (%d) must be >= maintenance_liability_weight (%d)", m.InitialLiabilityWeight, m.MaintenanceLiabilityWeight)
	}
	if uint64(m.IMFFactor) > fpmath.SpotIMFPrecision {
		return invalid("imf_factor must be <= %d, got %d", fpmath.SpotIMFPrecision, m.IMFFactor)
	}
	if m.Decimals > fpmath.MaxTokenDecimals {
		return invalid("decimals must be <= %d, got %d", fpmath.MaxTokenDecimals, m.Decimals)
	}
	if m.CumulativeDepositInterest.Lt(fpmath.SpotCumulativeInterestPrecisionU128) {
		return invalid("cumulative_deposit_interest must be >= %s, got %s", fpmath.SpotCumulativeInterestPrecisionU128, m.CumulativeDepositInterest)
	}
	if m.CumulativeBorrowInterest.Lt(fpmath.SpotCumulativeInterestPrecisionU128) {
		return invalid("cumulative_borrow_interest must be >= %s, got %s", fpmath.SpotCumulativeInterestPrecisionU128, m.CumulativeBorrowInterest)
	}
	if err := m.InsuranceFund.Validate(); err != nil {
		return fmt.Errorf("%w: insurance fund: %v", ErrInvalidParams, err)
	}
	if m.InsuranceFund.TotalFactor > fpmath.IFFactorPrecision {
		return invalid("insurance total_factor must be <= %d, got %d", fpmath.IFFactorPrecision, m.InsuranceFund.TotalFactor)
	}
	if m.InsuranceFund.UserFactor > m.InsuranceFund.TotalFactor {
		return invalid("insurance user_factor (%d) must be <= total_factor (%d)", m.InsuranceFund.UserFactor, m.InsuranceFund.TotalFactor)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}

// MarketRegistry holds the current record of every listed spot market.
// It is not safe for concurrent use; the engine serializes access.
type MarketRegistry struct {
	markets map[uint16]*SpotMarket
}

func NewMarketRegistry() *MarketRegistry {
	return &MarketRegistry{
		markets: make(map[uint16]*SpotMarket),
	}
}

// Get returns the stored market. Callers must not mutate it; use Clone.
func (r *MarketRegistry) Get(index uint16) (*SpotMarket, bool) {
	m, ok := r.markets[index]
	return m, ok
}

// List returns all markets ordered by index.
func (r *MarketRegistry) List() []*SpotMarket {
	out := make([]*SpotMarket, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MarketIndex < out[j].MarketIndex
	})
	return out
}

func (r *MarketRegistry) Len() int {
	return len(r.markets)
}

// Insert lists a new market after validating it.
func (r *MarketRegistry) Insert(m *SpotMarket) error {
	if _, ok := r.markets[m.MarketIndex]; ok {
		return fmt.Errorf("market %d: %w", m.MarketIndex, ErrMarketExists)
	}
	if err := ValidateSpotMarket(m); err != nil {
		return fmt.Errorf("market %d: %w", m.MarketIndex, err)
	}
	r.markets[m.MarketIndex] = m
	return nil
}

// Replace swaps in a new record for an existing market after validating it.
func (r *MarketRegistry) Replace(m *SpotMarket) error {
	if _, ok := r.markets[m.MarketIndex]; !ok {
		return fmt.Errorf("market %d: %w", m.MarketIndex, ErrMarketNotFound)
	}
	if err := ValidateSpotMarket(m); err != nil {
		return fmt.Errorf("market %d: %w", m.MarketIndex, err)
	}
	r.markets[m.MarketIndex] = m
	return nil
}

// Reset drops every market. Used when restoring from a snapshot.
func (r *MarketRegistry) Reset() {
	r.markets = make(map[uint16]*SpotMarket)
}
