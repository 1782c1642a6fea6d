package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fpmath "SpotLedger/internal/math"
	"SpotLedger/internal/state"
	"SpotLedger/internal/testutil"
)

func TestValidateSpotMarket_Defaults(t *testing.T) {
	assert.NoError(t, state.ValidateSpotMarket(testutil.DefaultBaseMarket()))
	assert.NoError(t, state.ValidateSpotMarket(testutil.DefaultQuoteMarket()))
}

func TestValidateSpotMarket_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *state.SpotMarket)
	}{
		{"maintenance asset weight above 1", func(m *state.SpotMarket) { m.MaintenanceAssetWeight = 10_001 }},
		{"initial asset weight above maintenance", func(m *state.SpotMarket) { m.InitialAssetWeight = 9_500 }},
		{"maintenance liability weight below 1", func(m *state.SpotMarket) { m.MaintenanceLiabilityWeight = 9_999 }},
		{"initial liability below maintenance", func(m *state.SpotMarket) { m.InitialLiabilityWeight = 10_500 }},
		{"imf factor too large", func(m *state.SpotMarket) { m.IMFFactor = 1_000_001 }},
		{"too many decimals", func(m *state.SpotMarket) { m.Decimals = 20 }},
		{"deposit index below precision", func(m *state.SpotMarket) { m.CumulativeDepositInterest = fpmath.NewU128(1) }},
		{"borrow index zero", func(m *state.SpotMarket) { m.CumulativeBorrowInterest = fpmath.U128{} }},
		{"user shares above total", func(m *state.SpotMarket) { m.InsuranceFund.UserShares = fpmath.NewU128(1) }},
		{"total factor too large", func(m *state.SpotMarket) { m.InsuranceFund.TotalFactor = 1_000_001 }},
		{"user factor above total", func(m *state.SpotMarket) {
			m.InsuranceFund.TotalFactor = 100
			m.InsuranceFund.UserFactor = 101
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.DefaultBaseMarket()
			tt.mutate(m)
			assert.ErrorIs(t, state.ValidateSpotMarket(m), state.ErrInvalidParams)
		})
	}
}

func TestMarketRegistry(t *testing.T) {
	r := state.NewMarketRegistry()

	require.NoError(t, r.Insert(testutil.DefaultBaseMarket()))
	require.NoError(t, r.Insert(testutil.DefaultQuoteMarket()))
	assert.Equal(t, 2, r.Len())

	err := r.Insert(testutil.DefaultBaseMarket())
	assert.ErrorIs(t, err, state.ErrMarketExists)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, uint16(0), list[0].MarketIndex)
	assert.Equal(t, uint16(1), list[1].MarketIndex)

	m, ok := r.Get(1)
	require.True(t, ok)
	next := m.Clone()
	next.Status = state.MarketStatusReduceOnly
	require.NoError(t, r.Replace(next))

	m, _ = r.Get(1)
	assert.True(t, m.IsReduceOnly())

	missing := testutil.DefaultBaseMarket()
	missing.MarketIndex = 9
	assert.ErrorIs(t, r.Replace(missing), state.ErrMarketNotFound)

	_, ok = r.Get(9)
	assert.False(t, ok)
}

func TestMarketRegistry_RejectsInvalid(t *testing.T) {
	r := state.NewMarketRegistry()
	m := testutil.DefaultBaseMarket()
	m.Decimals = 25

	assert.ErrorIs(t, r.Insert(m), state.ErrInvalidParams)
	assert.Zero(t, r.Len())
}
