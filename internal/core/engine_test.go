package core_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpotLedger/internal/core"
	"SpotLedger/internal/event"
	fpmath "SpotLedger/internal/math"
	"SpotLedger/internal/state"
	"SpotLedger/internal/testutil"
)

// --- Test helpers ---

func newTestEngine() (*core.MarketEngine, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	publishChan := make(chan core.CoreOutput, 1024)
	e := core.NewMarketEngine(persistChan, publishChan, core.Options{
		LRUCapacity: 1024,
		Logger:      zerolog.Nop(),
	})
	return e, persistChan, publishChan
}

func listed(m *state.SpotMarket, seq int64) *event.SpotMarketListed {
	return &event.SpotMarketListed{Market: *m, Sequence: seq, Ts: 1_700_000_000 + seq}
}

func statusUpdate(index uint16, status state.MarketStatus, seq int64) *event.SpotMarketStatusUpdate {
	return &event.SpotMarketStatusUpdate{
		EventID:  uuid.New(),
		Market:   index,
		Status:   status,
		Sequence: seq,
		Ts:       1_700_000_000 + seq,
	}
}

func insuranceUpdate(index uint16, op event.InsuranceOp, shares uint64, seq int64) *event.InsuranceFundUpdate {
	return &event.InsuranceFundUpdate{
		EventID:  uuid.New(),
		Market:   index,
		Op:       op,
		Shares:   fpmath.NewU128(shares),
		Sequence: seq,
		Ts:       1_700_000_000 + seq,
	}
}

func listDefaults(t *testing.T, e *core.MarketEngine) {
	t.Helper()
	require.NoError(t, e.ProcessEvent(listed(testutil.DefaultQuoteMarket(), 1)))
	require.NoError(t, e.ProcessEvent(listed(testutil.DefaultBaseMarket(), 1)))
}

// --- Tests ---

func TestProcessEvent_ListingChainsHashes(t *testing.T) {
	e, persistChan, publishChan := newTestEngine()
	listDefaults(t, e)

	assert.Equal(t, int64(2), e.GetSequence())
	require.Len(t, persistChan, 2)
	require.Len(t, publishChan, 2)

	first := <-persistChan
	second := <-persistChan

	assert.Equal(t, int64(0), first.Envelope.Sequence)
	assert.Equal(t, int64(1), second.Envelope.Sequence)
	assert.Equal(t, core.GenesisHash(), first.Envelope.PrevHash)
	assert.Equal(t, first.Envelope.StateHash, second.Envelope.PrevHash)
	assert.Equal(t, second.Envelope.StateHash, e.GetStateHash())
	assert.Equal(t, core.PeekHash(first.Envelope.StateHash, 1, second.Market.CanonicalBytes()), second.Envelope.StateHash)

	var payload event.SpotMarketListed
	require.NoError(t, json.Unmarshal(second.Envelope.Payload, &payload))
	assert.Equal(t, uint16(1), payload.Market.MarketIndex)

	markets := e.ListMarkets()
	require.Len(t, markets, 2)
	assert.Equal(t, uint16(0), markets[0].MarketIndex)
}

func TestProcessEvent_DuplicateSkipped(t *testing.T) {
	e, persistChan, _ := newTestEngine()
	listDefaults(t, e)

	require.NoError(t, e.ProcessEvent(listed(testutil.DefaultBaseMarket(), 1)))
	assert.Equal(t, int64(2), e.GetSequence())
	assert.Len(t, persistChan, 2)
}

func TestProcessEvent_InvalidListingRejected(t *testing.T) {
	e, persistChan, _ := newTestEngine()
	m := testutil.DefaultBaseMarket()
	m.InitialLiabilityWeight = 9000

	err := e.ProcessEvent(listed(m, 1))
	assert.ErrorIs(t, err, state.ErrInvalidParams)
	assert.Equal(t, int64(0), e.GetSequence())
	assert.Equal(t, core.GenesisHash(), e.GetStateHash())
	assert.Empty(t, persistChan)

	_, ok := e.GetMarket(1)
	assert.False(t, ok)
}

func TestProcessEvent_UnknownMarket(t *testing.T) {
	e, _, _ := newTestEngine()

	err := e.ProcessEvent(statusUpdate(42, state.MarketStatusActive, 1))
	assert.ErrorIs(t, err, state.ErrMarketNotFound)
}

func TestProcessEvent_RiskParamUpdate(t *testing.T) {
	e, _, _ := newTestEngine()
	listDefaults(t, e)

	err := e.ProcessEvent(&event.SpotRiskParamUpdate{
		Market:                     1,
		InitialAssetWeight:         8000,
		MaintenanceAssetWeight:     9000,
		InitialLiabilityWeight:     12000,
		MaintenanceLiabilityWeight: 11000,
		IMFFactor:                  1000,
		AssetTier:                  state.AssetTierIsolated,
		Sequence:                   2,
	})
	require.NoError(t, err)

	m, ok := e.GetMarket(1)
	require.True(t, ok)
	assert.Equal(t, uint32(1000), m.IMFFactor)

	w, err := m.LiabilityWeight(fpmath.NewU128(1_000_000_000_000_000), fpmath.MarginRequirementInitial)
	require.NoError(t, err)
	assert.Equal(t, uint32(21988), w)

	d, ok := m.SanitizeClampDenominator()
	assert.True(t, ok)
	assert.Equal(t, int64(3), d)
}

func TestProcessEvent_RiskParamUpdateInvalidLeavesState(t *testing.T) {
	e, _, _ := newTestEngine()
	listDefaults(t, e)
	hashBefore := e.GetStateHash()

	err := e.ProcessEvent(&event.SpotRiskParamUpdate{
		Market:                     1,
		InitialAssetWeight:         9500,
		MaintenanceAssetWeight:     9000,
		InitialLiabilityWeight:     12000,
		MaintenanceLiabilityWeight: 11000,
		Sequence:                   2,
	})
	assert.ErrorIs(t, err, state.ErrInvalidParams)
	assert.Equal(t, hashBefore, e.GetStateHash())

	m, _ := e.GetMarket(1)
	assert.Equal(t, uint32(8000), m.InitialAssetWeight)
}

func TestProcessEvent_DelistedIsTerminal(t *testing.T) {
	e, _, _ := newTestEngine()
	listDefaults(t, e)

	require.NoError(t, e.ProcessEvent(statusUpdate(1, state.MarketStatusDelisted, 2)))

	m, _ := e.GetMarket(1)
	assert.False(t, m.IsActive(1_800_000_000))

	err := e.ProcessEvent(statusUpdate(1, state.MarketStatusActive, 3))
	assert.ErrorIs(t, err, core.ErrDelistedTerminal)
}

func TestProcessEvent_StatusExpiry(t *testing.T) {
	e, _, _ := newTestEngine()
	listDefaults(t, e)

	expiry := int64(1_750_000_000)
	upd := statusUpdate(1, state.MarketStatusReduceOnly, 2)
	upd.ExpiryTs = &expiry
	require.NoError(t, e.ProcessEvent(upd))

	m, _ := e.GetMarket(1)
	assert.True(t, m.IsReduceOnly())
	assert.True(t, m.IsActive(expiry-1))
	assert.False(t, m.IsActive(expiry))
}

func TestProcessEvent_StaleSourceSequence(t *testing.T) {
	e, _, _ := newTestEngine()
	listDefaults(t, e)

	require.NoError(t, e.ProcessEvent(statusUpdate(1, state.MarketStatusActive, 5)))
	err := e.ProcessEvent(statusUpdate(1, state.MarketStatusReduceOnly, 4))
	assert.ErrorIs(t, err, core.ErrStaleEvent)

	// other markets are ordered independently
	assert.NoError(t, e.ProcessEvent(statusUpdate(0, state.MarketStatusReduceOnly, 2)))
}

func TestProcessEvent_InterestUpdate(t *testing.T) {
	e, _, _ := newTestEngine()
	listDefaults(t, e)

	upd := &event.SpotInterestUpdate{
		Market:                    1,
		CumulativeDepositInterest: fpmath.NewU128(11_000_000_000),
		CumulativeBorrowInterest:  fpmath.NewU128(12_000_000_000),
		DepositBalance:            fpmath.NewU128(2_000_000_000),
		BorrowBalance:             fpmath.NewU128(1_000_000_000),
		LastInterestTs:            1_700_000_100,
		Sequence:                  2,
	}
	require.NoError(t, e.ProcessEvent(upd))

	m, _ := e.GetMarket(1)
	avail, err := m.AvailableDeposits()
	require.NoError(t, err)
	// 2e9 * 1.1 - 1e9 * 1.2
	assert.Equal(t, "1000000000", avail.String())

	back := &event.SpotInterestUpdate{
		Market:                    1,
		CumulativeDepositInterest: fpmath.NewU128(10_500_000_000),
		CumulativeBorrowInterest:  fpmath.NewU128(12_000_000_000),
		LastInterestTs:            1_700_000_200,
		Sequence:                  3,
	}
	assert.ErrorIs(t, e.ProcessEvent(back), core.ErrIndexDecreased)
}

func TestProcessEvent_InsuranceFund(t *testing.T) {
	e, _, _ := newTestEngine()
	listDefaults(t, e)

	require.NoError(t, e.ProcessEvent(insuranceUpdate(1, event.InsuranceOpAddUserShares, 100, 2)))
	require.NoError(t, e.ProcessEvent(insuranceUpdate(1, event.InsuranceOpAddProtocolShares, 50, 3)))

	err := e.ProcessEvent(insuranceUpdate(1, event.InsuranceOpRemoveProtocolShares, 51, 4))
	assert.ErrorIs(t, err, fpmath.ErrMathError)

	m, _ := e.GetMarket(1)
	assert.Equal(t, "150", m.InsuranceFund.TotalShares.String())
	assert.Equal(t, "100", m.InsuranceFund.UserShares.String())

	settle := insuranceUpdate(1, event.InsuranceOpSettleRevenue, 0, 5)
	assert.ErrorIs(t, e.ProcessEvent(settle), state.ErrInvalidParams)
}

func TestProcessEvent_InsuranceStakeUnstake(t *testing.T) {
	e, _, _ := newTestEngine()
	listDefaults(t, e)

	stake := func(amount, vault uint64, seq int64) *event.InsuranceFundUpdate {
		u := insuranceUpdate(1, event.InsuranceOpStake, 0, seq)
		u.Amount = amount
		u.VaultBalance = vault
		return u
	}
	unstake := func(shares, vault uint64, seq int64) *event.InsuranceFundUpdate {
		u := insuranceUpdate(1, event.InsuranceOpUnstake, shares, seq)
		u.VaultBalance = vault
		return u
	}

	// empty vault mints 1:1
	require.NoError(t, e.ProcessEvent(stake(1000, 0, 2)))
	// vault doubled, so shares cost twice as much
	require.NoError(t, e.ProcessEvent(stake(500, 2000, 3)))

	m, _ := e.GetMarket(1)
	assert.Equal(t, "1250", m.InsuranceFund.TotalShares.String())
	assert.Equal(t, "1250", m.InsuranceFund.UserShares.String())

	require.NoError(t, e.ProcessEvent(unstake(250, 2500, 4)))
	m, _ = e.GetMarket(1)
	assert.Equal(t, "1000", m.InsuranceFund.TotalShares.String())
	assert.Equal(t, "1000", m.InsuranceFund.UserShares.String())

	assert.ErrorIs(t, e.ProcessEvent(unstake(2000, 2000, 5)), fpmath.ErrMathError)
	assert.ErrorIs(t, e.ProcessEvent(stake(1, 1_000_000, 6)), state.ErrInvalidParams)

	m, _ = e.GetMarket(1)
	assert.Equal(t, "1000", m.InsuranceFund.TotalShares.String())
}

func TestProcessEvent_PublishDropDoesNotBlock(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 16)
	publishChan := make(chan core.CoreOutput) // never read
	e := core.NewMarketEngine(persistChan, publishChan, core.Options{Logger: zerolog.Nop()})

	require.NoError(t, e.ProcessEvent(listed(testutil.DefaultBaseMarket(), 1)))
	assert.Len(t, persistChan, 1)
}

func TestProcessEvent_Deterministic(t *testing.T) {
	run := func() [32]byte {
		e, _, _ := newTestEngine()
		listDefaults(t, e)
		require.NoError(t, e.ProcessEvent(statusUpdate(1, state.MarketStatusReduceOnly, 2)))
		require.NoError(t, e.ProcessEvent(insuranceUpdate(1, event.InsuranceOpAddUserShares, 7, 3)))
		return e.GetStateHash()
	}
	assert.Equal(t, run(), run())
}

func TestSnapshotRestore(t *testing.T) {
	a, _, _ := newTestEngine()
	listDefaults(t, a)
	require.NoError(t, a.ProcessEvent(insuranceUpdate(1, event.InsuranceOpAddUserShares, 10, 2)))

	snap := a.CreateSnapshot()
	assert.Equal(t, int64(2), snap.Sequence)

	b, _, _ := newTestEngine()
	require.NoError(t, b.Restore(snap))
	assert.Equal(t, a.GetStateHash(), b.GetStateHash())
	assert.Equal(t, a.GetSequence(), b.GetSequence())

	next := statusUpdate(1, state.MarketStatusReduceOnly, 3)
	require.NoError(t, a.ProcessEvent(next))
	require.NoError(t, b.ProcessEvent(next))
	assert.Equal(t, a.GetStateHash(), b.GetStateHash())

	// restored dedup and ordering state
	require.NoError(t, b.ProcessEvent(listed(testutil.DefaultBaseMarket(), 1)))
	assert.Equal(t, a.GetSequence(), b.GetSequence())
	assert.ErrorIs(t, b.ProcessEvent(statusUpdate(1, state.MarketStatusActive, 3)), core.ErrStaleEvent)
}

func TestGetMarket_ReturnsCopy(t *testing.T) {
	e, _, _ := newTestEngine()
	listDefaults(t, e)

	m, _ := e.GetMarket(1)
	m.Status = state.MarketStatusDelisted

	again, _ := e.GetMarket(1)
	assert.Equal(t, state.MarketStatusActive, again.Status)
}
