package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fpmath "SpotLedger/internal/math"
	"SpotLedger/internal/state"
	"SpotLedger/internal/testutil"
)

type fakeReader struct {
	markets map[uint16]*state.SpotMarket
	seq     int64
}

func newFakeReader(markets ...*state.SpotMarket) *fakeReader {
	r := &fakeReader{markets: make(map[uint16]*state.SpotMarket), seq: 42}
	for _, m := range markets {
		r.markets[m.MarketIndex] = m
	}
	return r
}

func (r *fakeReader) GetMarket(index uint16) (*state.SpotMarket, bool) {
	m, ok := r.markets[index]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

func (r *fakeReader) ListMarkets() []*state.SpotMarket {
	out := make([]*state.SpotMarket, 0, len(r.markets))
	for i := uint16(0); len(out) < len(r.markets); i++ {
		if m, ok := r.markets[i]; ok {
			out = append(out, m.Clone())
		}
	}
	return out
}

func (r *fakeReader) GetSequence() int64 { return r.seq }

func newTestService(markets ...*state.SpotMarket) *RiskService {
	s := NewRiskService(newFakeReader(markets...))
	s.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return s
}

func TestListMarkets(t *testing.T) {
	quote := testutil.DefaultQuoteMarket()
	base := testutil.DefaultBaseMarket()
	base.DepositBalance = fpmath.NewU128(2_000_000_000)
	base.BorrowBalance = fpmath.NewU128(500_000_000)

	out, err := newTestService(quote, base).ListMarkets()
	require.NoError(t, err)
	require.Len(t, out, 2)

	q := out[0]
	assert.Equal(t, "USDC", q.Name)
	assert.True(t, q.IsCollateral)
	assert.Equal(t, uint8(0), q.TierNumber)
	require.NotNil(t, q.ClampDenominator)
	assert.Equal(t, int64(10), *q.ClampDenominator)
	assert.Equal(t, "1", q.InitialAssetWeight)

	b := out[1]
	assert.Equal(t, "SOL", b.Name)
	assert.Nil(t, b.ClampDenominator)
	assert.False(t, b.IsCollateral)
	assert.Equal(t, "1.2", b.InitialLiabilityWeight)
	assert.Equal(t, "0.8", b.InitialAssetWeight)
	assert.Equal(t, "2", b.DepositTokenAmount)
	assert.Equal(t, "0.5", b.BorrowTokenAmount)
	assert.Equal(t, "1.5", b.AvailableDeposits)
	assert.True(t, b.IsActive)
	assert.Equal(t, int64(42), b.AsOfSequence)
}

func TestListMarkets_OverBorrowedHasNoAvailable(t *testing.T) {
	base := testutil.DefaultBaseMarket()
	base.DepositBalance = fpmath.NewU128(1)
	base.BorrowBalance = fpmath.NewU128(2)

	out, err := newTestService(base).ListMarkets()
	require.NoError(t, err)
	assert.Empty(t, out[0].AvailableDeposits)
}

func TestGetMarket(t *testing.T) {
	s := newTestService(testutil.DefaultBaseMarket())

	d, err := s.GetMarket(1)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), d.Market.MarketIndex)
	assert.Equal(t, "SOL", d.Name)

	_, err = s.GetMarket(9)
	assert.ErrorIs(t, err, state.ErrMarketNotFound)
}

func TestGetWeights(t *testing.T) {
	base := testutil.DefaultBaseMarket()
	base.IMFFactor = 1000
	s := newTestService(base)

	w, err := s.GetWeights(1, fpmath.NewU128(1_000_000_000_000_000), fpmath.MarginRequirementInitial, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(5500), w.AssetWeight)
	assert.Equal(t, uint32(21988), w.LiabilityWeight)
	assert.Equal(t, uint32(2000), w.MarginRatio)
	assert.Equal(t, "0.55", w.AssetWeightUI)
	assert.Equal(t, "2.1988", w.LiabilityWeightUI)
	assert.Equal(t, "0.2", w.MarginRatioUI)
	assert.Equal(t, "Initial", w.MarginRequirement)
	assert.True(t, w.IsActive)

	m, err := s.GetWeights(1, fpmath.NewU128(1_000_000_000_000_000), fpmath.MarginRequirementMaintenance, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(9000), m.AssetWeight)
	assert.Equal(t, uint32(20989), m.LiabilityWeight)
}

func TestGetWeights_ExpiredMarket(t *testing.T) {
	base := testutil.DefaultBaseMarket()
	base.ExpiryTs = 1_600_000_000
	s := newTestService(base)

	w, err := s.GetWeights(1, fpmath.NewU128(0), fpmath.MarginRequirementInitial, 1_650_000_000)
	require.NoError(t, err)
	assert.False(t, w.IsActive)
}

func TestGetTokenAmount(t *testing.T) {
	base := testutil.DefaultBaseMarket()
	base.CumulativeBorrowInterest = fpmath.NewU128(12_000_000_000)
	s := newTestService(base)

	r, err := s.GetTokenAmount(1, fpmath.NewU128(1_000_000_000), state.SpotBalanceTypeBorrow)
	require.NoError(t, err)
	assert.Equal(t, "1200000000", r.TokenAmount.String())
	assert.Equal(t, "1.2", r.TokenAmountUI)

	d, err := s.GetTokenAmount(1, fpmath.NewU128(1_000_000_000), state.SpotBalanceTypeDeposit)
	require.NoError(t, err)
	assert.Equal(t, "1", d.TokenAmountUI)

	_, err = s.GetTokenAmount(5, fpmath.NewU128(1), state.SpotBalanceTypeDeposit)
	assert.ErrorIs(t, err, state.ErrMarketNotFound)
}

func TestPreviewBalanceUpdate(t *testing.T) {
	base := testutil.DefaultBaseMarket()
	base.CumulativeBorrowInterest = fpmath.NewU128(15_000_000_000)
	base.BorrowBalance = fpmath.NewU128(10)
	svc := newTestService(base)

	// repay 2 of 15 borrowed tokens
	resp, err := svc.PreviewBalanceUpdate(1, 10, state.SpotBalanceTypeBorrow, fpmath.NewU128(2), state.SpotBalanceTypeDeposit)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), resp.ScaledBalance)
	assert.Equal(t, state.SpotBalanceTypeBorrow, resp.BalanceType)
	assert.Equal(t, "13", resp.TokenAmount.String())
	assert.Equal(t, "9", resp.MarketBorrowBalance.String())
	assert.Equal(t, int64(42), resp.AsOfSequence)

	// the stored market is untouched
	m, _ := svc.reader.GetMarket(1)
	assert.Equal(t, "10", m.BorrowBalance.String())
}

func TestPreviewBalanceUpdate_Errors(t *testing.T) {
	svc := newTestService(testutil.DefaultBaseMarket())

	_, err := svc.PreviewBalanceUpdate(9, 0, state.SpotBalanceTypeDeposit, fpmath.NewU128(1), state.SpotBalanceTypeDeposit)
	assert.ErrorIs(t, err, state.ErrMarketNotFound)

	// a deposit the market's pool does not hold
	_, err = svc.PreviewBalanceUpdate(1, 10, state.SpotBalanceTypeDeposit, fpmath.NewU128(5), state.SpotBalanceTypeBorrow)
	assert.ErrorIs(t, err, fpmath.ErrMathError)
}

func TestWeightUI(t *testing.T) {
	assert.Equal(t, "1", weightUI(10000))
	assert.Equal(t, "0", weightUI(0))
	assert.Equal(t, "0.0001", weightUI(1))
}
