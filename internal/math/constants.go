package math

// Precision constants. Values are part of the on-ledger contract and must
// match bit-for-bit across implementations.
const (
	// AMMReservePrecision is the canonical size unit weight curves are
	// calibrated in.
	AMMReservePrecision uint64 = 1_000_000_000 // 1e9

	// MarginPrecision is the denominator of perp-style margin ratios.
	MarginPrecision uint32 = 10_000

	// SpotWeightPrecision is the denominator of asset/liability weights.
	SpotWeightPrecision uint32 = 10_000

	// SpotIMFPrecision is the denominator of imf_factor.
	SpotIMFPrecision uint64 = 1_000_000

	// SpotBalancePrecision is the scale of normalized (pool) balances.
	SpotBalancePrecision uint64 = 1_000_000_000

	// SpotCumulativeInterestPrecision is the scale of cumulative interest
	// indices; an index equal to it means no interest has accrued.
	SpotCumulativeInterestPrecision uint64 = 10_000_000_000 // 1e10

	SpotUtilizationPrecision uint64 = 1_000_000

	// IFFactorPrecision is the denominator of insurance revenue factors.
	IFFactorPrecision uint32 = 1_000_000

	// MaxTokenDecimals bounds SpotMarket.decimals: token amounts are derived
	// with a 10^(19-decimals) divisor.
	MaxTokenDecimals uint32 = 19

	balanceConversionExponent uint32 = 19
)

var (
	SpotWeightPrecisionU128             = NewU128(uint64(SpotWeightPrecision))
	SpotIMFPrecisionU128                = NewU128(SpotIMFPrecision)
	AMMReservePrecisionU128             = NewU128(AMMReservePrecision)
	SpotCumulativeInterestPrecisionU128 = NewU128(SpotCumulativeInterestPrecision)
)
