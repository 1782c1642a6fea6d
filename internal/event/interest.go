package event

import (
	"fmt"

	fpmath "SpotLedger/internal/math"
)

// SpotInterestUpdate carries the result of an interest accrual computed
// upstream: the new cumulative indices, pooled balances and twaps.
type SpotInterestUpdate struct {
	Market                    uint16      `json:"market_index"`
	CumulativeDepositInterest fpmath.U128 `json:"cumulative_deposit_interest"`
	CumulativeBorrowInterest  fpmath.U128 `json:"cumulative_borrow_interest"`
	DepositBalance            fpmath.U128 `json:"deposit_balance"`
	BorrowBalance             fpmath.U128 `json:"borrow_balance"`
	DepositTokenTwap          uint64      `json:"deposit_token_twap"`
	BorrowTokenTwap           uint64      `json:"borrow_token_twap"`
	UtilizationTwap           uint64      `json:"utilization_twap"`
	LastInterestTs            uint64      `json:"last_interest_ts"`
	Sequence                  int64       `json:"sequence"`
}

func (e *SpotInterestUpdate) IdempotencyKey() string {
	return fmt.Sprintf("spot_interest:%d:%d", e.Market, e.LastInterestTs)
}

func (e *SpotInterestUpdate) EventType() EventType {
	return EventTypeSpotInterestUpdate
}

func (e *SpotInterestUpdate) MarketIndex() uint16 {
	return e.Market
}

func (e *SpotInterestUpdate) SourceSequence() int64 {
	return e.Sequence
}

func (e *SpotInterestUpdate) Timestamp() int64 {
	return int64(e.LastInterestTs)
}
