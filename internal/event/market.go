// internal/event/market.go
package event

import (
	"fmt"

	"github.com/google/uuid"

	"SpotLedger/internal/state"
)

// SpotMarketListed adds a new spot market with its full initial record.
type SpotMarketListed struct {
	Market   state.SpotMarket `json:"market"`
	Sequence int64            `json:"sequence"`
	Ts       int64            `json:"ts"`
}

func (e *SpotMarketListed) IdempotencyKey() string {
	return fmt.Sprintf("spot_listed:%d", e.Market.MarketIndex)
}

func (e *SpotMarketListed) EventType() EventType {
	return EventTypeSpotMarketListed
}

func (e *SpotMarketListed) MarketIndex() uint16 {
	return e.Market.MarketIndex
}

func (e *SpotMarketListed) SourceSequence() int64 {
	return e.Sequence
}

func (e *SpotMarketListed) Timestamp() int64 {
	return e.Ts
}

// SpotMarketStatusUpdate moves a market through its lifecycle. ExpiryTs is
// only applied when non-nil.
type SpotMarketStatusUpdate struct {
	EventID  uuid.UUID          `json:"event_id"`
	Market   uint16             `json:"market_index"`
	Status   state.MarketStatus `json:"status"`
	ExpiryTs *int64             `json:"expiry_ts,omitempty"`
	Sequence int64              `json:"sequence"`
	Ts       int64              `json:"ts"`
}

func (e *SpotMarketStatusUpdate) IdempotencyKey() string {
	return e.EventID.String()
}

func (e *SpotMarketStatusUpdate) EventType() EventType {
	return EventTypeSpotMarketStatusUpdate
}

func (e *SpotMarketStatusUpdate) MarketIndex() uint16 {
	return e.Market
}

func (e *SpotMarketStatusUpdate) SourceSequence() int64 {
	return e.Sequence
}

func (e *SpotMarketStatusUpdate) Timestamp() int64 {
	return e.Ts
}
