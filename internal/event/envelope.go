package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeSpotMarketListed
	EventTypeSpotRiskParamUpdate
	EventTypeSpotMarketStatusUpdate
	EventTypeSpotInterestUpdate
	EventTypeInsuranceFundUpdate
)

// EventEnvelope wraps every applied event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	MarketIndex uint16

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence
	SourceSequence int64

	// JSON-encoded event
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// MarketIndex is the spot market the event mutates
	MarketIndex() uint16

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// Timestamp is the versioned input time in unix seconds
	Timestamp() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeSpotMarketListed:
		return "SpotMarketListed"
	case EventTypeSpotRiskParamUpdate:
		return "SpotRiskParamUpdate"
	case EventTypeSpotMarketStatusUpdate:
		return "SpotMarketStatusUpdate"
	case EventTypeSpotInterestUpdate:
		return "SpotInterestUpdate"
	case EventTypeInsuranceFundUpdate:
		return "InsuranceFundUpdate"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	for et := EventTypeSpotMarketListed; et <= EventTypeInsuranceFundUpdate; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
