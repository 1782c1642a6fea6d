package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"SpotLedger/internal/event"
)

var ErrUnknownEventType = errors.New("unknown event type")

// ParseRawEvent decodes raw.Data into the typed event named by eventType.
// The wire format is the event's own JSON encoding, so payloads read back
// from the event log parse the same way as inbound messages. u128 fields
// are decimal strings; enums are snake_case names.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch event.ParseEventType(eventType) {
	case event.EventTypeSpotMarketListed:
		return parseMarketListed(raw.Data)
	case event.EventTypeSpotRiskParamUpdate:
		return parseRiskParamUpdate(raw.Data)
	case event.EventTypeSpotMarketStatusUpdate:
		return parseStatusUpdate(raw.Data)
	case event.EventTypeSpotInterestUpdate:
		return parseInterestUpdate(raw.Data)
	case event.EventTypeInsuranceFundUpdate:
		return parseInsuranceFundUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
}

func decode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseMarketListed(data []byte) (*event.SpotMarketListed, error) {
	var e event.SpotMarketListed
	if err := decode(data, &e); err != nil {
		return nil, fmt.Errorf("parse SpotMarketListed: %w", err)
	}
	if e.Market.Name.String() == "" {
		return nil, fmt.Errorf("parse SpotMarketListed: market name is required")
	}
	return &e, nil
}

func parseRiskParamUpdate(data []byte) (*event.SpotRiskParamUpdate, error) {
	var e event.SpotRiskParamUpdate
	if err := decode(data, &e); err != nil {
		return nil, fmt.Errorf("parse SpotRiskParamUpdate: %w", err)
	}
	return &e, nil
}

func parseStatusUpdate(data []byte) (*event.SpotMarketStatusUpdate, error) {
	var e event.SpotMarketStatusUpdate
	if err := decode(data, &e); err != nil {
		return nil, fmt.Errorf("parse SpotMarketStatusUpdate: %w", err)
	}
	if e.EventID == uuid.Nil {
		return nil, fmt.Errorf("parse SpotMarketStatusUpdate: event_id is required")
	}
	return &e, nil
}

func parseInterestUpdate(data []byte) (*event.SpotInterestUpdate, error) {
	var e event.SpotInterestUpdate
	if err := decode(data, &e); err != nil {
		return nil, fmt.Errorf("parse SpotInterestUpdate: %w", err)
	}
	return &e, nil
}

func parseInsuranceFundUpdate(data []byte) (*event.InsuranceFundUpdate, error) {
	var e event.InsuranceFundUpdate
	if err := decode(data, &e); err != nil {
		return nil, fmt.Errorf("parse InsuranceFundUpdate: %w", err)
	}
	if e.EventID == uuid.Nil {
		return nil, fmt.Errorf("parse InsuranceFundUpdate: event_id is required")
	}
	if e.Op == event.InsuranceOpUnknown {
		return nil, fmt.Errorf("parse InsuranceFundUpdate: op is required")
	}
	return &e, nil
}
