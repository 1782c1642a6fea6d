package ingestion_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ingestion"
)

type recordingProcessor struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (p *recordingProcessor) ProcessEvent(evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type ackCounter struct {
	mu         sync.Mutex
	acks, naks int
}

func (a *ackCounter) raw(subject, body string) ingestion.RawEvent {
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      []byte(body),
		Timestamp: time.Now(),
		AckFunc: func() {
			a.mu.Lock()
			a.acks++
			a.mu.Unlock()
		},
		NakFunc: func() {
			a.mu.Lock()
			a.naks++
			a.mu.Unlock()
		},
	}
}

func TestRouter_ResolveEventType(t *testing.T) {
	r := ingestion.NewRouter(ingestion.DefaultSubjects(), &recordingProcessor{}, 1, nil, zerolog.Nop())

	assert.Equal(t, "SpotMarketListed", r.ResolveEventType("spot.markets.listed.1"))
	assert.Equal(t, "SpotRiskParamUpdate", r.ResolveEventType("spot.markets.risk.7"))
	assert.Equal(t, "InsuranceFundUpdate", r.ResolveEventType("spot.markets.insurance.0"))
	assert.Equal(t, "", r.ResolveEventType("perp.trades.1"))
}

func TestRouter_RunAcksAndApplies(t *testing.T) {
	proc := &recordingProcessor{}
	acks := &ackCounter{}
	r := ingestion.NewRouter(ingestion.DefaultSubjects(), proc, 8, nil, zerolog.Nop())

	rawChan := make(chan ingestion.RawEvent, 4)
	rawChan <- acks.raw("spot.markets.risk.1", `{"market_index":1,"initial_asset_weight":8000,"maintenance_asset_weight":9000,"initial_liability_weight":12000,"maintenance_liability_weight":11000,"sequence":2}`)
	rawChan <- acks.raw("spot.markets.risk.1", `{broken`)
	rawChan <- acks.raw("spot.unknown.1", `{}`)
	close(rawChan)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), rawChan)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("router did not stop after input closed")
	}

	assert.Equal(t, 1, proc.count())
	acks.mu.Lock()
	defer acks.mu.Unlock()
	assert.Equal(t, 3, acks.acks, "parse failures are acked to avoid redelivery loops")
	assert.Equal(t, 0, acks.naks)
}

func TestRouter_EngineRejectionStillAcked(t *testing.T) {
	proc := &recordingProcessor{err: errors.New("rejected")}
	acks := &ackCounter{}
	r := ingestion.NewRouter(ingestion.DefaultSubjects(), proc, 1, nil, zerolog.Nop())

	rawChan := make(chan ingestion.RawEvent, 1)
	rawChan <- acks.raw("spot.markets.status.3", `{"event_id":"550e8400-e29b-41d4-a716-446655440000","market_index":3,"status":"active","sequence":1}`)
	close(rawChan)

	r.Run(context.Background(), rawChan)

	require.Equal(t, 1, proc.count())
	assert.Equal(t, 1, acks.acks)
}
