package ingestion

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"SpotLedger/internal/event"
	"SpotLedger/internal/observability"
)

// EventProcessor applies typed events. Implemented by core.MarketEngine.
type EventProcessor interface {
	ProcessEvent(evt event.Event) error
}

// Router turns raw NATS messages into typed events and hands them to the
// engine. Messages are acked once the typed event is queued, not after it
// is applied, so a slow engine does not trip AckWait and backpressure
// reaches NATS through the blocking channel send.
type Router struct {
	prefixes  map[string]string // subject prefix -> event type
	processor EventProcessor
	queueSize int
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

type queuedEvent struct {
	evt        event.Event
	receivedAt time.Time
}

func NewRouter(subjects []SubjectConfig, processor EventProcessor, queueSize int, metrics *observability.Metrics, logger zerolog.Logger) *Router {
	prefixes := make(map[string]string, len(subjects))
	for _, cfg := range subjects {
		prefixes[strings.TrimSuffix(cfg.Subject, ".>")] = cfg.EventType
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Router{
		prefixes:  prefixes,
		processor: processor,
		queueSize: queueSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// ResolveEventType finds the event type for subject by longest prefix match.
func (r *Router) ResolveEventType(subject string) string {
	best, bestType := "", ""
	for prefix, evtType := range r.prefixes {
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(best) {
			best, bestType = prefix, evtType
		}
	}
	return bestType
}

// Run parses messages from rawChan and applies them until ctx is done or
// rawChan is closed.
func (r *Router) Run(ctx context.Context, rawChan <-chan RawEvent) {
	typed := make(chan queuedEvent, r.queueSize)

	go func() {
		defer close(typed)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-rawChan:
				if !ok {
					return
				}
				if !r.route(ctx, raw, typed) {
					return
				}
			}
		}
	}()

	for q := range typed {
		r.apply(q)
	}
}

// route parses one message. Returns false when ctx ended mid-send.
func (r *Router) route(ctx context.Context, raw RawEvent, out chan<- queuedEvent) bool {
	eventType := r.ResolveEventType(raw.Subject)
	if eventType == "" {
		r.logger.Warn().Str("subject", raw.Subject).Msg("unknown subject")
		r.parseFailed(raw)
		return true
	}

	evt, err := ParseRawEvent(raw, eventType)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse event failed")
		r.parseFailed(raw)
		return true
	}

	select {
	case out <- queuedEvent{evt: evt, receivedAt: raw.Timestamp}:
		ack(raw)
		return true
	case <-ctx.Done():
		if raw.NakFunc != nil {
			raw.NakFunc()
		}
		return false
	}
}

// parseFailed acks a message that can never be applied so it is not
// redelivered forever.
func (r *Router) parseFailed(raw RawEvent) {
	if r.metrics != nil {
		r.metrics.IngestParseErrs.WithLabelValues(raw.Subject).Inc()
	}
	ack(raw)
}

func (r *Router) apply(q queuedEvent) {
	evt := q.evt
	if err := r.processor.ProcessEvent(evt); err != nil {
		// Already acked: rejected events are logged, not retried.
		r.logger.Error().Err(err).
			Str("event_type", evt.EventType().String()).
			Str("idempotency_key", evt.IdempotencyKey()).
			Msg("apply event failed")
		return
	}
	if r.metrics != nil && !q.receivedAt.IsZero() {
		r.metrics.IngestToApply.WithLabelValues(evt.EventType().String()).Observe(time.Since(q.receivedAt).Seconds())
	}
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}
