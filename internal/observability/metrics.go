package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SpotLedger.
type Metrics struct {
	// --- Engine ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge
	MathErrors         *prometheus.CounterVec

	// --- Market state ---
	AvailableDeposits *prometheus.GaugeVec
	InsuranceShares   *prometheus.GaugeVec
	MarketStatus      *prometheus.GaugeVec

	// --- Ingestion ---
	IngestToApply   *prometheus.HistogramVec
	IngestParseErrs *prometheus.CounterVec

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PublishErrors       prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshots & recovery ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge
	ReplayedEvents   prometheus.Counter

	// --- Projections ---
	ProjectionErrors  prometheus.Counter
	ProjectionLastSeq prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call it once per process.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_core_events_applied_total",
			Help: "Events successfully applied by the market engine",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_core_events_rejected_total",
			Help: "Events rejected (duplicate, validation, arithmetic, transition)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spot_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "spot_core_state_hash_duration_seconds",
			Help:    "Time to compute the state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spot_core_sequence",
			Help: "Next global sequence number",
		}),

		MathErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_math_errors_total",
			Help: "Checked arithmetic failures by operation",
		}, []string{"op"}),

		AvailableDeposits: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_market_available_deposits",
			Help: "Deposit token amount minus borrow token amount, native units",
		}, []string{"market_index"}),

		InsuranceShares: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_insurance_fund_shares",
			Help: "Insurance fund shares by owner",
		}, []string{"market_index", "owner"}),

		MarketStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_market_status",
			Help: "Current market status as its enum ordinal",
		}, []string{"market_index"}),

		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spot_ingest_to_apply_seconds",
			Help:    "NATS receive to engine apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		IngestParseErrs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_ingest_parse_errors_total",
			Help: "Inbound messages that failed to parse",
		}, []string{"subject"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_channel_utilization",
			Help: "Channel occupancy over capacity",
		}, []string{"channel"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_publish_drops_total",
			Help: "Risk snapshots dropped because the publish channel was full",
		}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_publish_errors_total",
			Help: "Risk snapshot publish failures",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_persist_backpressure_total",
			Help: "Times the engine blocked on a full persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_idempotency_duplicates_total",
			Help: "Duplicate events skipped",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spot_dedup_lru_size",
			Help: "Idempotency LRU entries",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_dedup_lru_evictions_total",
			Help: "Idempotency LRU evictions",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "spot_persist_batch_size",
			Help:    "Events per persistence batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "spot_persist_batch_duration_seconds",
			Help:    "Time to commit one persistence batch",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"stage"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_persist_retry_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spot_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_snapshots_taken_total",
			Help: "Engine snapshots saved",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "spot_snapshot_duration_seconds",
			Help:    "Time to capture and save a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spot_snapshot_last_sequence",
			Help: "Sequence of the latest saved snapshot",
		}),

		ReplayedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_replayed_events_total",
			Help: "Events replayed from the log during recovery",
		}),

		ProjectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_projection_errors_total",
			Help: "Market history projection write failures",
		}),

		ProjectionLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spot_projection_last_sequence",
			Help: "Last sequence applied to the market history projection",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_query_requests_total",
			Help: "Query API requests",
		}, []string{"route", "code"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spot_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_query_errors_total",
			Help: "Query API errors",
		}, []string{"route", "kind"}),
	}
}

// SetChannelMetrics records occupancy for a named channel.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
