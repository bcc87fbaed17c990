package observability

import (
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics holds all Prometheus metrics of the router service.
type Metrics struct {
	// --- Router ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	Journals         *prometheus.CounterVec
	EventSequence    prometheus.Gauge

	// --- Settlement ---
	BatchTransitions   *prometheus.CounterVec
	Proposals          *prometheus.CounterVec
	Claims             *prometheus.CounterVec
	FeesCharged        *prometheus.CounterVec
	SharePrice         *prometheus.GaugeVec
	Watermark          *prometheus.GaugeVec
	VirtualOutstanding *prometheus.GaugeVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Ingestion & Idempotency ---
	CommandsReceived      *prometheus.CounterVec
	CommandParseErrors    *prometheus.CounterVec
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge
	ProjectionUpdateDur  prometheus.Histogram

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them on reg. Tests pass a
// fresh prometheus.NewRegistry() so repeated construction never collides.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Router
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_router_commands_applied_total",
			Help: "Commands successfully applied by the router",
		}, []string{"command"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_router_commands_rejected_total",
			Help: "Commands rejected, by error kind",
		}, []string{"command", "kind"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_router_command_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		Journals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_router_journals_total",
			Help: "Ledger journal entries applied",
		}, []string{"journal_type"}),

		EventSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_router_event_sequence",
			Help: "Last assigned event sequence",
		}),

		// Settlement
		BatchTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_batch_transitions_total",
			Help: "Batch state transitions",
		}, []string{"status"}),

		Proposals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_settlement_proposals_total",
			Help: "Settlement proposals by outcome",
		}, []string{"outcome"}),

		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_claims_total",
			Help: "Claims paid, by request kind",
		}, []string{"kind"}),

		FeesCharged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_fees_charged_units_total",
			Help: "Fees charged in asset base units",
		}, []string{"vault", "fee_type"}),

		SharePrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_share_price",
			Help: "Net share price after the last settlement",
		}, []string{"vault"}),

		Watermark: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_share_price_watermark",
			Help: "Performance fee high-watermark",
		}, []string{"vault"}),

		VirtualOutstanding: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_virtual_outstanding_units",
			Help: "Requested pulls not yet settled",
		}, []string{"holder", "asset"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_router_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_router_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_router_channel_utilization",
			Help: "Channel occupancy ratio",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_projection_drops_total",
			Help: "Envelopes dropped because the projection channel was full",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Envelopes dropped because the publish channel was full",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_backpressure_total",
			Help: "Times the router blocked on a full persist channel",
		}),

		// Ingestion & Idempotency
		CommandsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ingest_commands_received_total",
			Help: "Commands received from NATS",
		}, []string{"command"}),

		CommandParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ingest_parse_errors_total",
			Help: "Commands that failed to parse",
		}, []string{"command"}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_idempotency_duplicates_total",
			Help: "Duplicate commands skipped",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_dedup_lru_size",
			Help: "Entries in the dedup LRU",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_dedup_lru_evictions_total",
			Help: "Dedup LRU evictions",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_dedup_tier2_duration_seconds",
			Help:    "Postgres idempotency lookup latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Time to write one batch",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ProjectionUpdateDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_projection_update_duration_seconds",
			Help:    "Time to apply one envelope to the projections",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

// SetSharePrice records a fixed-point share price as a float gauge.
func (m *Metrics) SetSharePrice(vault string, price *uint256.Int, decimals uint8) {
	m.SharePrice.WithLabelValues(vault).Set(ScaledFloat(price, decimals))
}

// SetWatermark records a fixed-point watermark as a float gauge.
func (m *Metrics) SetWatermark(vault string, watermark *uint256.Int, decimals uint8) {
	m.Watermark.WithLabelValues(vault).Set(ScaledFloat(watermark, decimals))
}

// AddFees adds a fee amount in base units.
func (m *Metrics) AddFees(vault, feeType string, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	m.FeesCharged.WithLabelValues(vault, feeType).Add(ScaledFloat(amount, 0))
}

// ScaledFloat converts a fixed-point integer with the given decimals into a
// float for display. Never used for accounting.
func ScaledFloat(v *uint256.Int, decimals uint8) float64 {
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).InexactFloat64()
}
