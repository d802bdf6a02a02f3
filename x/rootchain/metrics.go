package rootchain

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/rootchain/metrics"
)

// Metrics holds all ledger-level metrics
type Metrics struct {
	registry *metrics.ComponentRegistry

	BlocksSubmitted       *prometheus.CounterVec
	BlocksFinalized       prometheus.Counter
	LastBlock             prometheus.Gauge
	LastFinalizedBlock    prometheus.Gauge
	EpochsOpened          *prometheus.CounterVec
	RequestsCreated       *prometheus.CounterVec
	RequestsFinalized     *prometheus.CounterVec
	RequestBlocksSealed   *prometheus.CounterVec
	RequestBlockFill      prometheus.Histogram
	Forks                 prometheus.Counter
	CurrentFork           prometheus.Gauge
	Challenges            prometheus.Counter
	Rejections            *prometheus.CounterVec
	EventDeliveryFailures prometheus.Counter
}

// NewMetrics creates ledger metrics on the shared registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(metrics.NewComponentRegistry("rootchain", "ledger"))
}

// NewMetricsWith creates ledger metrics on reg.
func NewMetricsWith(reg *metrics.ComponentRegistry) *Metrics {
	return &Metrics{
		registry: reg,

		BlocksSubmitted: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "blocks_submitted_total",
			Help: "Total number of committed blocks by kind",
		}, []string{"kind"}),

		BlocksFinalized: reg.NewCounter(prometheus.CounterOpts{
			Name: "blocks_finalized_total",
			Help: "Total number of finalized blocks",
		}),

		LastBlock: reg.NewGauge(prometheus.GaugeOpts{
			Name: "last_block",
			Help: "Last committed block number of the current fork",
		}),

		LastFinalizedBlock: reg.NewGauge(prometheus.GaugeOpts{
			Name: "last_finalized_block",
			Help: "Last finalized block number of the current fork",
		}),

		EpochsOpened: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "epochs_opened_total",
			Help: "Total number of epochs opened by category",
		}, []string{"category"}),

		RequestsCreated: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_created_total",
			Help: "Total number of requests created",
		}, []string{"kind", "direction"}),

		RequestsFinalized: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_finalized_total",
			Help: "Total number of requests finalized",
		}, []string{"kind", "outcome"}),

		RequestBlocksSealed: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "request_blocks_sealed_total",
			Help: "Total number of sealed request blocks",
		}, []string{"kind", "reason"}),

		RequestBlockFill: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "request_block_fill",
			Help:    "Number of requests in a sealed request block",
			Buckets: metrics.CountBuckets,
		}),

		Forks: reg.NewCounter(prometheus.CounterOpts{
			Name: "forks_total",
			Help: "Total number of forks created",
		}),

		CurrentFork: reg.NewGauge(prometheus.GaugeOpts{
			Name: "current_fork",
			Help: "Current fork id",
		}),

		Challenges: reg.NewCounter(prometheus.CounterOpts{
			Name: "challenges_total",
			Help: "Total number of successful exit challenges",
		}),

		Rejections: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "rejections_total",
			Help: "Total number of rejected calls",
		}, []string{"type", "operation"}),

		EventDeliveryFailures: reg.NewCounter(prometheus.CounterOpts{
			Name: "event_delivery_failures_total",
			Help: "Total number of failed event sink deliveries",
		}),
	}
}

// RecordRejection records a rejected call.
func (m *Metrics) RecordRejection(err error, operation string) {
	t, ok := TypeOf(err)
	label := "internal"
	if ok {
		label = t.String()
	}
	m.Rejections.WithLabelValues(label, operation).Inc()
}
