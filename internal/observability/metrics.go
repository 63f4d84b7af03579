package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for VaultLedger.
type Metrics struct {
	// --- Protocols ---
	DepositsApplied    *prometheus.CounterVec
	WithdrawalsApplied *prometheus.CounterVec
	ProtocolsRejected  *prometheus.CounterVec
	ProtocolDuration   *prometheus.HistogramVec

	// --- Ledger state ---
	GlobalNormalizedTotal prometheus.Gauge
	CapacityCeiling       prometheus.Gauge
	CapacityUtilization   prometheus.Gauge

	// --- Oracle ---
	OracleRejections *prometheus.CounterVec

	// --- Persistence ---
	PersistRecordsWritten prometheus.Counter
	PersistBatchDur       prometheus.Histogram
	PersistBatchSize      prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistLastSequence   prometheus.Gauge

	// --- Publishing ---
	PublishDrops prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	protocolBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		DepositsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_deposits_applied_total",
			Help: "Deposits committed",
		}, []string{"asset"}),

		WithdrawalsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_withdrawals_applied_total",
			Help: "Withdrawals committed",
		}, []string{"asset"}),

		ProtocolsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_protocols_rejected_total",
			Help: "Deposit/withdrawal protocols aborted",
		}, []string{"operation", "reason"}),

		ProtocolDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_protocol_duration_seconds",
			Help:    "End-to-end protocol duration",
			Buckets: protocolBuckets,
		}, []string{"operation"}),

		GlobalNormalizedTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_global_normalized_total",
			Help: "Global normalized total (USD-6)",
		}),

		CapacityCeiling: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_capacity_ceiling",
			Help: "Configured capacity ceiling (USD-6)",
		}),

		CapacityUtilization: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_capacity_utilization",
			Help: "Global total / ceiling (0.0-1.0)",
		}),

		OracleRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_oracle_rejections_total",
			Help: "Price quotes rejected by validation",
		}, []string{"reason"}),

		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_records_written_total",
			Help: "Records written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last persisted record sequence",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Records dropped due to full publish channel",
		}),
	}
}

// SetCapacityMetrics updates the ledger-state gauges after a mutation.
func (m *Metrics) SetCapacityMetrics(total, ceiling int64) {
	m.GlobalNormalizedTotal.Set(float64(total))
	m.CapacityCeiling.Set(float64(ceiling))
	if ceiling > 0 {
		m.CapacityUtilization.Set(float64(total) / float64(ceiling))
	}
}
