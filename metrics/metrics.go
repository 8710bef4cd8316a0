package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	processedTransactionsCount *prometheus.CounterVec
	rejectedTransactionsCount  *prometheus.CounterVec
	inconsistentTransactions   prometheus.Counter
	integrityFailures          *prometheus.CounterVec
	ledgerHeightGauge          *prometheus.GaugeVec
	registrationsCount         *prometheus.CounterVec
	openConnectionsGauge       prometheus.Gauge
	publishFailuresCount       prometheus.Counter
}

// NewMetrics registers all collectors on reg. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	m := Metrics{
		// transaction engine
		processedTransactionsCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_processed_transactions_count", namespace),
			Help: "The number of completed transactions",
		}, []string{"kind"}),
		rejectedTransactionsCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_rejected_transactions_count", namespace),
			Help: "The number of rejected transactions by reason",
		}, []string{"reason"}),
		inconsistentTransactions: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_inconsistent_transactions_count", namespace),
			Help: "The number of transactions left partially posted that need reconciliation",
		}),
		registrationsCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_registrations_count", namespace),
			Help: "The number of registered accounts",
		}, []string{"role"}),
		// ledgers
		integrityFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_ledger_integrity_failures_count", namespace),
			Help: "The number of failed ledger verifications",
		}, []string{"institution"}),
		ledgerHeightGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_ledger_height", namespace),
			Help: "The number of blocks per institution ledger including genesis",
		}, []string{"institution"}),
		// transport
		openConnectionsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_open_connections", namespace),
			Help: "The number of client connections currently served",
		}),
		publishFailuresCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_receipt_publish_failures_count", namespace),
			Help: "The number of receipts that could not be published",
		}),
	}
	return &m
}

func (metrics *Metrics) IncProcessedTransactions(crossInstitution bool) {
	kind := "intra"
	if crossInstitution {
		kind = "cross"
	}
	metrics.processedTransactionsCount.WithLabelValues(kind).Inc()
}

func (metrics *Metrics) IncRejectedTransactions(reason string) {
	metrics.rejectedTransactionsCount.WithLabelValues(reason).Inc()
}

func (metrics *Metrics) IncInconsistentTransactions() {
	metrics.inconsistentTransactions.Inc()
}

func (metrics *Metrics) IncRegistrations(role string) {
	metrics.registrationsCount.WithLabelValues(role).Inc()
}

func (metrics *Metrics) IncIntegrityFailures(institution string) {
	metrics.integrityFailures.WithLabelValues(institution).Inc()
}

func (metrics *Metrics) SetLedgerHeight(institution string, height int) {
	metrics.ledgerHeightGauge.WithLabelValues(institution).Set(float64(height))
}

func (metrics *Metrics) IncOpenConnections() {
	metrics.openConnectionsGauge.Inc()
}

func (metrics *Metrics) DecOpenConnections() {
	metrics.openConnectionsGauge.Dec()
}

func (metrics *Metrics) IncPublishFailures() {
	metrics.publishFailuresCount.Inc()
}
