// Package observability provides Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus instruments.
type Metrics struct {
	WebhooksReceived   *prometheus.CounterVec
	WebhooksRejected   *prometheus.CounterVec
	TransfersExtracted prometheus.Counter
	AlertsSent         *prometheus.CounterVec
	AlertsDeduped      prometheus.Counter
	AlertsRateLimited  prometheus.Counter
	AlertsFailed       prometheus.Counter
	BlocksScanned      *prometheus.CounterVec
	RPCErrors          *prometheus.CounterVec
	LastProcessedBlock *prometheus.GaugeVec
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chainalerts"
	}
	return &Metrics{
		WebhooksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "received_total",
			Help:      "Webhook calls received by provider",
		}, []string{"provider"}),
		WebhooksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "rejected_total",
			Help:      "Webhook calls rejected by provider and reason",
		}, []string{"provider", "reason"}),
		TransfersExtracted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "transfers_extracted_total",
			Help:      "Canonical transfer records extracted",
		}),
		AlertsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_sent_total",
			Help:      "Alerts delivered by chain",
		}, []string{"chain"}),
		AlertsDeduped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_deduped_total",
			Help:      "Transfers skipped as duplicates",
		}),
		AlertsRateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_rate_limited_total",
			Help:      "Alerts dropped by the rate limiter",
		}),
		AlertsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_failed_total",
			Help:      "Alerts whose delivery exhausted retries",
		}),
		BlocksScanned: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "blocks_scanned_total",
			Help:      "Blocks scanned by the polling watcher",
		}, []string{"chain"}),
		RPCErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "rpc_errors_total",
			Help:      "RPC failures by chain",
		}, []string{"chain"}),
		LastProcessedBlock: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "last_processed_block",
			Help:      "Highest fully processed block number",
		}, []string{"chain"}),
	}
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
