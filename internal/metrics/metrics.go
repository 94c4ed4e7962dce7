package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	IncomingMessages *prometheus.CounterVec
	OutgoingMessages *prometheus.CounterVec
	GatewayRequests  *prometheus.CounterVec
	GatewayLatency   *prometheus.HistogramVec
	Purchases        *prometheus.CounterVec
	WizardSteps      *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			IncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "incoming_messages_total",
				Help:      "Total incoming chat messages processed.",
			}, []string{"type"}),
			OutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outgoing_messages_total",
				Help:      "Total outgoing chat messages sent.",
			}, []string{"type"}),
			GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_gateway_requests_total",
				Help:      "Total payment gateway API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payment_gateway_request_duration_seconds",
				Help:      "Latency distribution for payment gateway API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			Purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchases_total",
				Help:      "Payment confirmations by reconciliation outcome.",
			}, []string{"outcome"}),
			WizardSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wizard_steps_total",
				Help:      "Admin wizard step transitions by wizard and result.",
			}, []string{"wizard", "result"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.IncomingMessages,
			metricsInstance.OutgoingMessages,
			metricsInstance.GatewayRequests,
			metricsInstance.GatewayLatency,
			metricsInstance.Purchases,
			metricsInstance.WizardSteps,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
