package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Billing operation metrics
	billingOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_operations_total",
		Help: "Total billing operations by terminal outcome",
	}, []string{
		"operation", // purchase, renewal, retry, refund, deposit, cancel, toggle_auto_renew
		"outcome",   // success, failed, rejected
	})

	billingAmountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_amount_total",
		Help: "Total money moved by completed billing operations",
	}, []string{
		"operation",
	})

	// Sweep metrics
	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_sweep_duration_seconds",
		Help:    "Time to run one sweep invocation",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{
		"sweep", // renewals, retries, expirations, expiring_notices
	})

	sweepSubscriptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_sweep_subscriptions_total",
		Help: "Subscriptions processed by sweeps",
	}, []string{
		"sweep",
		"outcome", // renewed, failed, skipped, expired, notified
	})

	// Gateway metrics
	gatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_call_duration_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{
		"call",    // charge, refund
		"outcome", // success, declined, error, timeout
	})

	gatewayCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payment_gateway_circuit_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{
		"name",
	})

	// Notification delivery metrics
	notificationsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_published_total",
		Help: "Notification publish attempts",
	}, []string{
		"type",
		"status", // success, failed
	})
)

// RecordBillingOperation counts one terminal outcome of a billing operation
func RecordBillingOperation(operation, outcome string) {
	billingOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordBillingAmount adds amount to the money-moved counter for operation.
// Only completed operations should be recorded.
func RecordBillingAmount(operation string, amount float64) {
	billingAmountTotal.WithLabelValues(operation).Add(amount)
}

// RecordSweep records one sweep invocation and the per-outcome counts
func RecordSweep(sweep string, durationSeconds float64, outcomes map[string]int) {
	sweepDuration.WithLabelValues(sweep).Observe(durationSeconds)
	for outcome, n := range outcomes {
		if n > 0 {
			sweepSubscriptionsTotal.WithLabelValues(sweep, outcome).Add(float64(n))
		}
	}
}

// RecordGatewayCall records the latency and outcome of a gateway call
func RecordGatewayCall(call, outcome string, durationSeconds float64) {
	gatewayCallDuration.WithLabelValues(call, outcome).Observe(durationSeconds)
}

// SetGatewayCircuitState publishes the breaker state for name
func SetGatewayCircuitState(name string, state int) {
	gatewayCircuitState.WithLabelValues(name).Set(float64(state))
}

// RecordNotificationPublished counts one publish attempt
func RecordNotificationPublished(notificationType, status string) {
	notificationsPublishedTotal.WithLabelValues(notificationType, status).Inc()
}
