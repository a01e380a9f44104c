package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records settlement activity for the Prometheus endpoint.
type CheckoutMetrics struct {
	settlements *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	latency     prometheus.Histogram
}

var (
	checkoutMetricsOnce sync.Once
	checkoutRegistry    *CheckoutMetrics
)

// Checkout returns the lazily-initialised settlement metrics registry.
func Checkout() *CheckoutMetrics {
	checkoutMetricsOnce.Do(func() {
		checkoutRegistry = &CheckoutMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dinmarket",
				Subsystem: "checkout",
				Name:      "settlements_total",
				Help:      "Total committed settlements segmented by outcome.",
			}, []string{"outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dinmarket",
				Subsystem: "checkout",
				Name:      "rejections_total",
				Help:      "Total rejected checkouts segmented by gate reason.",
			}, []string{"reason"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "dinmarket",
				Subsystem: "checkout",
				Name:      "settlement_duration_seconds",
				Help:      "Latency distribution for buy submissions.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			checkoutRegistry.settlements,
			checkoutRegistry.rejections,
			checkoutRegistry.latency,
		)
	})
	return checkoutRegistry
}

// ObserveSettlement records a committed settlement and its duration.
func (m *CheckoutMetrics) ObserveSettlement(duration time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues("committed").Inc()
	m.latency.Observe(duration.Seconds())
}

// ObserveRejection records a gate rejection by reason label.
func (m *CheckoutMetrics) ObserveRejection(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
	m.latency.Observe(duration.Seconds())
}
