package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics tracks purchase-construction outcomes for the gateway.
type CheckoutMetrics struct {
	buildsTotal   *prometheus.CounterVec
	failuresTotal *prometheus.CounterVec
	buildSeconds  prometheus.Histogram
}

var (
	checkoutOnce     sync.Once
	checkoutRegistry *CheckoutMetrics
)

// Checkout returns the process-wide checkout metrics, registering them on
// first use.
func Checkout() *CheckoutMetrics {
	checkoutOnce.Do(func() {
		checkoutRegistry = &CheckoutMetrics{
			buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "checkout_builds_total",
				Help: "Count of successfully built purchase transactions by outcome.",
			}, []string{"outcome"}),
			failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "checkout_failures_total",
				Help: "Count of failed purchase constructions by reason.",
			}, []string{"reason"}),
			buildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "checkout_build_seconds",
				Help:    "Wall time spent constructing a purchase transaction.",
				Buckets: prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			checkoutRegistry.buildsTotal,
			checkoutRegistry.failuresTotal,
			checkoutRegistry.buildSeconds,
		)
	})
	return checkoutRegistry
}

// ObserveBuild records one successful construction.
func (m *CheckoutMetrics) ObserveBuild(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.buildsTotal.WithLabelValues(outcome).Inc()
	m.buildSeconds.Observe(seconds)
}

// IncFailure records one failed construction.
func (m *CheckoutMetrics) IncFailure(reason string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(reason).Inc()
}
