package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// breakerMetrics holds Prometheus metrics for circuit breakers.
type breakerMetrics struct {
	stateGauge         *prometheus.GaugeVec
	tripsTotal         *prometheus.CounterVec
	shortCircuitsTotal *prometheus.CounterVec
	successesTotal     *prometheus.CounterVec
	failuresTotal      *prometheus.CounterVec
}

var (
	breakerMetricsInstance *breakerMetrics
	breakerMetricsOnce     sync.Once
)

// getBreakerMetrics returns the singleton breaker metrics instance.
func getBreakerMetrics() *breakerMetrics {
	breakerMetricsOnce.Do(func() {
		breakerMetricsInstance = newBreakerMetrics()
	})
	return breakerMetricsInstance
}

// MustRegister registers all breaker metric collectors with the given
// Prometheus registry.
func MustRegister(registry *prometheus.Registry) {
	m := getBreakerMetrics()
	registry.MustRegister(
		m.stateGauge,
		m.tripsTotal,
		m.shortCircuitsTotal,
		m.successesTotal,
		m.failuresTotal,
	)
}

func newBreakerMetrics() *breakerMetrics {
	return &breakerMetrics{
		stateGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mcpgw",
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"backend"},
		),
		tripsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgw",
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of closed-to-open transitions",
			},
			[]string{"backend"},
		),
		shortCircuitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgw",
				Subsystem: "circuit_breaker",
				Name:      "short_circuits_total",
				Help:      "Total number of calls rejected without reaching the backend",
			},
			[]string{"backend"},
		),
		successesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgw",
				Subsystem: "circuit_breaker",
				Name:      "successes_total",
				Help:      "Total number of successful calls observed",
			},
			[]string{"backend"},
		),
		failuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgw",
				Subsystem: "circuit_breaker",
				Name:      "failures_total",
				Help:      "Total number of failed calls observed",
			},
			[]string{"backend"},
		),
	}
}
