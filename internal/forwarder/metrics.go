package forwarder

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// forwarderMetrics holds Prometheus metrics for upstream calls.
type forwarderMetrics struct {
	attemptsTotal   *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var (
	forwarderMetricsInstance *forwarderMetrics
	forwarderMetricsOnce     sync.Once
)

// getForwarderMetrics returns the singleton forwarder metrics instance.
func getForwarderMetrics() *forwarderMetrics {
	forwarderMetricsOnce.Do(func() {
		forwarderMetricsInstance = newForwarderMetrics()
	})
	return forwarderMetricsInstance
}

// MustRegister registers all forwarder metric collectors with the
// given Prometheus registry.
func MustRegister(registry *prometheus.Registry) {
	m := getForwarderMetrics()
	registry.MustRegister(
		m.attemptsTotal,
		m.retriesTotal,
		m.errorsTotal,
		m.requestDuration,
	)
}

func newForwarderMetrics() *forwarderMetrics {
	return &forwarderMetrics{
		attemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgw",
				Subsystem: "upstream",
				Name:      "attempts_total",
				Help:      "Total number of upstream HTTP attempts",
			},
			[]string{"backend"},
		),
		retriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgw",
				Subsystem: "upstream",
				Name:      "retries_total",
				Help:      "Total number of upstream retries",
			},
			[]string{"backend"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgw",
				Subsystem: "upstream",
				Name:      "errors_total",
				Help:      "Total number of failed upstream calls after retries",
			},
			[]string{"backend", "class"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpgw",
				Subsystem: "upstream",
				Name:      "request_duration_seconds",
				Help:      "Duration of upstream calls including retries",
				Buckets: []float64{
					.005, .01, .025, .05, .1,
					.25, .5, 1, 2.5, 5, 10, 30,
				},
			},
			[]string{"backend"},
		),
	}
}
