package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// schedulerMetrics holds Prometheus metrics for the scheduler.
type schedulerMetrics struct {
	queueDepth    prometheus.Gauge
	running       prometheus.Gauge
	timeoutsTotal prometheus.Counter
	waitDuration  prometheus.Histogram
}

var (
	schedulerMetricsInstance *schedulerMetrics
	schedulerMetricsOnce     sync.Once
)

// getSchedulerMetrics returns the singleton scheduler metrics instance.
func getSchedulerMetrics() *schedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetricsInstance = newSchedulerMetrics()
	})
	return schedulerMetricsInstance
}

// MustRegister registers all scheduler metric collectors with the
// given Prometheus registry.
func MustRegister(registry *prometheus.Registry) {
	m := getSchedulerMetrics()
	registry.MustRegister(
		m.queueDepth,
		m.running,
		m.timeoutsTotal,
		m.waitDuration,
	)
}

func newSchedulerMetrics() *schedulerMetrics {
	return &schedulerMetrics{
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpgw",
				Subsystem: "scheduler",
				Name:      "queue_depth",
				Help:      "Current number of queued tasks",
			},
		),
		running: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpgw",
				Subsystem: "scheduler",
				Name:      "running_tasks",
				Help:      "Current number of executing tasks",
			},
		),
		timeoutsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpgw",
				Subsystem: "scheduler",
				Name:      "timeouts_total",
				Help:      "Total number of tasks that timed out",
			},
		),
		waitDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mcpgw",
				Subsystem: "scheduler",
				Name:      "wait_duration_seconds",
				Help:      "Time tasks spend queued before starting",
				Buckets: []float64{
					.001, .005, .01, .05, .1,
					.25, .5, 1, 2.5, 5, 10,
				},
			},
		),
	}
}
