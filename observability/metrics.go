package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ledgerMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	dropped    prometheus.Counter
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics
)

// LedgerMetrics returns the lazily-initialised registry used to record ledger
// RPC activity.
func LedgerMetrics() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gridfund",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gridfund",
				Subsystem: "ledger",
				Name:      "errors_total",
				Help:      "Total ledger errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "gridfund",
				Subsystem: "ledger",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for ledger RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gridfund",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped because a subscriber buffer was full.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.errors,
			ledgerRegistry.latency,
			ledgerRegistry.dropped,
		)
	})
	return ledgerRegistry
}

// Observe records the outcome of a ledger RPC request. The status code should
// be the HTTP status that was ultimately written to the response writer.
func (m *ledgerMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
	m.operations.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDroppedEvents adds the delta of dropped event notifications.
func (m *ledgerMetrics) RecordDroppedEvents(delta uint64) {
	if m == nil || delta == 0 {
		return
	}
	m.dropped.Add(float64(delta))
}
