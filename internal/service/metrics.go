package service

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type allocationMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	compensations *prometheus.CounterVec
	repaired      *prometheus.CounterVec
	leaseWaits    *prometheus.CounterVec
}

var (
	allocationMetricsOnce sync.Once
	allocationRegistry    *allocationMetrics
)

// Metrics returns the lazily-initialised allocation metrics registered on
// the default Prometheus registry.
func Metrics() *allocationMetrics {
	allocationMetricsOnce.Do(func() {
		allocationRegistry = &allocationMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dorm",
				Subsystem: "allocation",
				Name:      "operations_total",
				Help:      "Allocation operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dorm",
				Subsystem: "allocation",
				Name:      "operation_duration_seconds",
				Help:      "Latency of allocation operations including store round-trips.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dorm",
				Subsystem: "allocation",
				Name:      "compensations_total",
				Help:      "Compensating undo steps by step and result. Failures leave drift for the repair sweep.",
			}, []string{"step", "result"}),
			repaired: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dorm",
				Subsystem: "repair",
				Name:      "records_total",
				Help:      "Records rewritten by the consistency repair sweep.",
			}, []string{"sweep"}),
			leaseWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dorm",
				Subsystem: "allocation",
				Name:      "room_lease_total",
				Help:      "Room lease acquisitions by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			allocationRegistry.operations,
			allocationRegistry.latency,
			allocationRegistry.compensations,
			allocationRegistry.repaired,
			allocationRegistry.leaseWaits,
		)
	})
	return allocationRegistry
}

// Observe records one finished operation.
func (m *allocationMetrics) Observe(operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome(err)).Inc()
	m.latency.WithLabelValues(operation).Observe(d.Seconds())
}

// Compensation records the result of one undo step.
func (m *allocationMetrics) Compensation(step string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.compensations.WithLabelValues(step, result).Inc()
}

// Repaired adds n rewritten records for a sweep.
func (m *allocationMetrics) Repaired(sweep string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.repaired.WithLabelValues(sweep).Add(float64(n))
}

// Lease records a lease outcome: acquired, busy or degraded.
func (m *allocationMetrics) Lease(result string) {
	if m == nil {
		return
	}
	m.leaseWaits.WithLabelValues(result).Inc()
}
