package infra

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics keeps lock-free counters for in-process reads (status command)
// and mirrors them into Prometheus collectors on a private registry.
// All methods are safe on a nil receiver.
type Metrics struct {
	// Counters
	dispatched    atomic.Uint64
	dispatchFails atomic.Uint64
	feedMessages  atomic.Uint64
	feedDropped   atomic.Uint64
	ordersPlaced  atomic.Uint64
	autoSells     atomic.Uint64
	errorsTotal   atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32

	registry        *prometheus.Registry
	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	feedTotal       *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	ordersTotal     *prometheus.CounterVec
	connections     prometheus.Gauge
}

// NewMetrics creates the counters and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pm_terminal",
			Name:      "dispatch_total",
			Help:      "Dispatched operations by dispatcher and outcome.",
		}, []string{"dispatcher", "success"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pm_terminal",
			Name:      "dispatch_duration_seconds",
			Help:      "Handler latency by dispatcher.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"dispatcher"}),
		feedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pm_terminal",
			Name:      "feed_messages_total",
			Help:      "Decoded feed events by category.",
		}, []string{"category"}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pm_terminal",
			Name:      "feed_dropped_total",
			Help:      "Feed messages dropped by category and reason.",
		}, []string{"category", "reason"}),
		ordersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pm_terminal",
			Name:      "orders_total",
			Help:      "Orders placed by side.",
		}, []string{"side"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pm_terminal",
			Name:      "feed_connections",
			Help:      "Open feed connections.",
		}),
	}
	m.registry.MustRegister(
		m.dispatchTotal,
		m.dispatchLatency,
		m.feedTotal,
		m.droppedTotal,
		m.ordersTotal,
		m.connections,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDispatch records one completed operation.
func (m *Metrics) RecordDispatch(dispatcher string, success bool, latency time.Duration) {
	if m == nil {
		return
	}
	m.dispatched.Add(1)
	if !success {
		m.dispatchFails.Add(1)
	}
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)

	if m.registry != nil {
		ok := "false"
		if success {
			ok = "true"
		}
		m.dispatchTotal.WithLabelValues(dispatcher, ok).Inc()
		m.dispatchLatency.WithLabelValues(dispatcher).Observe(latency.Seconds())
	}
}

// RecordFeedMessage records one decoded feed event.
func (m *Metrics) RecordFeedMessage(category string) {
	if m == nil {
		return
	}
	m.feedMessages.Add(1)
	if m.registry != nil {
		m.feedTotal.WithLabelValues(category).Inc()
	}
}

// RecordDropped records a feed message that could not be applied.
func (m *Metrics) RecordDropped(category, reason string) {
	if m == nil {
		return
	}
	m.feedDropped.Add(1)
	if m.registry != nil {
		m.droppedTotal.WithLabelValues(category, reason).Inc()
	}
}

// RecordOrderPlaced records an accepted order.
func (m *Metrics) RecordOrderPlaced(side string) {
	if m == nil {
		return
	}
	m.ordersPlaced.Add(1)
	if m.registry != nil {
		m.ordersTotal.WithLabelValues(side).Inc()
	}
}

// RecordAutoSell records a fired auto-sell.
func (m *Metrics) RecordAutoSell() {
	if m == nil {
		return
	}
	m.autoSells.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	if m == nil {
		return
	}
	m.errorsTotal.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Add(1)
	if m.registry != nil {
		m.connections.Inc()
	}
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Add(-1)
	if m.registry != nil {
		m.connections.Dec()
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Dispatched        uint64
	DispatchFailures  uint64
	FeedMessages      uint64
	FeedDropped       uint64
	OrdersPlaced      uint64
	AutoSells         uint64
	ErrorsTotal       uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Timestamp: time.Now()}
	}
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		Dispatched:        m.dispatched.Load(),
		DispatchFailures:  m.dispatchFails.Load(),
		FeedMessages:      m.feedMessages.Load(),
		FeedDropped:       m.feedDropped.Load(),
		OrdersPlaced:      m.ordersPlaced.Load(),
		AutoSells:         m.autoSells.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears the in-process counters (for testing). Prometheus collectors are untouched.
func (m *Metrics) Reset() {
	m.dispatched.Store(0)
	m.dispatchFails.Store(0)
	m.feedMessages.Store(0)
	m.feedDropped.Store(0)
	m.ordersPlaced.Store(0)
	m.autoSells.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
}
