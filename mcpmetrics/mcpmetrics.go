// Package mcpmetrics exports Prometheus collectors for a pmcp Server and its
// streamable-HTTP binding. A *Metrics is safe for concurrent use, and a nil
// *Metrics discards every recorded observation, mirroring the teacher's
// nil-receiver-safe metrics collector.
package mcpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and gauges for one or more pmcp servers sharing
// a process. Register it with a prometheus.Registerer (or use NewRegistered
// to create and register it against prometheus.DefaultRegisterer).
type Metrics struct {
	ActiveServers       prometheus.Gauge
	ActiveSubscriptions prometheus.Gauge
	ActiveSSEStreams    prometheus.Gauge

	RequestsTotal   *prometheus.CounterVec // labeled by method
	ErrorsTotal     *prometheus.CounterVec // labeled by code
	Debounced       *prometheus.CounterVec // labeled by method, coalesced-event count
	NotificationsTotal *prometheus.CounterVec // labeled by method, emitted after coalescing

	BytesRead           prometheus.Counter
	BytesWritten        prometheus.Counter
	CallsPushed         prometheus.Counter // server-initiated requests (sampling, roots)
	RequestDuration     *prometheus.HistogramVec
}

// New constructs a Metrics value with all collectors created but not
// registered. Use NewRegistered for the common case of registering against a
// single prometheus.Registerer.
func New() *Metrics {
	return &Metrics{
		ActiveServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pmcp", Name: "servers_active",
			Help: "Number of Server instances currently serving.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pmcp", Name: "resource_subscriptions_active",
			Help: "Number of active resources/subscribe subscriptions.",
		}),
		ActiveSSEStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pmcp", Name: "sse_streams_active",
			Help: "Number of open streamable-HTTP SSE GET streams.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmcp", Name: "rpc_requests_total",
			Help: "Total JSON-RPC requests dispatched, by method.",
		}, []string{"method"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmcp", Name: "rpc_errors_total",
			Help: "Total JSON-RPC error responses sent, by code.",
		}, []string{"code"}),
		Debounced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmcp", Name: "notifications_coalesced_total",
			Help: "Total notification events absorbed by the debouncer without being emitted.",
		}, []string{"method"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmcp", Name: "notifications_emitted_total",
			Help: "Total notifications actually sent to a peer, by method.",
		}, []string{"method"}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pmcp", Name: "transport_bytes_read_total",
			Help: "Total bytes read from all transports.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pmcp", Name: "transport_bytes_written_total",
			Help: "Total bytes written to all transports.",
		}),
		CallsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pmcp", Name: "server_initiated_requests_total",
			Help: "Total server-initiated requests issued to a peer (sampling, roots).",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pmcp", Name: "rpc_request_duration_seconds",
			Help:    "Handler latency for dispatched requests, by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// NewRegistered creates a Metrics value and registers all of its collectors
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewRegistered(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := New()
	reg.MustRegister(
		m.ActiveServers, m.ActiveSubscriptions, m.ActiveSSEStreams,
		m.RequestsTotal, m.ErrorsTotal, m.Debounced, m.NotificationsTotal,
		m.BytesRead, m.BytesWritten, m.CallsPushed, m.RequestDuration,
	)
	return m
}

func (m *Metrics) ObserveRequest(method string) {
	if m != nil {
		m.RequestsTotal.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) ObserveError(code string) {
	if m != nil {
		m.ErrorsTotal.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) ObserveNotificationCoalesced(method string) {
	if m != nil {
		m.Debounced.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) ObserveNotificationEmitted(method string) {
	if m != nil {
		m.NotificationsTotal.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) AddBytesRead(n int) {
	if m != nil {
		m.BytesRead.Add(float64(n))
	}
}

func (m *Metrics) AddBytesWritten(n int) {
	if m != nil {
		m.BytesWritten.Add(float64(n))
	}
}

func (m *Metrics) ObserveDuration(method string, seconds float64) {
	if m != nil {
		m.RequestDuration.WithLabelValues(method).Observe(seconds)
	}
}
