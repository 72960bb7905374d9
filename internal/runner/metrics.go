package runner

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports request statistics as Prometheus collectors. It is fed by
// the stats registry through the Observer hook.
type Metrics struct {
	requests  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	users     prometheus.Gauge
	registry  *prometheus.Registry
}

// NewMetrics creates the collectors on a dedicated registry
func NewMetrics() *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_requests_total",
			Help: "Total requests sent by simulated users",
		}, []string{"method", "name"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_request_failures_total",
			Help: "Total requests counted as failures",
		}, []string{"method", "name"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swarm_request_duration_seconds",
			Help:    "Response time distribution",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"method", "name"}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_users",
			Help: "Simulated users currently running",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.requests, m.failures, m.latency, m.users)
	return m
}

// Registry returns the registry to serve with promhttp
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest implements stats.Observer
func (m *Metrics) ObserveRequest(method, name string, responseTimeMs float64, _ int64) {
	m.requests.WithLabelValues(method, name).Inc()
	m.latency.WithLabelValues(method, name).Observe(responseTimeMs / 1000)
}

// ObserveFailure implements stats.Observer
func (m *Metrics) ObserveFailure(method, name, _ string) {
	m.failures.WithLabelValues(method, name).Inc()
}

// SetUsers records the running user count
func (m *Metrics) SetUsers(n int) {
	m.users.Set(float64(n))
}
