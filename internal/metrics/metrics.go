package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry         *prometheus.Registry
	cycles           *prometheus.CounterVec // cycles by outcome
	cycleDuration    prometheus.Histogram   // time per cycle
	failures         prometheus.Gauge       // consecutive failed cycles
	nextDelay        prometheus.Gauge       // wait before next cycle
	lastUpdate       prometheus.Gauge       // unix time of last publish
	resolverRequests *prometheus.CounterVec // ip lookups
	publishRequests  *prometheus.CounterVec // dns publish attempts
	stateRequests    *prometheus.CounterVec // state store ops
	monitorRequests  *prometheus.CounterVec // heartbeat pings
}

// Public interface for metrics operations
func (m *Metrics) IncCycle(outcome string) {
	if !isValidOutcome(outcome) {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetCycleDuration(duration time.Duration) {
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetConsecutiveFailures(n int) {
	m.failures.Set(float64(n))
}

func (m *Metrics) SetNextDelay(d time.Duration) {
	m.nextDelay.Set(d.Seconds())
}

func (m *Metrics) SetLastUpdate(t time.Time) {
	m.lastUpdate.Set(float64(t.Unix()))
}

func (m *Metrics) IncResolverRequest(success bool) {
	status := boolToResult(success)
	m.resolverRequests.WithLabelValues(status).Inc()
}

func (m *Metrics) IncPublishRequest(provider string, success bool) {
	if provider == "" {
		return
	}
	status := boolToResult(success)
	m.publishRequests.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) IncStateRequest(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	status := boolToResult(success)
	m.stateRequests.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) IncMonitorRequest(success bool) {
	status := boolToResult(success)
	m.monitorRequests.WithLabelValues(status).Inc()
}

// Validation helpers
func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "read", "update":
		return true
	}
	return false
}

func isValidOutcome(outcome string) bool {
	switch outcome {
	case "updated", "unchanged", "skipped", "failed":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "ipsync"

	m := &Metrics{
		registry: registry,

		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of update cycles by outcome",
		}, []string{"outcome"}),

		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of update cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failures",
			Help:      "Number of consecutive failed update cycles",
		}),

		nextDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_delay_seconds",
			Help:      "Wait before the next update cycle in seconds",
		}),

		lastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix time of the last successful record publication",
		}),

		resolverRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_requests_total",
			Help:      "Total public IP lookup requests",
		}, []string{"status"}),

		publishRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_requests_total",
			Help:      "Total DNS record publication attempts",
		}, []string{"provider", "status"}),

		stateRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_requests_total",
			Help:      "Total state store requests",
		}, []string{"operation", "status"}),

		monitorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_requests_total",
			Help:      "Total heartbeat monitor pings",
		}, []string{"status"}),
	}

	if register {
		registry.MustRegister(
			m.cycles,
			m.cycleDuration,
			m.failures,
			m.nextDelay,
			m.lastUpdate,
			m.resolverRequests,
			m.publishRequests,
			m.stateRequests,
			m.monitorRequests,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
