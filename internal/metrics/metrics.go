// Package metrics exposes frontdesk's Prometheus collectors. Collectors are
// registered on a per-instance registry; a nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	calls         *prometheus.CounterVec
	questions     *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	bridgeState   prometheus.Gauge
	reconnects    prometheus.Counter
	sweepDuration prometheus.Histogram
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_calls_total",
			Help: "Calls seen, by lifecycle event (started/completed)",
		}, []string{"event"}),
		questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_questions_total",
			Help: "Customer questions answered, by source (knowledge/rule/escalated)",
		}, []string{"source"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_escalations_total",
			Help: "Escalation transitions (created/resolved/expired)",
		}, []string{"event"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_notifications_total",
			Help: "Notification attempts by channel and result",
		}, []string{"channel", "result"}),
		bridgeState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "frontdesk_bridge_state",
			Help: "Event bridge connection state (0=disconnected, 1=connecting, 2=connected)",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontdesk_bridge_reconnects_total",
			Help: "Event bridge connection attempts after a failure or drop",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frontdesk_sweep_duration_seconds",
			Help:    "Duration of timeout sweeper runs",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.calls, m.questions, m.escalations, m.notifications,
		m.bridgeState, m.reconnects, m.sweepDuration,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Call(event string) {
	if m != nil {
		m.calls.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Question(source string) {
	if m != nil {
		m.questions.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Escalation(event string) {
	if m != nil {
		m.escalations.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Notification(channel string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) BridgeState(state int) {
	if m != nil {
		m.bridgeState.Set(float64(state))
	}
}

func (m *Metrics) BridgeReconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.sweepDuration.Observe(d.Seconds())
	}
}
