// Package telemetry wires Prometheus metrics and OpenTelemetry tracing
// for the gateway: policy decisions, framing errors, dispatcher queue
// depth, and drain events on the Prometheus side; spans around policy
// evaluation and dispatch on the tracing side.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the gateway records. Pass to
// components that need to record against it; construct exactly one per
// process via NewMetrics.
type Metrics struct {
	DecisionsTotal      *prometheus.CounterVec
	PolicyEvalDuration  prometheus.Histogram
	FramingErrorsTotal  *prometheus.CounterVec
	DispatchQueueDepth  prometheus.Gauge
	DrainEventsTotal    prometheus.Counter
	ChildRestartsTotal  prometheus.Counter
	ActiveSessions      prometheus.Gauge
}

// NewMetrics creates and registers every metric against reg, along with
// the standard Go/process collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgate",
				Name:      "decisions_total",
				Help:      "Total policy decisions, labeled by verdict and rule id",
			},
			[]string{"verdict", "rule_id"},
		),
		PolicyEvalDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mcpgate",
				Name:      "policy_eval_duration_seconds",
				Help:      "Policy evaluation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		FramingErrorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgate",
				Name:      "framing_errors_total",
				Help:      "Total frames rejected by the transport codec, labeled by side",
			},
			[]string{"side"},
		),
		DispatchQueueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpgate",
				Name:      "dispatch_queue_depth",
				Help:      "Number of messages currently queued for dispatch",
			},
		),
		DrainEventsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpgate",
				Name:      "drain_events_total",
				Help:      "Total number of times a session entered draining",
			},
		),
		ChildRestartsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpgate",
				Name:      "child_restarts_total",
				Help:      "Total number of times the supervised child process was respawned",
			},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpgate",
				Name:      "active_sessions",
				Help:      "Number of sessions currently being served",
			},
		),
	}
}

// RecordDecision increments the decision counter for one policy outcome.
func (m *Metrics) RecordDecision(verdict, ruleID string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(verdict, ruleID).Inc()
}

// RecordFramingError increments the framing-error counter for one side
// ("agent" or "child").
func (m *Metrics) RecordFramingError(side string) {
	if m == nil {
		return
	}
	m.FramingErrorsTotal.WithLabelValues(side).Inc()
}

// RecordDrainEvent increments the drain-events counter.
func (m *Metrics) RecordDrainEvent() {
	if m == nil {
		return
	}
	m.DrainEventsTotal.Inc()
}

// SetQueueDepth reports the dispatcher's current inbound queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.DispatchQueueDepth.Set(float64(depth))
}

// SessionStarted increments the active-sessions gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active-sessions gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
