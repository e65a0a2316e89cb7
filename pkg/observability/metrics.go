package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors of the engine.
type Metrics struct {
	StepDuration *prometheus.HistogramVec
	StepErrors   *prometheus.CounterVec
	Turns        *prometheus.CounterVec

	AuditDispatched       prometheus.Counter
	AuditDropped          prometheus.Counter
	AuditListenerFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil registerer yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnpike_step_duration_seconds",
				Help:    "Duration of pipeline step executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),

		StepErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnpike_step_errors_total",
				Help: "Total number of pipeline steps that failed",
			},
			[]string{"step"},
		),

		Turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnpike_turns_total",
				Help: "Total number of processed turns by outcome",
			},
			[]string{"outcome"},
		),

		AuditDispatched: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "turnpike_audit_dispatched_total",
				Help: "Total number of audit records dispatched to listeners",
			},
		),

		AuditDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "turnpike_audit_dropped_total",
				Help: "Total number of audit deliveries dropped by backpressure",
			},
		),

		AuditListenerFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "turnpike_audit_listener_failures_total",
				Help: "Total number of audit listener errors and panics",
			},
		),
	}
}

var nop = NewMetrics(nil)

// Nop returns shared unregistered collectors.
func Nop() *Metrics { return nop }
