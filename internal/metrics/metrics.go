// Package metrics exposes Prometheus collectors for monitoring passes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const namespace = "nautilus"

// Recorder records pass metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	passes          *prometheus.CounterVec
	passDuration    prometheus.Histogram
	lastPass        prometheus.Gauge
	violations      *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	actions         *prometheus.CounterVec
	excluded        *prometheus.CounterVec
	collectorErrors *prometheus.CounterVec
	ledgerErrors    prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Monitoring passes run, by result.",
		}, []string{"result"}),
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of monitoring passes.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		lastPass: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix time the last pass finished.",
		}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Violations detected, by kind, reason and severity.",
		}, []string{"kind", "reason", "severity"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Collapsed escalation decisions per resource.",
		}, []string{"decision"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Corrective actions attempted, by action and result.",
		}, []string{"action", "result"}),
		excluded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "excluded_resources_total",
			Help:      "Resources read but not evaluated, by reason.",
		}, []string{"reason"}),
		collectorErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_errors_total",
			Help:      "Failed namespace reads, by kind.",
		}, []string{"kind"}),
		ledgerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_errors_total",
			Help:      "Ledger writes that failed.",
		}),
	}
}

// NewForController registers the collectors on the controller-runtime
// registry served at /metrics by the manager.
func NewForController() *Recorder {
	return New(ctrlmetrics.Registry)
}

func (r *Recorder) Pass(d time.Duration, err error, finished time.Time) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.passes.WithLabelValues(result).Inc()
	r.passDuration.Observe(d.Seconds())
	r.lastPass.Set(float64(finished.Unix()))
}

func (r *Recorder) Violation(kind, reason, severity string) {
	if r == nil {
		return
	}
	r.violations.WithLabelValues(kind, reason, severity).Inc()
}

func (r *Recorder) Decision(decision string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(decision).Inc()
}

func (r *Recorder) Action(action string, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.actions.WithLabelValues(action, result).Inc()
}

func (r *Recorder) Excluded(reason string) {
	if r == nil {
		return
	}
	r.excluded.WithLabelValues(reason).Inc()
}

func (r *Recorder) CollectorError(kind string) {
	if r == nil {
		return
	}
	r.collectorErrors.WithLabelValues(kind).Inc()
}

func (r *Recorder) LedgerError() {
	if r == nil {
		return
	}
	r.ledgerErrors.Inc()
}
