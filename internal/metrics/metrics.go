package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tb_remediate"

var (
	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Remediation outcomes emitted, partitioned by anomaly kind and status.",
		},
		[]string{"issue_type", "status"},
	)

	remediesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remedies_total",
			Help:      "Remedy executions, partitioned by remedy and result.",
		},
		[]string{"remedy", "result"},
	)

	resolverFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_fallbacks_total",
			Help:      "Address resolutions that degraded to the fallback identity.",
		},
		[]string{"lookup"},
	)

	unhandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unhandled_events_total",
			Help:      "Classified events that produced no remediation, partitioned by reason.",
		},
		[]string{"reason"},
	)

	eventDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_seconds",
			Help:      "Time spent dispatching and executing one anomaly event.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
)

// Register attaches the collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		outcomesTotal,
		remediesTotal,
		resolverFallbacksTotal,
		unhandledTotal,
		eventDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveOutcome counts one emitted outcome. status is "success" or "failed".
func ObserveOutcome(issueType string, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	outcomesTotal.WithLabelValues(issueType, status).Inc()
}

// ObserveRemedy counts one remedy execution.
func ObserveRemedy(remedy, result string) {
	remediesTotal.WithLabelValues(remedy, result).Inc()
}

// ObserveFallback counts a resolver fallback for the given lookup type.
func ObserveFallback(lookup string) {
	resolverFallbacksTotal.WithLabelValues(lookup).Inc()
}

// Reasons an event is left unhandled.
const (
	UnhandledUnknownKind = "unknown_kind"
	UnhandledNoActions   = "no_actions"
)

// ObserveUnhandled counts one classified event that emitted no outcome.
func ObserveUnhandled(reason string) {
	unhandledTotal.WithLabelValues(reason).Inc()
}

// ObserveEvent records how long one event took end to end.
func ObserveEvent(d time.Duration) {
	if d < 0 {
		d = 0
	}
	eventDurationSeconds.Observe(d.Seconds())
}
