package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// Metrics provides observability for batch validation.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Batches by outcome: completed, failed, timeout, cancelled
	Batches *prometheus.CounterVec

	BatchDuration prometheus.Histogram

	ExposuresProcessed prometheus.Counter

	// Violations by dimension and severity
	Violations *prometheus.CounterVec

	// Evaluation errors by rule code
	EvaluationErrors *prometheus.CounterVec
}

// NewMetrics creates the engine metrics and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dq_batches_total",
			Help: "Validated batches by outcome",
		}, []string{"outcome"}),

		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dq_batch_duration_seconds",
			Help:    "Wall-clock duration of batch validation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),

		ExposuresProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dq_exposures_processed_total",
			Help: "Exposures evaluated across all batches",
		}),

		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dq_violations_total",
			Help: "Rule violations by dimension and severity",
		}, []string{"dimension", "severity"}),

		EvaluationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dq_evaluation_errors_total",
			Help: "Rules that could not be evaluated, by rule code",
		}, []string{"rule_code"}),
	}
	if reg != nil {
		reg.MustRegister(m.Batches, m.BatchDuration, m.ExposuresProcessed, m.Violations, m.EvaluationErrors)
	}
	return m
}

// ObserveBatch records a finished batch
func (m *Metrics) ObserveBatch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(outcome).Inc()
	m.BatchDuration.Observe(d.Seconds())
}

// ObserveTallies records exposure and violation counts of a completed batch
func (m *Metrics) ObserveTallies(stats contracts.ExecutionStats, tallies Tallies) {
	if m == nil {
		return
	}
	m.ExposuresProcessed.Add(float64(stats.ExposuresProcessed))
	for d, t := range tallies {
		for s, c := range t.ViolationCountBySeverity {
			if c > 0 {
				m.Violations.WithLabelValues(string(d), string(s)).Add(float64(c))
			}
		}
	}
	for code, c := range stats.PerRule {
		if c.Errored > 0 {
			m.EvaluationErrors.WithLabelValues(code).Add(float64(c.Errored))
		}
	}
}

// Batch outcome labels
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)
