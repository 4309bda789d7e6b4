package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine holds the Prometheus collectors for dispatch and risk aggregation.
// A nil *Engine is a valid no-op.
type Engine struct {
	Claims       *prometheus.CounterVec
	Outcomes     *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	InFlight     *prometheus.GaugeVec
	RiskScore    prometheus.Histogram
	AlertsRaised prometheus.Counter
	GroupsClosed *prometheus.CounterVec
}

// NewEngine registers the collectors with reg. A nil reg uses the default registerer.
func NewEngine(reg prometheus.Registerer) *Engine {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Engine{
		Claims: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regtech_dispatcher_claims_total",
			Help: "Claim attempts by queue and result (claimed, empty, error)",
		}, []string{"queue", "result"}),

		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regtech_job_outcomes_total",
			Help: "Job executions by type and resulting status",
		}, []string{"job_type", "status"}),

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regtech_job_duration_seconds",
			Help:    "Processor execution time by job type",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job_type"}),

		InFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regtech_dispatcher_in_flight",
			Help: "Jobs currently executing per queue",
		}, []string{"queue"}),

		RiskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "regtech_risk_score",
			Help:    "Distribution of computed subject risk scores",
			Buckets: []float64{0, 20, 40, 60, 80, 100},
		}),

		AlertsRaised: factory.NewCounter(prometheus.CounterOpts{
			Name: "regtech_alerts_raised_total",
			Help: "Alert jobs enqueued after a risk threshold was crossed",
		}),

		GroupsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regtech_groups_completed_total",
			Help: "Finalized orchestration groups by trigger and degraded flag",
		}, []string{"trigger", "degraded"}),
	}
}

// ObserveClaim records one claim attempt.
func (m *Engine) ObserveClaim(queue, result string) {
	if m != nil {
		m.Claims.WithLabelValues(queue, result).Inc()
	}
}

// ObserveOutcome records a finished execution and its duration.
func (m *Engine) ObserveOutcome(jobType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(jobType, status).Inc()
	if d > 0 {
		m.JobDuration.WithLabelValues(jobType).Observe(d.Seconds())
	}
}

// TrackInFlight adjusts the in-flight gauge of a queue.
func (m *Engine) TrackInFlight(queue string, delta float64) {
	if m != nil {
		m.InFlight.WithLabelValues(queue).Add(delta)
	}
}

// ObserveRiskScore records a computed score.
func (m *Engine) ObserveRiskScore(score int) {
	if m != nil {
		m.RiskScore.Observe(float64(score))
	}
}

// IncAlert counts an enqueued alert.
func (m *Engine) IncAlert() {
	if m != nil {
		m.AlertsRaised.Inc()
	}
}

// ObserveGroupCompleted counts a finalized group.
func (m *Engine) ObserveGroupCompleted(trigger string, degraded bool) {
	if m == nil {
		return
	}
	flag := "false"
	if degraded {
		flag = "true"
	}
	m.GroupsClosed.WithLabelValues(trigger, flag).Inc()
}
