package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	StageErrors     *prometheus.CounterVec
	QuestionsSolved prometheus.Counter
	AttemptDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		AttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quizsolver_attempts_total",
			Help: "The total number of attempts, by terminal status",
		}, []string{"status"}),
		StageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quizsolver_stage_errors_total",
			Help: "The total number of stage failures, by stage",
		}, []string{"stage"}),
		QuestionsSolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quizsolver_questions_solved_total",
			Help: "The total number of questions answered correctly",
		}),
		AttemptDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "quizsolver_attempt_duration_seconds",
			Help:    "Wall-clock duration of finished attempts",
			Buckets: []float64{5, 15, 30, 60, 90, 120, 150, 180},
		}),
	}
}

func (m *Metrics) IncAttempts(status string) {
	m.AttemptsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncStageErrors(stage string) {
	m.StageErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveAttempt(seconds float64) {
	m.AttemptDuration.Observe(seconds)
}
