package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the consultation pipeline.
type Metrics struct {
	SessionsStarted  prometheus.Counter
	SessionsExpired  prometheus.Counter
	Outcomes         *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	Degradations     *prometheus.CounterVec
	Retries          *prometheus.CounterVec
	GateViolations   *prometheus.CounterVec
	DocumentsIssued  prometheus.Counter
	ArchiveFailures  prometheus.Counter
	EventPublishErrs prometheus.Counter
}

// NewMetrics creates and registers the pipeline metrics once per process.
//
// Metrics:
//   - consultd_sessions_started_total
//   - consultd_sessions_expired_total
//   - consultd_outcomes_total{outcome}
//   - consultd_stage_duration_seconds{stage,status}
//   - consultd_degradations_total{component}
//   - consultd_external_call_retries_total{call}
//   - consultd_gate_violations_total{type,severity}
//   - consultd_documents_issued_total
//   - consultd_archive_failures_total
//   - consultd_event_publish_errors_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "consultd_sessions_started_total",
				Help: "Consultations that passed intake",
			}),
			SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
				Name: "consultd_sessions_expired_total",
				Help: "Consultations that expired before reaching a terminal state",
			}),
			Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "consultd_outcomes_total",
				Help: "Consultations by terminal outcome",
			}, []string{"outcome"}),
			StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "consultd_stage_duration_seconds",
				Help:    "Duration of pipeline stages",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			}, []string{"stage", "status"}),
			Degradations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "consultd_degradations_total",
				Help: "External calls that fell back to a safe default",
			}, []string{"component"}),
			Retries: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "consultd_external_call_retries_total",
				Help: "Retried external calls",
			}, []string{"call"}),
			GateViolations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "consultd_gate_violations_total",
				Help: "Stage gate violations",
			}, []string{"type", "severity"}),
			DocumentsIssued: promauto.NewCounter(prometheus.CounterOpts{
				Name: "consultd_documents_issued_total",
				Help: "Clinical orders generated",
			}),
			ArchiveFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "consultd_archive_failures_total",
				Help: "Consultations that could not be archived",
			}),
			EventPublishErrs: promauto.NewCounter(prometheus.CounterOpts{
				Name: "consultd_event_publish_errors_total",
				Help: "Lifecycle events that could not be published",
			}),
		}
	})
	return globalMetrics
}
