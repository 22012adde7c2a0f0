package metrics

import (
	"net/http"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	jobTotal      *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobInFlight   prometheus.Gauge
	queueLag      *prometheus.HistogramVec
	stageOutcomes *prometheus.CounterVec
	dispatched    *prometheus.CounterVec
	resilience    *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cards",
			Subsystem: "worker",
			Name:      "job_total",
			Help:      "Total handled jobs by action and status.",
		},
		[]string{"service", "action", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cards",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Job handling duration in seconds by action and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "action", "status"},
	)
	jobInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cards",
			Subsystem: "worker",
			Name:      "job_in_flight",
			Help:      "Number of in-flight jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cards",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between a job's scheduled run time and handling start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "action"},
	)
	stageOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cards",
			Subsystem: "pipeline",
			Name:      "stage_outcomes_total",
			Help:      "Stage action outcomes (completed, retry, failed, skipped).",
		},
		[]string{"service", "action", "outcome"},
	)
	dispatched := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cards",
			Subsystem: "scheduler",
			Name:      "dispatch_total",
			Help:      "Scheduled jobs handed to the queue, by result (published, released).",
		},
		[]string{"service", "action", "result"},
	)

	resilience := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cards",
			Subsystem: "resilience",
			Name:      "events_total",
			Help:      "In-process retries and circuit breaker transitions by operation.",
		},
		[]string{"service", "operation", "event"},
	)

	registry.MustRegister(jobTotal, jobDuration, jobInFlight, queueLag, stageOutcomes, dispatched, resilience)

	return &WorkerMetrics{
		registry:      registry,
		service:       service,
		jobTotal:      jobTotal,
		jobDuration:   jobDuration,
		jobInFlight:   jobInFlight,
		queueLag:      queueLag,
		stageOutcomes: stageOutcomes,
		dispatched:    dispatched,
		resilience:    resilience,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(action domain.JobAction, duration time.Duration, err error) {
	m.jobInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.jobTotal.WithLabelValues(m.service, string(action), status).Inc()
	m.jobDuration.WithLabelValues(m.service, string(action), status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(action domain.JobAction, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service, string(action)).Observe(lag.Seconds())
}

// ObserveStage satisfies ports.StageObserver.
func (m *WorkerMetrics) ObserveStage(action domain.JobAction, outcome string) {
	m.stageOutcomes.WithLabelValues(m.service, string(action), outcome).Inc()
}

func (m *WorkerMetrics) ObservePublished(action domain.JobAction) {
	m.dispatched.WithLabelValues(m.service, string(action), "published").Inc()
}

func (m *WorkerMetrics) ObserveReleased(action domain.JobAction) {
	m.dispatched.WithLabelValues(m.service, string(action), "released").Inc()
}

func (m *WorkerMetrics) ObserveRetry(operation string) {
	m.resilience.WithLabelValues(m.service, operation, "retry").Inc()
}

func (m *WorkerMetrics) ObserveBreakerState(operation, state string) {
	m.resilience.WithLabelValues(m.service, operation, "breaker_"+state).Inc()
}

// Registry exposes the private registry so tests can gather samples.
func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}
