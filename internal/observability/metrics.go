package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	TasksDetected    *prometheus.CounterVec
	TasksDispatched  *prometheus.CounterVec
	TasksCompleted   *prometheus.CounterVec
	TasksFailed      *prometheus.CounterVec
	StepsExecuted    *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	SweepReclaimed   prometheus.Counter
	AIRequestSeconds *prometheus.HistogramVec
	JobSeconds       *prometheus.HistogramVec
}

// NewMetrics registers all instruments on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_detected_total",
			Help:      "Detection outcomes by action taken.",
		}, []string{"action"}),
		TasksDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Tasks dispatched to the execution queue by lane.",
		}, []string{"lane"}),
		TasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Tasks completed by lane.",
		}, []string{"lane"}),
		TasksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Task failures by outcome (retried or terminal).",
		}, []string{"outcome"}),
		StepsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_executed_total",
			Help:      "Plan steps executed by status.",
		}, []string{"status"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_inflight",
			Help:      "Jobs currently being processed per lane.",
		}, []string{"lane"}),
		SweepReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_reclaimed_total",
			Help:      "Tasks reclaimed by the maintenance sweeper.",
		}),
		AIRequestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_seconds",
			Help:      "AI completion request latency by purpose.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"purpose"}),
		JobSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_seconds",
			Help:      "End to end job execution time by lane.",
			Buckets:   []float64{10, 30, 60, 180, 600, 1800, 3600, 7200},
		}, []string{"lane"}),
	}
}

func (m *Metrics) ObserveAIRequest(purpose string, d time.Duration) {
	m.AIRequestSeconds.WithLabelValues(purpose).Observe(d.Seconds())
}

func (m *Metrics) ObserveJob(lane string, d time.Duration) {
	m.JobSeconds.WithLabelValues(lane).Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
