package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the orchestrator's prometheus collectors. A nil registerer
// yields unregistered collectors, which tests rely on.
type Metrics struct {
	Submitted prometheus.Counter
	Terminal  *prometheus.CounterVec
	Running   prometheus.Gauge
	Duration  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ai_hub_jobs_submitted_total",
			Help: "Training jobs accepted into the queue.",
		}),
		Terminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_hub_jobs_terminal_total",
			Help: "Training jobs reaching a terminal status.",
		}, []string{"status"}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ai_hub_jobs_running",
			Help: "Execution tasks currently holding a slot.",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ai_hub_job_duration_seconds",
			Help:    "Wall-clock run time of completed execution tasks.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}
