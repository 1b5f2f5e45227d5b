package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "webensemble"

// Metrics are the Prometheus collectors of the job runner.
type Metrics struct {
	// JobsTotal counts finished jobs. Labels: kind, status (trained, failed).
	JobsTotal *prometheus.CounterVec

	// FitDuration observes successful fits. Labels: kind.
	FitDuration *prometheus.HistogramVec

	// QueueDepth is the number of jobs waiting for a worker.
	QueueDepth prometheus.Gauge

	// Rejected counts submissions refused because the queue was full.
	Rejected prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Fit jobs by ensemble kind and final status",
		}, []string{"kind", "status"}),
		FitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "fit_duration_seconds",
			Help:      "Duration of successful fits",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"kind"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "rejected_total",
			Help:      "Submissions refused because the queue was full",
		}),
	}
}
