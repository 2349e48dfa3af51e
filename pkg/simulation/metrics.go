package simulation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run results.
const (
	RunSuccess = "success"
	RunFailure = "failure"
)

// Metrics instruments the driver. They live on the simulator's own
// registry, separate from the predictor's.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	FeedbackFailures  prometheus.Counter
	PredictedDowntime prometheus.Histogram
	ActualDowntime    prometheus.Histogram
	Accuracy          prometheus.Histogram
	LastAccuracy      prometheus.Gauge
}

// NewMetrics creates the driver metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	downtimeBuckets := []float64{10, 25, 50, 100, 150, 200, 300, 500, 750, 1000}

	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vm_migration_simulator_runs_total",
			Help: "Total number of simulated migrations by result",
		}, []string{"result"}),

		FeedbackFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "vm_migration_simulator_feedback_failures_total",
			Help: "Measured migrations that could not be reported back",
		}),

		PredictedDowntime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vm_migration_simulator_predicted_downtime_ms",
			Help:    "Downtime predicted before each simulated migration",
			Buckets: downtimeBuckets,
		}),

		ActualDowntime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vm_migration_simulator_actual_downtime_ms",
			Help:    "Measured downtime of simulated migrations",
			Buckets: downtimeBuckets,
		}),

		Accuracy: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vm_migration_simulator_accuracy_percent",
			Help:    "Prediction accuracy of simulated migrations",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),

		LastAccuracy: f.NewGauge(prometheus.GaugeOpts{
			Name: "vm_migration_simulator_last_accuracy",
			Help: "Accuracy of the most recent simulated migration, in percent",
		}),
	}
}

func (m *Metrics) observe(r Result) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(RunSuccess).Inc()
	m.PredictedDowntime.Observe(r.PredictedDowntime)
	m.ActualDowntime.Observe(r.ActualDowntime)
	m.Accuracy.Observe(r.Accuracy)
	m.LastAccuracy.Set(r.Accuracy)
}

func (m *Metrics) failed() {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(RunFailure).Inc()
}

func (m *Metrics) feedbackFailed() {
	if m == nil {
		return
	}
	m.FeedbackFailures.Inc()
}
