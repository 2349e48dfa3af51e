// Package metrics provides Prometheus instrumentation for the predictor.
//
// Metrics exposed:
//   - vm_migration_predictions_total: Counter of predictions by outcome
//   - vm_migration_predicted_downtime_ms: Histogram of returned estimates
//   - vm_migration_predict_seconds: Histogram of predict call duration
//   - vm_migration_model_confidence: Gauge of the served model's held-out R²
//   - vm_migration_model_ready: Gauge, 1 while a model is served
//   - vm_migration_model_reloads_total: Counter of load attempts by result
//   - vm_migration_accuracy: Gauge of the last reported accuracy (percent)
//   - vm_migration_accuracy_percent: Histogram of reported accuracies
//   - api_requests_total: Counter of HTTP requests by handler, code and method
//
// Metrics are registered on an injected Registerer and only read by scrapes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the predictor.
type Metrics struct {
	PredictionsTotal  *prometheus.CounterVec
	PredictedDowntime prometheus.Histogram
	PredictSeconds    prometheus.Histogram
	ModelConfidence   prometheus.Gauge
	ModelReady        prometheus.Gauge
	ModelReloadsTotal *prometheus.CounterVec
	Accuracy          prometheus.Gauge
	AccuracyPercent   prometheus.Histogram
	APIRequestsTotal  *prometheus.CounterVec
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		PredictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vm_migration_predictions_total",
			Help: "Total number of downtime predictions by outcome",
		}, []string{"outcome"}),

		PredictedDowntime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vm_migration_predicted_downtime_ms",
			Help:    "Predicted migration downtime in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 150, 200, 300, 500, 750, 1000},
		}),

		PredictSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vm_migration_predict_seconds",
			Help:    "Time spent handling one prediction",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),

		ModelConfidence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vm_migration_model_confidence",
			Help: "Held-out R² of the served model",
		}),

		ModelReady: f.NewGauge(prometheus.GaugeOpts{
			Name: "vm_migration_model_ready",
			Help: "1 while a model is loaded and served",
		}),

		ModelReloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vm_migration_model_reloads_total",
			Help: "Total number of model load attempts by result",
		}, []string{"result"}),

		Accuracy: f.NewGauge(prometheus.GaugeOpts{
			Name: "vm_migration_accuracy",
			Help: "Accuracy of the last reported migration, in percent",
		}),

		AccuracyPercent: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vm_migration_accuracy_percent",
			Help:    "Distribution of reported prediction accuracy, in percent",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),

		APIRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of HTTP requests by handler, status code and method",
		}, []string{"handler", "code", "method"}),
	}
}

// RecordPrediction records one prediction outcome.
func (m *Metrics) RecordPrediction(outcome string, downtimeMs float64, duration time.Duration) {
	m.PredictionsTotal.WithLabelValues(outcome).Inc()
	m.PredictSeconds.Observe(duration.Seconds())
	if downtimeMs > 0 {
		m.PredictedDowntime.Observe(downtimeMs)
	}
}

// RecordReload increments the reload counter.
func (m *Metrics) RecordReload(result string) {
	m.ModelReloadsTotal.WithLabelValues(result).Inc()
}

// SetModel sets the model readiness and confidence gauges.
func (m *Metrics) SetModel(ready bool, confidence float64) {
	if ready {
		m.ModelReady.Set(1)
	} else {
		m.ModelReady.Set(0)
	}
	m.ModelConfidence.Set(confidence)
}

// RecordAccuracy records one feedback accuracy.
func (m *Metrics) RecordAccuracy(percent float64) {
	m.Accuracy.Set(percent)
	m.AccuracyPercent.Observe(percent)
}

// InstrumentHandler counts the requests served by h under the handler label.
func (m *Metrics) InstrumentHandler(handler string, h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(
		m.APIRequestsTotal.MustCurryWith(prometheus.Labels{"handler": handler}),
		h,
	)
}
