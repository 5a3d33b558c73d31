// Package metrics exposes Prometheus instrumentation for intake sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prediction results used as the "result" label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors registered for one process.
type Metrics struct {
	gatherer prometheus.Gatherer

	// TurnsTotal counts processed user messages by outcome kind.
	TurnsTotal *prometheus.CounterVec
	// RejectionsTotal counts validation rejections by stage and reason.
	RejectionsTotal *prometheus.CounterVec
	// PredictionsTotal counts terminal prediction attempts by result.
	PredictionsTotal *prometheus.CounterVec
	// PredictionDuration tracks model latency.
	PredictionDuration prometheus.Histogram
	// ActiveSessions is the number of sessions held in memory.
	ActiveSessions prometheus.Gauge
	// SessionsSwept counts sessions removed by the idle sweep.
	SessionsSwept prometheus.Counter
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "denguecast_turns_total",
			Help: "Total user messages processed by outcome",
		}, []string{"outcome"}),
		RejectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "denguecast_rejections_total",
			Help: "Total rejected inputs by stage and reason",
		}, []string{"stage", "reason"}),
		PredictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "denguecast_predictions_total",
			Help: "Total prediction attempts by result",
		}, []string{"result"}),
		PredictionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "denguecast_prediction_duration_seconds",
			Help:    "Model prediction duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "denguecast_active_sessions",
			Help: "Sessions currently held in memory",
		}),
		SessionsSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "denguecast_sessions_swept_total",
			Help: "Idle sessions removed by the sweep",
		}),
	}
}

// ObservePrediction records one prediction attempt. Its signature matches prediction.Observer.
func (m *Metrics) ObservePrediction(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PredictionDuration.Observe(d.Seconds())
	if err != nil {
		m.PredictionsTotal.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.PredictionsTotal.WithLabelValues(ResultSuccess).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
