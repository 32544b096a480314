package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aqi_predict"

// Metrics holds the Prometheus counters, histograms, and gauges for the prediction pipeline.
type Metrics struct {
	CyclesTotal          *prometheus.CounterVec // labels: outcome={success,no_work,busy,failed,canceled,panic}
	ObservationsFetched  prometheus.Counter
	PredictionsWritten   prometheus.Counter
	RowFailures          *prometheus.CounterVec // labels: stage={validate,score,write}
	Commits              prometheus.Counter
	CycleDuration        prometheus.Histogram
	InferenceDuration    prometheus.Histogram
	SchedulerRunning     prometheus.Gauge
	EventPublishFailures prometheus.Counter

	// Hint image metrics.
	HintImages       *prometheus.CounterVec // labels: source={generated,fallback}
	ImageRequests    *prometheus.CounterVec // labels: outcome={success,error}
	ImageAPIDuration prometheus.Histogram
	ImageCache       *prometheus.CounterVec // labels: result={hit,miss}
	ImageGenEnabled  prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Batch cycles by outcome.",
		}, []string{"outcome"}),
		ObservationsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_fetched_total",
			Help:      "Total unprocessed observations read from the store.",
		}),
		PredictionsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_written_total",
			Help:      "Total prediction results recorded.",
		}),
		RowFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_failures_total",
			Help:      "Per-observation failures by stage.",
		}, []string{"stage"}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Total store commits issued by batch cycles.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete batch cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Duration of one batched model prediction.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the scheduler loop is active, 0 when shut down.",
		}),
		EventPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Total prediction event batches that failed to publish.",
		}),
		HintImages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hint_images_total",
			Help:      "Hint images attached to results by source.",
		}, []string{"source"}),
		ImageRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_requests_total",
			Help:      "Image generation API requests by outcome.",
		}, []string{"outcome"}),
		ImageAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_api_duration_seconds",
			Help:      "Image generation request duration in seconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90},
		}),
		ImageCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_cache_total",
			Help:      "Hint image cache lookups by result.",
		}, []string{"result"}),
		ImageGenEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "image_generation_enabled",
			Help:      "1 when hint image generation is enabled, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.ObservationsFetched,
		m.PredictionsWritten,
		m.RowFailures,
		m.Commits,
		m.CycleDuration,
		m.InferenceDuration,
		m.SchedulerRunning,
		m.EventPublishFailures,
		m.HintImages,
		m.ImageRequests,
		m.ImageAPIDuration,
		m.ImageCache,
		m.ImageGenEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		CyclesTotal:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "cycles_total"}, []string{"outcome"}),
		ObservationsFetched:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "observations_fetched_total"}),
		PredictionsWritten:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "predictions_written_total"}),
		RowFailures:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "row_failures_total"}, []string{"stage"}),
		Commits:              prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "commits_total"}),
		CycleDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "cycle_duration_seconds"}),
		InferenceDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "inference_duration_seconds"}),
		SchedulerRunning:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "scheduler_running"}),
		EventPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "event_publish_failures_total"}),
		HintImages:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "hint_images_total"}, []string{"source"}),
		ImageRequests:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "image_requests_total"}, []string{"outcome"}),
		ImageAPIDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "image_api_duration_seconds"}),
		ImageCache:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "image_cache_total"}, []string{"result"}),
		ImageGenEnabled:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "image_generation_enabled"}),
	}
}
