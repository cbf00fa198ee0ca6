package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	RecordsExtracted *prometheus.CounterVec // labels: pipeline={soil,weather,crop}
	RecordsLoaded    *prometheus.CounterVec // labels: pipeline
	LoadFailures     *prometheus.CounterVec // labels: pipeline
	ValidationIssues *prometheus.CounterVec // labels: pipeline
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchDuration *prometheus.HistogramVec // labels: pipeline

	// Extraction quality metrics.
	ExtractionConfidence prometheus.Histogram

	// Upstream API metrics.
	APIRequests *prometheus.CounterVec   // labels: source={soilgrids,openmeteo,scraper}, outcome={success,error}
	APIDuration *prometheus.HistogramVec // labels: source
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RecordsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agro_etl",
			Name:      "records_extracted_total",
			Help:      "Total records fetched from upstream sources, by pipeline.",
		}, []string{"pipeline"}),
		RecordsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agro_etl",
			Name:      "records_loaded_total",
			Help:      "Total rows committed to the warehouse, by pipeline.",
		}, []string{"pipeline"}),
		LoadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agro_etl",
			Name:      "load_failures_total",
			Help:      "Total batch loads that ended in FAILED status, by pipeline.",
		}, []string{"pipeline"}),
		ValidationIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agro_etl",
			Name:      "validation_issues_total",
			Help:      "Total cleaning issues logged while validating records, by pipeline.",
		}, []string{"pipeline"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agro_etl",
			Name:      "pipeline_running",
			Help:      "1 while a batch run is active, 0 otherwise.",
		}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agro_etl",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a complete extract-transform-load run, by pipeline.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"pipeline"}),
		ExtractionConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agro_etl",
			Name:      "extraction_confidence",
			Help:      "Confidence score distribution of crop requirement extractions.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agro_etl",
			Name:      "api_requests_total",
			Help:      "Upstream API requests by source and outcome.",
		}, []string{"source", "outcome"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agro_etl",
			Name:      "api_duration_seconds",
			Help:      "Upstream API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
	}

	prometheus.MustRegister(
		m.RecordsExtracted,
		m.RecordsLoaded,
		m.LoadFailures,
		m.ValidationIssues,
		m.PipelineRunning,
		m.BatchDuration,
		m.ExtractionConfidence,
		m.APIRequests,
		m.APIDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RecordsExtracted:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "agro_etl", Name: "records_extracted_total"}, []string{"pipeline"}),
		RecordsLoaded:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "agro_etl", Name: "records_loaded_total"}, []string{"pipeline"}),
		LoadFailures:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "agro_etl", Name: "load_failures_total"}, []string{"pipeline"}),
		ValidationIssues:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "agro_etl", Name: "validation_issues_total"}, []string{"pipeline"}),
		PipelineRunning:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "agro_etl", Name: "pipeline_running"}),
		BatchDuration:        prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "agro_etl", Name: "batch_duration_seconds"}, []string{"pipeline"}),
		ExtractionConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "agro_etl", Name: "extraction_confidence"}),
		APIRequests:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "agro_etl", Name: "api_requests_total"}, []string{"source", "outcome"}),
		APIDuration:          prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "agro_etl", Name: "api_duration_seconds"}, []string{"source"}),
	}
}
