package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Pipeline runs by outcome (success, invalid_dataset, provider_failure,
	// computation_failure, canceled) and data source.
	PipelineRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_pipeline_runs_total",
		Help: "Total number of analytics pipeline runs",
	}, []string{"outcome", "source"})

	// Wall time of a pipeline run, from fetch to publish.
	PipelineRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "analytics_pipeline_run_duration_seconds",
		Help:    "Duration of analytics pipeline runs",
		Buckets: prometheus.DefBuckets,
	})

	// Rows in the dataset behind the published snapshot.
	DatasetRows = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "analytics_dataset_rows",
		Help: "Number of user records in the latest published snapshot",
	})

	// Unix time of the last successful run.
	LastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "analytics_pipeline_last_success_timestamp_seconds",
		Help: "Unix timestamp of the last successful pipeline run",
	})

	// Latency of API requests by route and status.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "analytics_http_request_duration_seconds",
		Help:    "Latency of analytics API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func Init() {
	prometheus.MustRegister(
		PipelineRuns,
		PipelineRunDuration,
		DatasetRows,
		LastSuccess,
		RequestDuration,
	)
}
