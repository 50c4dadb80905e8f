// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the ingestion/indexing/counter-evaluation
// pipeline: per-stage latency, storage outcomes, query-dispatcher worker
// pool utilization and the HTTP boundary.

var (
	// Pipeline stage metrics (FactMapper, FactIndexer, StorageLayer, CounterProducer)
	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of an ingestion pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"}, // map, index, save_fact, save_index, counters, total
	)

	PipelineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_requests_total",
			Help: "Total number of ingestion requests processed",
		},
		[]string{"message_type", "status"}, // status: ok; failed requests are not counted
	)

	// IndexEntries emitted per fact, useful for catching indexer configuration drift.
	IndexEntriesEmitted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "index_entries_emitted",
			Help:    "Number of IndexEntry rows emitted per fact",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	// Storage layer metrics
	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Duration of a storage layer operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "collection"}, // operation: saveFact, saveFactIndexList, getRelevantFacts, counterAggregation, saveLog
	)

	StorageOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operation_errors_total",
			Help: "Total number of storage layer errors",
		},
		[]string{"operation", "error_class"}, // error_class: transient, permanent
	)

	SaveFactResult = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "save_fact_result_total",
			Help: "Outcome of saveFact upserts",
		},
		[]string{"result"}, // inserted, updated, ignored
	)

	IndexEntriesSkippedDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "index_entries_skipped_duplicate_total",
			Help: "Total number of index entries silently skipped as duplicates on upsert",
		},
	)

	// Query dispatcher / worker pool metrics
	DispatcherQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_pending_queries",
			Help: "Current number of queries awaiting a result in the dispatcher's pending map",
		},
	)

	DispatcherWorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_workers_busy",
			Help: "Current number of worker-pool goroutines holding a database connection",
		},
	)

	DispatcherQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatcher_query_duration_seconds",
			Help:    "End-to-end duration of one dispatched counter aggregation query",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatcherQueryTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_query_timeouts_total",
			Help: "Total number of counter queries that exceeded their per-query timeout",
		},
	)

	DispatcherNoAvailableWorkers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_no_available_workers_total",
			Help: "Total number of submissions rejected because no worker was acquired within workerAcquireTimeout",
		},
	)

	// DispatcherQueryIDCollisions must remain zero; a non-zero value is a correctness bug.
	DispatcherQueryIDCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_query_id_collisions_total",
			Help: "Total number of queryId collisions observed by the router (must always be zero)",
		},
	)

	// Condition evaluator
	ConditionEvalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "condition_evaluator_duration_seconds",
			Help:    "Duration of in-process condition evaluation against one candidate fact",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	// HTTP boundary metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Log sampler
	LogSamplesRetained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "log_samples_retained_total",
			Help: "Total number of worst-of-window debug log samples persisted",
		},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordPipelineStage records the duration of one named pipeline stage.
func RecordPipelineStage(stage string, duration time.Duration) {
	PipelineStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordPipelineRequest records the terminal outcome of one ingestion request.
func RecordPipelineRequest(messageType int, status string) {
	PipelineRequestsTotal.WithLabelValues(strconv.Itoa(messageType), status).Inc()
}

// RecordStorageOperation records a storage layer call and any error classification.
func RecordStorageOperation(operation, collection string, duration time.Duration, errClass string) {
	StorageOperationDuration.WithLabelValues(operation, collection).Observe(duration.Seconds())
	if errClass != "" {
		StorageOperationErrors.WithLabelValues(operation, errClass).Inc()
	}
}

// RecordSaveFactResult records the upsert outcome of a saveFact call.
func RecordSaveFactResult(result string) {
	SaveFactResult.WithLabelValues(result).Inc()
}

// RecordDispatcherQuery records the execution time of one dispatched query
// job, including a job whose caller already timed out.
func RecordDispatcherQuery(duration time.Duration) {
	DispatcherQueryDuration.Observe(duration.Seconds())
}

// RecordAPIRequest records an HTTP request/response pair.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight API request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
