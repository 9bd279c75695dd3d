package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the aggregation worker

var (
	// API Call metrics
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wowmeta_api_calls_total",
			Help: "Total number of upstream API calls",
		},
		[]string{"endpoint", "status"},
	)

	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wowmeta_api_call_duration_seconds",
			Help:    "Duration of upstream API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wowmeta_token_refreshes_total",
			Help: "Total number of access token exchanges",
		},
		[]string{"status"},
	)

	// Database metrics
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wowmeta_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "table", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wowmeta_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wowmeta_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wowmeta_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	// Rating cache metrics
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wowmeta_rating_cache_hits_total",
			Help: "Total number of per-cycle rating cache hits",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wowmeta_rating_cache_misses_total",
			Help: "Total number of per-cycle rating cache misses",
		},
	)

	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wowmeta_cache_operation_duration_seconds",
			Help:    "Duration of shared cache operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wowmeta_cycles_total",
			Help: "Total number of aggregation cycles",
		},
		[]string{"status"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wowmeta_cycle_duration_seconds",
			Help:    "Duration of aggregation cycles in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wowmeta_tasks_total",
			Help: "Total number of aggregation tasks by outcome",
		},
		[]string{"status"},
	)

	RecordsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wowmeta_records_persisted_total",
			Help: "Total number of meta records upserted",
		},
	)

	MetaRecordsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wowmeta_meta_records",
			Help: "Number of meta records in database",
		},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wowmeta_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	LastSuccessfulCycle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wowmeta_last_successful_cycle_timestamp",
			Help: "Timestamp of last successful aggregation cycle",
		},
	)
)

// RecordAPICall records an API call metric
func RecordAPICall(endpoint, status string, duration float64) {
	APICallsTotal.WithLabelValues(endpoint, status).Inc()
	APICallDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordTokenRefresh records a token exchange
func RecordTokenRefresh(status string) {
	TokenRefreshesTotal.WithLabelValues(status).Inc()
}

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table, status string, duration float64) {
	DBQueriesTotal.WithLabelValues(operation, table, status).Inc()
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration)
}

// RecordCacheHit records a cache hit
func RecordCacheHit() {
	CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss() {
	CacheMissesTotal.Inc()
}

// RecordCacheOperation records a cache operation duration
func RecordCacheOperation(operation string, duration float64) {
	CacheOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCycle records a finished aggregation cycle
func RecordCycle(status string, duration float64, succeeded, noData, failed, persisted int) {
	CyclesTotal.WithLabelValues(status).Inc()
	CycleDuration.Observe(duration)
	TasksTotal.WithLabelValues("succeeded").Add(float64(succeeded))
	TasksTotal.WithLabelValues("no_data").Add(float64(noData))
	TasksTotal.WithLabelValues("failed").Add(float64(failed))
	RecordsPersisted.Add(float64(persisted))

	if status == "success" {
		LastSuccessfulCycle.SetToCurrentTime()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// UpdateDBConnectionStats updates database connection pool statistics
func UpdateDBConnectionStats(active, idle int32) {
	DBConnectionsActive.Set(float64(active))
	DBConnectionsIdle.Set(float64(idle))
}

// UpdateMetaRecordCount updates the stored record gauge
func UpdateMetaRecordCount(n int64) {
	MetaRecordsStored.Set(float64(n))
}
