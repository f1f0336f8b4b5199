package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Shard dispatch metrics
	ShardQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardbroker_shard_queries_total",
			Help: "Total number of shard RPCs dispatched, by shard and step kind",
		},
		[]string{"shard_id", "step_kind"},
	)

	ShardErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardbroker_shard_errors_total",
			Help: "Total number of shard errors, by shard and error kind",
		},
		[]string{"shard_id", "kind"},
	)

	ShardLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shardbroker_shard_latency_seconds",
			Help:    "Per-shard RPC latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"shard_id"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardbroker_retry_attempts_total",
			Help: "Total number of step retry attempts, by shard",
		},
		[]string{"shard_id"},
	)

	// Circuit breaker metrics
	BreakerStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardbroker_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions, by shard and new state",
		},
		[]string{"shard_id", "state"},
	)

	BreakerOpenGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shardbroker_breaker_open",
			Help: "Whether a shard's circuit breaker is currently open (1) or not (0)",
		},
		[]string{"shard_id"},
	)

	// Orchestration metrics
	OrchestrationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shardbroker_orchestration_duration_seconds",
			Help:    "Total orchestrate_query duration in seconds, by mode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	QuorumFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shardbroker_quorum_failures_total",
			Help: "Total number of queries that failed to reach quorum",
		},
	)

	PartialFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shardbroker_partial_failures_total",
			Help: "Total number of queries that completed with partial shard failures",
		},
	)

	// Edge cache metrics
	CacheRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shardbroker_cache_requests_total",
			Help: "Total number of cache get() calls",
		},
	)

	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shardbroker_cache_hits_total",
			Help: "Total number of fresh cache hits (stale hits are counted separately)",
		},
	)

	CacheStaleHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shardbroker_cache_stale_hits_total",
			Help: "Total number of stale-while-revalidate hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shardbroker_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	CacheBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shardbroker_cache_bytes_written_total",
			Help: "Approximate total bytes written to the cache substrate",
		},
	)

	CacheWarmBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shardbroker_cache_warm_batch_duration_seconds",
			Help:    "Time taken by one Warm() call",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ShardQueriesTotal)
	prometheus.MustRegister(ShardErrorsTotal)
	prometheus.MustRegister(ShardLatency)
	prometheus.MustRegister(RetryAttemptsTotal)

	prometheus.MustRegister(BreakerStateTransitionsTotal)
	prometheus.MustRegister(BreakerOpenGauge)

	prometheus.MustRegister(OrchestrationDuration)
	prometheus.MustRegister(QuorumFailuresTotal)
	prometheus.MustRegister(PartialFailuresTotal)

	prometheus.MustRegister(CacheRequestsTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheStaleHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheBytesWrittenTotal)
	prometheus.MustRegister(CacheWarmBatchDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
