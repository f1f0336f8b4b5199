/*
Package metrics defines and registers the broker's Prometheus metrics,
served from pkg/api's HTTP surface via Handler().

All metrics are package-level collectors registered at init() time, in the
same style used throughout this codebase: no runtime registration, no
dependency injection of a registry — callers just reference the exported
collector variables.

# Metrics catalog

Shard dispatch:
  - shardbroker_shard_queries_total{shard_id,step_kind}
  - shardbroker_shard_errors_total{shard_id,kind}
  - shardbroker_shard_latency_seconds{shard_id}
  - shardbroker_retry_attempts_total{shard_id}

Circuit breaker:
  - shardbroker_breaker_state_transitions_total{shard_id,state}
  - shardbroker_breaker_open{shard_id}

Orchestration:
  - shardbroker_orchestration_duration_seconds{mode}
  - shardbroker_quorum_failures_total
  - shardbroker_partial_failures_total

Edge cache:
  - shardbroker_cache_requests_total
  - shardbroker_cache_hits_total
  - shardbroker_cache_stale_hits_total
  - shardbroker_cache_misses_total
  - shardbroker_cache_bytes_written_total
  - shardbroker_cache_warm_batch_duration_seconds

# Timer helper

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDurationVec(metrics.ShardLatency, shardID)
*/
package metrics
