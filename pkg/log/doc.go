/*
Package log provides structured logging for the broker using zerolog.

It wraps zerolog with a single package-level Logger, a Config for
level/format/output, and a handful of context-logger helpers so every
subsystem (executor, orchestrator, cache, breaker) can stamp its own
structured fields without threading a logger through every call.

# Usage

	import "github.com/cuemby/shardbroker/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("shardbroker starting")

	execLog := log.WithComponent("executor")
	execLog.Info().Msg("dispatching step")

	log.WithShardID(string(shardID)).Error().Err(err).Msg("shard dispatch failed")
	log.WithQueryID(queryID).Debug().Str("mode", "parallel").Msg("orchestrating query")

# Context loggers

  - WithComponent(name) — tags logs from a subsystem ("executor", "orchestrator", "cache")
  - WithShardID(id) — tags logs about a specific shard
  - WithQueryID(id) — tags logs for one orchestrate_query call; pkg/orchestrator
    uses it on the query's start-of-orchestration line (per-step dispatch logs
    carry shard_id and step_kind, not query_id)
  - WithStepKind(kind) — tags logs by plan step kind (lookup/traverse/filter)

# Levels

Debug for per-step tracing, Info for lifecycle events (breaker opens,
cache warms), Warn for degraded-but-recovering conditions, Error for
failed operations, Fatal only for unrecoverable startup failures.
*/
package log
