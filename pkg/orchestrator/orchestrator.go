// Package orchestrator is the cross-shard query orchestrator (spec
// §4.7–§4.11): mode selection between a parallel cross-shard path and a
// sequential BFS path, pagination, quorum, deduplication, replica
// failover, and aggregation. Grounded on pkg/manager's metrics-timer-
// wrapped public entry point (New here takes its collaborators directly
// and returns no error; there is no Shutdown and no mutex-guarded
// state) — the orchestrator is the
// broker's equivalent of the teacher's cluster manager: the component
// that owns the end-to-end operation and fans work out to subordinate
// pieces (there, nodes and services; here, shards and steps).
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cuemby/shardbroker/pkg/breaker"
	"github.com/cuemby/shardbroker/pkg/brokererr"
	"github.com/cuemby/shardbroker/pkg/executor"
	"github.com/cuemby/shardbroker/pkg/log"
	"github.com/cuemby/shardbroker/pkg/metrics"
	"github.com/cuemby/shardbroker/pkg/types"
)

// Resolver maps a shard ID to the HTTP origin the executor should
// dispatch against. The orchestrator has no opinion on shard topology
// (that is a deployment concern); it asks the resolver every time.
type Resolver func(types.ShardID) (string, bool)

const (
	defaultMaxConcurrency = 10
	defaultLimit          = 100
	readYourWritesDelay   = 60 * time.Millisecond
)

// Orchestrator runs a compiled Plan end to end.
type Orchestrator struct {
	Exec    *executor.Executor
	Breaker *breaker.Store
	Resolve Resolver
}

// New builds an Orchestrator around an executor, breaker store, and
// shard-origin resolver.
func New(exec *executor.Executor, breakerStore *breaker.Store, resolve Resolver) *Orchestrator {
	return &Orchestrator{Exec: exec, Breaker: breakerStore, Resolve: resolve}
}

// Orchestrate runs plan under opts and returns the paginated, merged
// result (spec §4.7).
func (o *Orchestrator) Orchestrate(ctx context.Context, queryID string, plan types.Plan, opts types.Options) (types.QueryResult, error) {
	if queryID == "" {
		queryID = uuid.NewString()
	}

	timer := metrics.NewTimer()
	mode := "sequential"
	if usesParallelPath(plan, opts) {
		mode = "parallel"
	}
	log.WithQueryID(queryID).Debug().Str("mode", mode).Int("steps", len(plan.Steps)).Msg("orchestrating query")

	var result types.QueryResult
	var err error
	if mode == "parallel" {
		result, err = o.runParallel(ctx, queryID, plan, opts)
	} else {
		result, err = o.runSequential(ctx, queryID, plan, opts)
	}
	timer.ObserveDurationVec(metrics.OrchestrationDuration, mode)

	if err != nil {
		return types.QueryResult{}, err
	}
	if result.Stats.PartialFailure {
		metrics.PartialFailuresTotal.Inc()
	}
	return result, nil
}

// usesParallelPath is the mode-selection rule from spec §4.7.
func usesParallelPath(plan types.Plan, opts types.Options) bool {
	if len(plan.Steps) < 2 {
		return false
	}
	for _, step := range plan.Steps {
		if step.Kind != types.StepLookup {
			return false
		}
	}
	return opts.Parallel || opts.Broadcast || opts.MergeStrategy != "" ||
		opts.QuorumSize > 0 || opts.Aggregation != nil ||
		opts.EarlyTermination || opts.Deduplicate
}

func stepOptionsFor(opts types.Options) executor.Options {
	return executor.Options{NoRetry: opts.AllowPartialResults}
}

// awaitReadYourWrites honors consistency: read-your-writes with
// await_pending_write (spec §4.7 shared mechanics).
func awaitReadYourWrites(ctx context.Context, opts types.Options) error {
	if opts.Consistency != types.ConsistencyReadYourWrites || !opts.AwaitPendingWrite {
		return nil
	}
	select {
	case <-time.After(readYourWritesDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func checkTotalTimeout(start time.Time, opts types.Options) error {
	if opts.TotalTimeoutMs <= 0 {
		return nil
	}
	if time.Since(start) > time.Duration(opts.TotalTimeoutMs)*time.Millisecond {
		return brokererr.Timeout("query execution timed out")
	}
	return nil
}

func classify(err error) (code, message string) {
	var be *brokererr.Error
	if errors.As(err, &be) {
		return be.Code, be.Message
	}
	return "", err.Error()
}

// dispatchStep resolves step's shard to an origin and executes it,
// transparently failing over to a replica shard when opts requests it
// and the primary errors (spec §4.10).
func (o *Orchestrator) dispatchStep(ctx context.Context, step types.Step, opts types.Options, stepOpts executor.Options) ([]types.Entity, types.ShardID, error) {
	shard := step.Shard
	origin, ok := o.Resolve(shard)
	if !ok {
		return nil, shard, brokererr.Validation("no origin configured for shard " + string(shard))
	}

	log.WithStepKind(string(step.Kind)).Debug().Str("shard_id", string(shard)).Msg("dispatching step")
	entities, err := o.Exec.Execute(ctx, origin, shard, step, stepOpts)
	if err == nil {
		return entities, shard, nil
	}
	log.WithShardID(string(shard)).Error().Str("kind", string(step.Kind)).Err(err).Msg("step dispatch failed")
	if !opts.UseReplicaOnFailure {
		return entities, shard, err
	}

	replica, has := opts.ReplicaShards[shard]
	if !has {
		return entities, shard, err
	}
	replicaOrigin, ok := o.Resolve(replica)
	if !ok {
		return entities, shard, err
	}

	replicaStep := step
	replicaStep.Shard = replica
	replicaEntities, replicaErr := o.Exec.Execute(ctx, replicaOrigin, replica, replicaStep, stepOpts)
	if replicaErr != nil {
		log.WithShardID(string(replica)).Error().Str("kind", string(step.Kind)).Err(replicaErr).Msg("replica dispatch failed")
		return nil, replica, replicaErr
	}
	return replicaEntities, replica, nil
}

// runSequential implements the sequential path (spec §4.7): a BFS
// traversal where each step either derives per-frontier-entity dispatches
// (traverse/expand) or executes once directly (lookup/filter, and the
// initial step).
func (o *Orchestrator) runSequential(ctx context.Context, queryID string, plan types.Plan, opts types.Options) (types.QueryResult, error) {
	start := time.Now()
	if err := awaitReadYourWrites(ctx, opts); err != nil {
		return types.QueryResult{}, err
	}

	stats := types.Stats{QueryID: queryID}
	stepOpts := stepOptionsFor(opts)
	var frontier []types.Entity
	var failedShards []types.ShardID
	var statErrs []types.StatError

	for _, step := range plan.Steps {
		if err := checkTotalTimeout(start, opts); err != nil {
			return types.QueryResult{}, err
		}

		if o.Breaker.IsOpen(step.Shard) {
			cbErr := brokererr.CircuitOpen(string(step.Shard))
			if opts.AllowPartialResults {
				failedShards = append(failedShards, step.Shard)
				statErrs = append(statErrs, types.StatError{ShardID: step.Shard, Code: cbErr.Code, Message: cbErr.Message})
				continue
			}
			return types.QueryResult{}, cbErr
		}

		if (step.Kind == types.StepTraverse || step.Kind == types.StepExpand) && len(frontier) > 0 {
			next, err := o.runFrontier(ctx, step, frontier, opts, stepOpts, start, &stats, &failedShards, &statErrs)
			if err != nil {
				return types.QueryResult{}, err
			}
			frontier = next
			continue
		}

		entities, shard, err := o.dispatchStep(ctx, step, opts, stepOpts)
		stats.ShardQueries++
		if err != nil {
			if opts.AllowPartialResults {
				code, msg := classify(err)
				failedShards = append(failedShards, shard)
				statErrs = append(statErrs, types.StatError{ShardID: shard, Code: code, Message: msg})
				continue
			}
			return types.QueryResult{}, err
		}
		stats.EntitiesScanned += len(entities)
		frontier = entities
	}

	stats.PartialFailure = len(failedShards) > 0
	stats.FailedShards = failedShards
	stats.Errors = statErrs
	stats.Duration = time.Since(start)
	return paginate(frontier, opts, stats), nil
}

// runFrontier dispatches a traverse/expand step once per source entity
// in the current frontier, iterating depth levels for expand (spec
// §4.7 item 2).
func (o *Orchestrator) runFrontier(ctx context.Context, step types.Step, frontier []types.Entity, opts types.Options, stepOpts executor.Options, start time.Time, stats *types.Stats, failedShards *[]types.ShardID, statErrs *[]types.StatError) ([]types.Entity, error) {
	levels := 1
	if step.Kind == types.StepExpand && step.Depth > 1 {
		levels = step.Depth
	}

	current := frontier
	for level := 0; level < levels; level++ {
		var next []types.Entity
		for _, src := range current {
			if err := checkTotalTimeout(start, opts); err != nil {
				return nil, err
			}

			derived := step
			derived.EntityIDs = []string{src.ID()}

			entities, shard, err := o.dispatchStep(ctx, derived, opts, stepOpts)
			stats.ShardQueries++
			if err != nil {
				if opts.AllowPartialResults {
					code, msg := classify(err)
					*failedShards = append(*failedShards, shard)
					*statErrs = append(*statErrs, types.StatError{ShardID: shard, Code: code, Message: msg})
					continue
				}
				return nil, err
			}
			stats.EntitiesScanned += len(entities)
			next = append(next, entities...)
		}
		current = next
	}
	return current, nil
}

// runParallel implements the parallel cross-shard path (spec §4.7).
func (o *Orchestrator) runParallel(ctx context.Context, queryID string, plan types.Plan, opts types.Options) (types.QueryResult, error) {
	start := time.Now()
	if err := awaitReadYourWrites(ctx, opts); err != nil {
		return types.QueryResult{}, err
	}

	stats := types.Stats{QueryID: queryID}
	stepOpts := stepOptionsFor(opts)

	if opts.EarlyTermination {
		return o.runEarlyTermination(ctx, queryID, plan, opts, stepOpts, start, stats)
	}

	maxConc := opts.MaxConcurrency
	if maxConc <= 0 {
		maxConc = defaultMaxConcurrency
	}
	sem := semaphore.NewWeighted(int64(maxConc))

	n := len(plan.Steps)
	results := make([][]types.Entity, n)
	errs := make([]error, n)
	shards := make([]types.ShardID, n)
	latencies := make([]time.Duration, n)

	var wg sync.WaitGroup
	for i, step := range plan.Steps {
		i, step := i, step
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			attemptStart := time.Now()
			entities, shard, err := o.dispatchStep(ctx, step, opts, stepOpts)
			shards[i] = shard
			latencies[i] = time.Since(attemptStart)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = entities
		}()
	}
	wg.Wait()

	var failedShards []types.ShardID
	var statErrs []types.StatError
	for i := range plan.Steps {
		stats.ShardQueries++
		if opts.TrackShardHealth && errs[i] == nil {
			if stats.ShardLatencies == nil {
				stats.ShardLatencies = make(map[types.ShardID]time.Duration)
			}
			stats.ShardLatencies[shards[i]] = latencies[i]
		}
		if errs[i] != nil {
			if opts.AllowPartialResults {
				code, msg := classify(errs[i])
				failedShards = append(failedShards, shards[i])
				statErrs = append(statErrs, types.StatError{ShardID: shards[i], Code: code, Message: msg})
				continue
			}
			return types.QueryResult{}, errs[i]
		}
		stats.EntitiesScanned += len(results[i])
	}

	if opts.Aggregation != nil {
		agg := aggregate(flatten(results), *opts.Aggregation)
		stats.AggregatedValue = &agg
	}

	merged, err := applyMergeStrategy(results, opts)
	if err != nil {
		metrics.QuorumFailuresTotal.Inc()
		return types.QueryResult{}, err
	}

	if opts.Deduplicate {
		merged = dedupe(merged, opts.DeduplicateBy, opts.PreferNewer)
	}

	stats.PartialFailure = len(failedShards) > 0
	stats.FailedShards = failedShards
	stats.Errors = statErrs
	stats.Duration = time.Since(start)
	return paginate(merged, opts, stats), nil
}

// runEarlyTermination executes steps one at a time, in order, stopping
// as soon as accumulated entity count reaches the page limit (spec
// §4.7). Results are merged with union semantics at the end.
func (o *Orchestrator) runEarlyTermination(ctx context.Context, queryID string, plan types.Plan, opts types.Options, stepOpts executor.Options, start time.Time, stats types.Stats) (types.QueryResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var collected [][]types.Entity
	var failedShards []types.ShardID
	var statErrs []types.StatError
	total := 0

	for _, step := range plan.Steps {
		if err := checkTotalTimeout(start, opts); err != nil {
			return types.QueryResult{}, err
		}

		entities, shard, err := o.dispatchStep(ctx, step, opts, stepOpts)
		stats.ShardQueries++
		if err != nil {
			if opts.AllowPartialResults {
				code, msg := classify(err)
				failedShards = append(failedShards, shard)
				statErrs = append(statErrs, types.StatError{ShardID: shard, Code: code, Message: msg})
				continue
			}
			return types.QueryResult{}, err
		}

		stats.EntitiesScanned += len(entities)
		collected = append(collected, entities)
		total += len(entities)
		if total >= limit {
			break
		}
	}

	merged := unionMerge(collected, false)
	if opts.Deduplicate {
		merged = dedupe(merged, opts.DeduplicateBy, opts.PreferNewer)
	}

	stats.PartialFailure = len(failedShards) > 0
	stats.FailedShards = failedShards
	stats.Errors = statErrs
	stats.Duration = time.Since(start)
	return paginate(merged, opts, stats), nil
}

// paginate applies the final offset/limit slice and cursor
// encoding (spec §4.7).
func paginate(entities []types.Entity, opts types.Options, stats types.Stats) types.QueryResult {
	offset := decodeCursor(opts.Cursor)
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	total := len(entities)
	end := offset + limit
	if end > total {
		end = total
	}
	if offset > total {
		offset = total
	}

	page := entities[offset:end]
	hasMore := offset+limit < total

	result := types.QueryResult{
		Entities: page,
		HasMore:  hasMore,
		Stats:    stats,
	}
	if hasMore {
		result.Cursor = encodeCursor(offset + limit)
	}
	return result
}
