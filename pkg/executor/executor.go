// Package executor runs a single Step against a single shard (spec §4.4):
// dispatch over pkg/shardclient, classify the reply with pkg/validator,
// retry transient failures with jittered exponential backoff, and record
// the outcome with pkg/breaker. Grounded on the retry loop in
// shardqueue.ShardExecutor's runWorker (other_examples/mycelian
// client-internal-shardqueue-shardexecutor.go): a fresh
// backoff.ExponentialBackOff per unit of work, NextBackOff() between
// attempts, an irrecoverable/recoverable split before deciding whether
// to retry at all.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/cuemby/shardbroker/pkg/breaker"
	"github.com/cuemby/shardbroker/pkg/brokererr"
	"github.com/cuemby/shardbroker/pkg/metrics"
	"github.com/cuemby/shardbroker/pkg/shardclient"
	"github.com/cuemby/shardbroker/pkg/types"
	"github.com/cuemby/shardbroker/pkg/validator"
)

// Options configures the retry/timeout policy for a single Execute call
// (spec §4.4). Zero values are replaced with the spec defaults, except
// NoRetry which is an explicit fail-fast request (spec §4.7
// allow_partial_results: "step executor uses max_retries = 0").
type Options struct {
	MaxRetries    int
	NoRetry       bool
	TimeoutMs     int
	BaseBackoffMs int
	MaxBackoffMs  int
}

const (
	defaultMaxRetries    = 3
	defaultTimeoutMs     = 30000
	defaultBaseBackoffMs = 100
	defaultMaxBackoffMs  = 10000
)

func (o Options) withDefaults() Options {
	if o.NoRetry {
		o.MaxRetries = 0
	} else if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.TimeoutMs <= 0 {
		o.TimeoutMs = defaultTimeoutMs
	}
	if o.BaseBackoffMs <= 0 {
		o.BaseBackoffMs = defaultBaseBackoffMs
	}
	if o.MaxBackoffMs <= 0 {
		o.MaxBackoffMs = defaultMaxBackoffMs
	}
	return o
}

// transientMessage matches the network-level failure strings that mark a
// transport error as transient (spec §4.4/§7).
var transientMessage = regexp.MustCompile(`(?i)timeout|network|connection|ECONNREFUSED|ECONNRESET`)

// Executor dispatches steps to shards. It owns nothing but the HTTP
// client and the breaker store it reports into; origin resolution is the
// caller's (pkg/orchestrator's) concern.
type Executor struct {
	Client  *shardclient.Client
	Breaker *breaker.Store
}

// New builds an Executor around a fresh shard client.
func New(breakerStore *breaker.Store) *Executor {
	return &Executor{Client: shardclient.New(), Breaker: breakerStore}
}

// Execute runs step against the shard reachable at origin, retrying
// transient failures per the backoff policy in opts, and returns the
// entities the shard produced. Exactly one breaker record (success or
// failure) is made per call, regardless of how many attempts it took.
func (e *Executor) Execute(ctx context.Context, origin string, shardID types.ShardID, step types.Step, opts Options) ([]types.Entity, error) {
	if !validKind(step.Kind) {
		return nil, brokererr.Validation("unknown step kind: " + string(step.Kind))
	}
	opts = opts.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Duration(opts.BaseBackoffMs) * time.Millisecond
	exp.MaxInterval = time.Duration(opts.MaxBackoffMs) * time.Millisecond
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.1
	exp.Reset()

	timer := metrics.NewTimer()
	var lastErr error

	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := shardclient.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		entities, err := e.attempt(attemptCtx, origin, step)
		cancel()

		metrics.ShardQueriesTotal.WithLabelValues(string(shardID), string(step.Kind)).Inc()

		if err == nil {
			e.Breaker.RecordSuccess(shardID)
			timer.ObserveDurationVec(metrics.ShardLatency, string(shardID))
			return entities, nil
		}

		if errors.Is(err, context.DeadlineExceeded) {
			metrics.ShardErrorsTotal.WithLabelValues(string(shardID), "timeout").Inc()
			e.Breaker.RecordFailure(shardID)
			return nil, brokererr.Timeout("step execution timed out against shard " + string(shardID))
		}

		lastErr = err
		var be *brokererr.Error
		if !errors.As(err, &be) || !be.Retryable() {
			metrics.ShardErrorsTotal.WithLabelValues(string(shardID), "non_transient").Inc()
			e.Breaker.RecordFailure(shardID)
			return nil, err
		}

		if attempt >= opts.MaxRetries {
			metrics.ShardErrorsTotal.WithLabelValues(string(shardID), "transient_exhausted").Inc()
			e.Breaker.RecordFailure(shardID)
			return nil, lastErr
		}

		metrics.RetryAttemptsTotal.WithLabelValues(string(shardID)).Inc()
		wait := exp.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			e.Breaker.RecordFailure(shardID)
			return nil, ctx.Err()
		}
	}
}

// attempt performs one dispatch+classify round: transport failure,
// non-2xx status, or envelope error all surface as a *brokererr.Error the
// retry loop in Execute can classify.
func (e *Executor) attempt(ctx context.Context, origin string, step types.Step) ([]types.Entity, error) {
	resp, err := e.Client.Dispatch(ctx, origin, step)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if transientMessage.MatchString(err.Error()) {
			return nil, brokererr.TransientShard("", "TRANSPORT_ERROR", err.Error())
		}
		return nil, brokererr.NonTransientShard("", "TRANSPORT_ERROR", err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, message := extractEnvelopeError(resp.StatusCode, resp.Body)
		if isTransientStatus(resp.StatusCode) {
			return nil, brokererr.TransientShard("", code, message)
		}
		return nil, brokererr.NonTransientShard("", code, message)
	}

	var decoded interface{}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, brokererr.MalformedResponse("", "response body is not valid JSON: "+err.Error())
	}

	outcome := validator.ParseEnvelope(decoded)
	if !outcome.OK {
		return nil, brokererr.NonTransientShard("", outcome.Err.Code, outcome.Err.Message)
	}

	return toEntities(outcome.Data), nil
}

func validKind(k types.StepKind) bool {
	switch k {
	case types.StepLookup, types.StepTraverse, types.StepFilter, types.StepExpand:
		return true
	default:
		return false
	}
}

// isTransientStatus is true for every 5xx status except 501 Not
// Implemented, which signals the shard will never support the request.
func isTransientStatus(status int) bool {
	return status >= 500 && status != 501
}

// extractEnvelopeError reads {error:{code,message}} out of a non-2xx
// body, falling back to the raw status when the body doesn't parse.
func extractEnvelopeError(status int, body []byte) (code, message string) {
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err == nil {
		if outcome := validator.ParseEnvelope(decoded); outcome.Err != nil && outcome.Err.Code != "MALFORMED_RESPONSE" {
			return outcome.Err.Code, outcome.Err.Message
		}
	}
	return "HTTP_ERROR", "shard returned status " + strconv.Itoa(status)
}

// toEntities converts a successful envelope's data into entities,
// wrapping any item missing $id/$type/$context with generated
// placeholders (spec §4.4). Non-array data yields an empty list.
func toEntities(data interface{}) []types.Entity {
	arr, ok := data.([]interface{})
	if !ok {
		return nil
	}

	out := make([]types.Entity, 0, len(arr))
	for _, raw := range arr {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		ent := types.Entity(m)
		_, hasID := ent["$id"]
		_, hasType := ent["$type"]
		_, hasContext := ent["$context"]
		if !(hasID && hasType && hasContext) {
			if !hasID {
				ent["$id"] = "https://unknown"
			}
			if !hasType {
				ent["$type"] = "Unknown"
			}
		}
		out = append(out, ent)
	}
	return out
}
