// Package breaker implements the per-shard circuit breaker (spec §4.3).
// It is a pure state store accessed through free functions on a Store:
// the step executor and orchestrator both depend on it, and it depends
// back on nothing, breaking the executor/breaker/orchestrator cycle the
// design notes (spec §9) call out.
package breaker

import (
	"sync"
	"time"

	"github.com/cuemby/shardbroker/pkg/metrics"
	"github.com/cuemby/shardbroker/pkg/types"
)

const (
	// OpenAfter is the number of consecutive failures that opens a breaker.
	OpenAfter = 5

	// Cooldown is how long a breaker stays open before allowing a probe.
	Cooldown = 30 * time.Second
)

// Store is process-wide state keyed by shard ID. Every access goes
// through one store-wide mutex: IsOpen and the Record methods take the
// write lock (IsOpen may move a breaker to half-open), Snapshot the read
// lock.
type Store struct {
	mu       sync.RWMutex
	records  map[types.ShardID]*types.BreakerRecord
}

// NewStore creates an empty breaker store.
func NewStore() *Store {
	return &Store{records: make(map[types.ShardID]*types.BreakerRecord)}
}

// IsOpen is the admission check: true iff the shard's breaker currently
// rejects dispatch. Once the cooldown has elapsed the breaker moves to
// half-open and is reported as not open; it stays half-open, admitting
// every caller, until the next RecordSuccess or RecordFailure.
func (s *Store) IsOpen(shardID types.ShardID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(shardID)
	if rec.State != types.BreakerOpen {
		return false
	}

	if time.Since(rec.LastFailureTime) < Cooldown {
		return true
	}

	// Cooldown elapsed: transition to half-open and admit this probe.
	rec.State = types.BreakerHalfOpen
	metrics.BreakerStateTransitionsTotal.WithLabelValues(string(shardID), string(types.BreakerHalfOpen)).Inc()
	return false
}

// RecordSuccess applies the closed/half-open success transitions (§4.3).
func (s *Store) RecordSuccess(shardID types.ShardID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(shardID)
	rec.Failures = 0
	if rec.State != types.BreakerClosed {
		rec.State = types.BreakerClosed
		metrics.BreakerStateTransitionsTotal.WithLabelValues(string(shardID), string(types.BreakerClosed)).Inc()
	}
	metrics.BreakerOpenGauge.WithLabelValues(string(shardID)).Set(0)
}

// RecordFailure applies the closed/half-open failure transitions (§4.3).
func (s *Store) RecordFailure(shardID types.ShardID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(shardID)

	if rec.State == types.BreakerHalfOpen {
		rec.State = types.BreakerOpen
		rec.LastFailureTime = time.Now()
		metrics.BreakerStateTransitionsTotal.WithLabelValues(string(shardID), string(types.BreakerOpen)).Inc()
		metrics.BreakerOpenGauge.WithLabelValues(string(shardID)).Set(1)
		return
	}

	rec.Failures++
	if rec.Failures >= OpenAfter {
		rec.State = types.BreakerOpen
		rec.LastFailureTime = time.Now()
		metrics.BreakerStateTransitionsTotal.WithLabelValues(string(shardID), string(types.BreakerOpen)).Inc()
		metrics.BreakerOpenGauge.WithLabelValues(string(shardID)).Set(1)
	}
}

// Snapshot returns a read-only copy of every shard's breaker state.
// Supplements the spec's test-oriented Reset hook (§6) with a read-side
// accessor for operators inspecting breaker health.
func (s *Store) Snapshot() map[types.ShardID]types.BreakerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[types.ShardID]types.BreakerRecord, len(s.records))
	for id, rec := range s.records {
		out[id] = *rec
	}
	return out
}

// Reset clears all process-global breaker state. Intended for tests
// (spec §6 reset_circuit_breakers).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[types.ShardID]*types.BreakerRecord)
}

// recordLocked returns the shard's record, creating it (closed, 0
// failures) on first observation. Caller must hold s.mu.
func (s *Store) recordLocked(shardID types.ShardID) *types.BreakerRecord {
	rec, ok := s.records[shardID]
	if !ok {
		rec = &types.BreakerRecord{State: types.BreakerClosed}
		s.records[shardID] = rec
	}
	return rec
}
