package breaker

import (
	"testing"
	"time"

	"github.com/cuemby/shardbroker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shardA = types.ShardID("shard-0-ab12")

func TestIsOpen_ClosedByDefault(t *testing.T) {
	s := NewStore()
	assert.False(t, s.IsOpen(shardA))
}

func TestOpensAfterFiveConsecutiveFailures(t *testing.T) {
	s := NewStore()

	for i := 0; i < OpenAfter-1; i++ {
		s.RecordFailure(shardA)
		assert.False(t, s.IsOpen(shardA), "should still be closed at failure %d", i+1)
	}

	s.RecordFailure(shardA)
	assert.True(t, s.IsOpen(shardA), "should be open after %d consecutive failures", OpenAfter)
}

func TestSuccessBeforeFifthFailureResetsCounter(t *testing.T) {
	s := NewStore()

	s.RecordFailure(shardA)
	s.RecordFailure(shardA)
	s.RecordFailure(shardA)
	s.RecordSuccess(shardA)

	snap := s.Snapshot()
	require.Contains(t, snap, shardA)
	assert.Equal(t, 0, snap[shardA].Failures)
	assert.Equal(t, types.BreakerClosed, snap[shardA].State)

	for i := 0; i < OpenAfter-1; i++ {
		s.RecordFailure(shardA)
	}
	assert.False(t, s.IsOpen(shardA))
}

func TestCooldownGatesHalfOpenProbe(t *testing.T) {
	s := NewStore()
	for i := 0; i < OpenAfter; i++ {
		s.RecordFailure(shardA)
	}
	require.True(t, s.IsOpen(shardA))

	// Simulate cooldown elapsing by rewinding LastFailureTime directly.
	s.mu.Lock()
	s.records[shardA].LastFailureTime = time.Now().Add(-Cooldown - time.Second)
	s.mu.Unlock()

	assert.False(t, s.IsOpen(shardA), "probe should be admitted once cooldown elapses")
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	s := NewStore()
	for i := 0; i < OpenAfter; i++ {
		s.RecordFailure(shardA)
	}
	s.mu.Lock()
	s.records[shardA].LastFailureTime = time.Now().Add(-Cooldown - time.Second)
	s.mu.Unlock()
	require.False(t, s.IsOpen(shardA)) // transitions to half-open

	s.RecordSuccess(shardA)
	snap := s.Snapshot()
	assert.Equal(t, types.BreakerClosed, snap[shardA].State)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	s := NewStore()
	for i := 0; i < OpenAfter; i++ {
		s.RecordFailure(shardA)
	}
	s.mu.Lock()
	s.records[shardA].LastFailureTime = time.Now().Add(-Cooldown - time.Second)
	s.mu.Unlock()
	require.False(t, s.IsOpen(shardA)) // half-open

	s.RecordFailure(shardA)
	assert.True(t, s.IsOpen(shardA))
}

func TestReset(t *testing.T) {
	s := NewStore()
	for i := 0; i < OpenAfter; i++ {
		s.RecordFailure(shardA)
	}
	require.True(t, s.IsOpen(shardA))

	s.Reset()
	assert.False(t, s.IsOpen(shardA))
}
