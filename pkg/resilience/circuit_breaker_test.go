package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testSettings() Settings {
	return Settings{
		FailureThreshold: 3,
		Cooldown:         50 * time.Millisecond,
		SuccessThreshold: 2,
	}
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestBreakerPassesErrorsThroughWhileClosed(t *testing.T) {
	cb := NewCircuitBreaker("store", testSettings())

	assert.ErrorIs(t, cb.Do(fail), errBoom)
	assert.NoError(t, cb.Do(succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("store", testSettings())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Do(fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open circuit must not invoke the call")
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker("store", testSettings())

	require.Error(t, cb.Do(fail))
	require.Error(t, cb.Do(fail))
	require.NoError(t, cb.Do(succeed))
	require.Error(t, cb.Do(fail))
	require.Error(t, cb.Do(fail))
	assert.Equal(t, StateClosed, cb.State(), "non-consecutive failures stay closed")
}

func TestBreakerProbesAfterCooldownAndCloses(t *testing.T) {
	cb := NewCircuitBreaker("store", testSettings())

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Do(fail))
	}
	require.ErrorIs(t, cb.Do(succeed), ErrCircuitOpen)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Do(succeed))
	assert.Equal(t, StateHalfOpen, cb.State(), "one probe is not enough")
	require.NoError(t, cb.Do(succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestProbeFailureReopensImmediately(t *testing.T) {
	cb := NewCircuitBreaker("store", testSettings())

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Do(fail))
	}
	time.Sleep(60 * time.Millisecond)

	assert.ErrorIs(t, cb.Do(fail), errBoom)
	assert.ErrorIs(t, cb.Do(succeed), ErrCircuitOpen, "failed probe reopens the circuit")
}

func TestReset(t *testing.T) {
	cb := NewCircuitBreaker("store", testSettings())

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Do(fail))
	}
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Do(succeed))
}
