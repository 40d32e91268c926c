package flipswitch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollingFallback_ActivatesExactlyAtThreshold(t *testing.T) {
	var refreshes atomic.Int32
	p := newPollingFallbackManager(true, 10*time.Millisecond, 5, func() {
		refreshes.Add(1)
	})

	for i := 0; i < 4; i++ {
		p.RecordFailure()
		assert.False(t, p.Active(), "must not activate before the threshold (failure %d)", i+1)
	}

	p.RecordFailure()
	assert.True(t, p.Active())
	assert.Equal(t, 5, p.FailureCount())

	assert.Eventually(t, func() bool { return refreshes.Load() >= 1 }, time.Second, 5*time.Millisecond)

	p.RecordSuccess()
	assert.False(t, p.Active())
	assert.Equal(t, 0, p.FailureCount())
}

func TestPollingFallback_DoubleStartAndStopAreNoOps(t *testing.T) {
	p := newPollingFallbackManager(true, time.Hour, 1, func() {})

	p.RecordFailure()
	assert.True(t, p.Active())
	p.StartIfNeeded()
	assert.True(t, p.Active())

	p.StopIfActive()
	assert.False(t, p.Active())
	p.StopIfActive()
	assert.False(t, p.Active())
}

func TestPollingFallback_DisabledNeverActivates(t *testing.T) {
	p := newPollingFallbackManager(false, time.Millisecond, 1, func() {})

	for i := 0; i < 10; i++ {
		p.RecordFailure()
	}
	assert.False(t, p.Active())
}

func TestPollingFallback_RefreshStopsAfterDeactivation(t *testing.T) {
	var refreshes atomic.Int32
	p := newPollingFallbackManager(true, 10*time.Millisecond, 1, func() {
		refreshes.Add(1)
	})

	p.RecordFailure()
	assert.Eventually(t, func() bool { return refreshes.Load() >= 2 }, time.Second, 5*time.Millisecond)

	p.RecordSuccess()
	settled := refreshes.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, refreshes.Load(), settled+1, "at most one in-flight refresh may land after stop")
}

func TestPollingFallback_ActivationCallbacksFireOnce(t *testing.T) {
	var activated, deactivated atomic.Int32
	p := newPollingFallbackManager(true, time.Hour, 2, func() {})
	p.onActivate = func() { activated.Add(1) }
	p.onDeactivate = func() { deactivated.Add(1) }

	p.RecordFailure()
	p.RecordFailure()
	p.RecordFailure()
	p.StartIfNeeded()
	assert.Equal(t, int32(1), activated.Load())

	p.RecordSuccess()
	p.StopIfActive()
	assert.Equal(t, int32(1), deactivated.Load())
}
