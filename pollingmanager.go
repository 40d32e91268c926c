package flipswitch

import (
	"sync"
	"time"

	"github.com/flipswitch/go-server-sdk/util"
)

// pollingFallbackManager degrades the client to periodic full refreshes when
// the event stream keeps failing. The failure counter grows on every stream
// error and resets on the next successful connection; the fallback activates
// once the counter reaches the retry threshold and deactivates as soon as the
// stream recovers. Start and stop are idempotent.
type pollingFallbackManager struct {
	enabled   bool
	interval  time.Duration
	threshold int
	refresh   func()

	onActivate   func()
	onDeactivate func()

	mu           sync.Mutex
	failureCount int
	active       bool
	pollingStop  chan struct{}
}

func newPollingFallbackManager(enabled bool, interval time.Duration, threshold int, refresh func()) *pollingFallbackManager {
	if interval <= 0 {
		interval = defaultPollingInterval
	}
	if threshold <= 0 {
		threshold = defaultRetryThreshold
	}
	return &pollingFallbackManager{
		enabled:   enabled,
		interval:  interval,
		threshold: threshold,
		refresh:   refresh,
	}
}

// RecordFailure increments the failure counter and activates the fallback if
// the threshold has been reached.
func (p *pollingFallbackManager) RecordFailure() {
	p.mu.Lock()
	p.failureCount++
	activated := p.startIfNeededLocked()
	p.mu.Unlock()
	if activated && p.onActivate != nil {
		p.onActivate()
	}
}

// RecordSuccess resets the failure counter and deactivates the fallback.
func (p *pollingFallbackManager) RecordSuccess() {
	p.mu.Lock()
	p.failureCount = 0
	deactivated := p.stopIfActiveLocked()
	p.mu.Unlock()
	if deactivated && p.onDeactivate != nil {
		p.onDeactivate()
	}
}

// StartIfNeeded activates the fallback when it is enabled, not already
// active, and the failure counter has reached the threshold.
func (p *pollingFallbackManager) StartIfNeeded() {
	p.mu.Lock()
	activated := p.startIfNeededLocked()
	p.mu.Unlock()
	if activated && p.onActivate != nil {
		p.onActivate()
	}
}

// StopIfActive cancels the repeating refresh. No-op when not active.
func (p *pollingFallbackManager) StopIfActive() {
	p.mu.Lock()
	deactivated := p.stopIfActiveLocked()
	p.mu.Unlock()
	if deactivated && p.onDeactivate != nil {
		p.onDeactivate()
	}
}

func (p *pollingFallbackManager) startIfNeededLocked() bool {
	if !p.enabled || p.active || p.failureCount < p.threshold {
		return false
	}
	util.Warnf("Stream failed %d times - activating polling fallback (interval: %s)", p.failureCount, p.interval)
	p.active = true
	p.pollingStop = make(chan struct{})
	go p.pollLoop(p.pollingStop)
	return true
}

func (p *pollingFallbackManager) stopIfActiveLocked() bool {
	if !p.active {
		return false
	}
	util.Infof("Stream recovered - deactivating polling fallback")
	p.active = false
	close(p.pollingStop)
	p.pollingStop = nil
	return true
}

func (p *pollingFallbackManager) pollLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.refresh()
		}
	}
}

func (p *pollingFallbackManager) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *pollingFallbackManager) FailureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failureCount
}
