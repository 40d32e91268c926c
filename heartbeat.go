package flipswitch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/flipswitch/go-server-sdk/util"
)

const (
	defaultHeartbeatTimeout       = 60 * time.Second
	defaultHeartbeatCheckInterval = 10 * time.Second
)

// livenessMonitor tracks the last time any frame arrived on the stream and
// fires onStale when the stream has been quiet for longer than the timeout.
// Staleness is advisory: the monitor never closes the connection itself. After
// firing, the activity clock is reset so the callback fires at most once per
// quiet period.
type livenessMonitor struct {
	timeout       time.Duration
	checkInterval time.Duration
	onStale       func()

	lastActivity atomic.Int64 // unix nanos
	cancel       context.CancelFunc
}

func newLivenessMonitor(timeout time.Duration, checkInterval time.Duration, onStale func()) *livenessMonitor {
	if timeout <= 0 {
		timeout = defaultHeartbeatTimeout
	}
	if checkInterval <= 0 {
		checkInterval = defaultHeartbeatCheckInterval
	}
	return &livenessMonitor{
		timeout:       timeout,
		checkInterval: checkInterval,
		onStale:       onStale,
	}
}

// Touch records stream activity. Called for every received frame, heartbeats
// included.
func (l *livenessMonitor) Touch() {
	l.lastActivity.Store(time.Now().UnixNano())
}

// Start launches the periodic staleness check. Stop cancels it.
func (l *livenessMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.Touch()

	go func() {
		ticker := time.NewTicker(l.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(time.Unix(0, l.lastActivity.Load()))
				if elapsed > l.timeout {
					util.Warnf("No stream activity for %s, marking stale", elapsed)
					if l.onStale != nil {
						l.onStale()
					}
					// Reset so we don't fire again until the stream has been
					// quiet for another full timeout.
					l.Touch()
				}
			}
		}
	}()
}

func (l *livenessMonitor) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}
