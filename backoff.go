package flipswitch

import (
	"sync"
	"time"
)

const (
	defaultMinReconnectDelay = time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	reconnectDelayMultiplier = 2.0
)

// backoff computes the delay sequence for stream reconnect attempts. The
// first delay after a reset is min, and every failed attempt doubles the next
// delay up to max. One successful connection resets the sequence.
type backoff struct {
	mu         sync.Mutex
	current    time.Duration
	min        time.Duration
	max        time.Duration
	multiplier float64
}

func newBackoff(min, max time.Duration) *backoff {
	if min <= 0 {
		min = defaultMinReconnectDelay
	}
	if max < min {
		max = defaultMaxReconnectDelay
	}
	return &backoff{
		current:    min,
		min:        min,
		max:        max,
		multiplier: reconnectDelayMultiplier,
	}
}

// NextDelay returns the delay to wait before the next attempt and advances
// the sequence.
func (b *backoff) NextDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	delay := b.current
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next
	return delay
}

// Reset restarts the sequence from the minimum delay.
func (b *backoff) Reset() {
	b.mu.Lock()
	b.current = b.min
	b.mu.Unlock()
}
