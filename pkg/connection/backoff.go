package connection

import (
	"sync"
	"time"
)

const (
	DefaultInitialBackoff = 250 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
)

// Backoff hands out reconnect delays: initial, then doubled on every call,
// capped at max. Reset brings it back to initial.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
	mu      sync.Mutex
}

// NewBackoff creates a backoff. Non-positive values fall back to the defaults.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, current: initial}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	if delay > b.max {
		delay = b.max
	}
	b.current = delay * 2
	if b.current > b.max {
		b.current = b.max
	}
	return delay
}

// Current returns the delay Next would hand out, without advancing.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Reset restores the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = b.initial
	b.mu.Unlock()
}
