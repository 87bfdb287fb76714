package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrSourceCooling is returned while a source is sidelined.
var ErrSourceCooling = eris.New("resilience: source cooling down after repeated failures")

// Breaker sidelines a source after Threshold consecutive failures for
// Cooldown. The first call after the cooldown is let through as a probe.
// A zero Threshold disables the breaker.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker creates a Breaker.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{Threshold: threshold, Cooldown: cooldown, now: time.Now}
}

// Allow returns ErrSourceCooling while the breaker is open.
func (b *Breaker) Allow() error {
	if b == nil || b.Threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.Threshold {
		return nil
	}
	if b.now().Sub(b.openedAt) >= b.Cooldown {
		// Half-open: one more failure re-opens immediately.
		b.failures = b.Threshold - 1
		return nil
	}
	return ErrSourceCooling
}

// Record updates the failure count with the outcome of a call.
func (b *Breaker) Record(err error) {
	if b == nil || b.Threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures == b.Threshold {
		b.openedAt = b.now()
	}
}

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool {
	if b == nil || b.Threshold <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.Threshold && b.now().Sub(b.openedAt) < b.Cooldown
}
