package stream

import (
	"math/rand"
	"time"
)

// Backoff is a simple exponential backoff with jitter, grounded on
// sawpanic-cryptorun's BackoffCalculator: each call to Next doubles
// (Multiplier) the prior delay up to Max, with up to 25% jitter so many
// reconnecting clients don't all retry in lockstep.
type Backoff struct {
	cfg     BackoffConfig
	current time.Duration
}

// NewBackoff builds a Backoff starting at cfg.Initial.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg.orDefaults(), current: 0}
}

// Next returns the next delay and advances internal state.
func (b *Backoff) Next() time.Duration {
	if b.current <= 0 {
		b.current = b.cfg.Initial
	} else {
		b.current = time.Duration(float64(b.current) * b.cfg.Multiplier)
		if b.current > b.cfg.Max {
			b.current = b.cfg.Max
		}
	}
	jitter := time.Duration(rand.Float64() * 0.25 * float64(b.current))
	return b.current + jitter
}

// Reset returns the backoff to its initial state after a successful
// reconnect.
func (b *Backoff) Reset() {
	b.current = 0
}
