// Package backoff computes retry delays for stream transfers.
package backoff

import (
	"math/rand/v2"
	"time"
)

// DefaultJitter bounds the random component added to every delay.
const DefaultJitter = time.Second

const (
	maxShift    = 62
	maxDuration = time.Duration(1<<63 - 1)
)

// Policy is an exponential backoff with bounded uniform jitter:
// Base * 2^attempt + rand[0, Jitter).
type Policy struct {
	Base time.Duration

	// Jitter is the exclusive upper bound of the random component.
	// Zero means DefaultJitter.
	Jitter time.Duration

	// Rand returns a value in [0, 1). Nil means math/rand/v2.
	Rand func() float64
}

// New returns a Policy with the default one second jitter.
func New(base time.Duration) Policy {
	return Policy{Base: base, Jitter: DefaultJitter}
}

// Exponential returns the non-jitter component for attempt.
func (p Policy) Exponential(attempt uint) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	if p.Base > maxDuration>>attempt {
		return maxDuration
	}
	return p.Base << attempt
}

// DelayFor returns the wait before retry number attempt, where attempt 0 is
// the first retry after the initial try failed.
func (p Policy) DelayFor(attempt uint) time.Duration {
	jitter := p.Jitter
	if jitter <= 0 {
		jitter = DefaultJitter
	}
	r := p.Rand
	if r == nil {
		r = rand.Float64
	}

	d := p.Exponential(attempt)
	j := time.Duration(r() * float64(jitter))
	if j >= jitter {
		j = jitter - 1
	}
	if d > maxDuration-j {
		return maxDuration
	}
	return d + j
}
