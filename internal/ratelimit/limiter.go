// Package ratelimit paces outgoing requests to a fixed rate.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter issues permits no faster than a fixed rate by tracking the next
// available permit time. There is no burst allowance.
//
// A nil *Limiter never blocks.
type Limiter struct {
	mu             sync.Mutex
	nextPermitTime time.Time
	interval       time.Duration
}

// New creates a Limiter issuing ratePerSec permits per second. A rate of
// zero or less means unlimited and returns nil.
func New(ratePerSec float64) *Limiter {
	if ratePerSec <= 0 {
		return nil
	}
	return &Limiter{
		nextPermitTime: time.Now(),
		interval:       time.Duration(float64(time.Second) / ratePerSec),
	}
}

// Wait blocks until a permit is available or the context is cancelled.
// A cancelled wait gives its slot back when no later permit was issued.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	if l.nextPermitTime.Before(now) {
		// Idle time does not accumulate into a burst
		l.nextPermitTime = now
	}
	permitTime := l.nextPermitTime
	l.nextPermitTime = permitTime.Add(l.interval)
	l.mu.Unlock()

	wait := time.Until(permitTime)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.mu.Lock()
		if l.nextPermitTime.Equal(permitTime.Add(l.interval)) {
			l.nextPermitTime = permitTime
		}
		l.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rate returns the permits per second, or 0 for an unlimited Limiter.
func (l *Limiter) Rate() float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(time.Second) / float64(l.interval)
}
