// Package retry classifies external-call failures and drives the backoff loop
// around provider calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrStopped is returned by DoUntil when its stop channel closes during a
// wait between attempts.
var ErrStopped = errors.New("retry stopped")

// Policy configures retry behavior.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFraction is the +/- fraction of randomness applied to each delay.
	JitterFraction float64
	// RateLimitFactor scales the delay for rate_limited errors.
	RateLimitFactor float64

	mu   sync.Mutex
	rand *rand.Rand
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        300 * time.Second,
		Multiplier:      2.0,
		JitterFraction:  0.1,
		RateLimitFactor: 2.0,
	}
}

// WithSeed makes jitter reproducible.
func (p *Policy) WithSeed(seed int64) *Policy {
	p.mu.Lock()
	p.rand = rand.New(rand.NewSource(seed))
	p.mu.Unlock()
	return p
}

// ShouldRetry reports whether another attempt follows a failed attempt
// number attempt (1-based).
func (p *Policy) ShouldRetry(attempt int, kind Kind) bool {
	return kind != KindPermanent && attempt <= p.MaxRetries
}

// NextDelay returns the wait before the attempt following attempt.
func (p *Policy) NextDelay(attempt int, kind Kind) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if kind == KindRateLimited && p.RateLimitFactor > 1 {
		d *= p.RateLimitFactor
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.JitterFraction > 0 {
		d += d * p.JitterFraction * (p.random()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// DelayFor is NextDelay honoring any retry hint carried by err, such as a
// Retry-After header or an open circuit's cooldown. The result never exceeds
// MaxDelay.
func (p *Policy) DelayFor(attempt int, err error) time.Duration {
	d := p.NextDelay(attempt, Classify(err))
	if hint := delayHint(err); hint > d {
		d = hint
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p *Policy) random() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rand == nil {
		p.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.rand.Float64()
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Number int
	Kind   Kind
	Delay  time.Duration
	Err    error
}

// Do runs op until it succeeds, fails permanently, or runs out of retries.
// onRetry is called before every wait. The wait ends early when ctx is done,
// in which case ctx.Err() is returned.
func (p *Policy) Do(ctx context.Context, op func(attempt int) error, onRetry func(Attempt)) error {
	return p.DoUntil(ctx, nil, op, onRetry)
}

// DoUntil is Do with a stop channel that only interrupts waits: an attempt
// already running is never cut short by it. When stop closes during a wait
// the last error is returned wrapped in ErrStopped.
func (p *Policy) DoUntil(ctx context.Context, stop <-chan struct{}, op func(attempt int) error, onRetry func(Attempt)) error {
	for attempt := 1; ; attempt++ {
		err := op(attempt)
		if err == nil {
			return nil
		}

		kind := Classify(err)
		if !p.ShouldRetry(attempt, kind) {
			return err
		}

		delay := p.DelayFor(attempt, err)
		if onRetry != nil {
			onRetry(Attempt{Number: attempt, Kind: kind, Delay: delay, Err: err})
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-stop:
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrStopped, err)
		case <-timer.C:
		}
	}
}
