// Package breaker implements per-provider circuit breakers.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kiranshivaraju/ocrflow/internal/retry"
)

// ErrCircuitOpen is returned when a call is rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit open")

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	// CooldownFactor grows the cooldown each time a half-open trial fails.
	CooldownFactor float64
	MaxCooldown    time.Duration
}

// DefaultConfig returns threshold 5, 5 minute cooldown doubling up to 30 minutes.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         300 * time.Second,
		CooldownFactor:   2,
		MaxCooldown:      30 * time.Minute,
	}
}

// OpenError is the rejection returned while a breaker is open. It unwraps to
// ErrCircuitOpen, classifies as a transient failure and carries the remaining
// cooldown as its retry delay.
type OpenError struct {
	Provider string
	Until    time.Time
	now      func() time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: provider %s until %s", ErrCircuitOpen, e.Provider, e.Until.Format(time.RFC3339))
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// RetryKind makes an open circuit retryable.
func (e *OpenError) RetryKind() retry.Kind { return retry.KindTransientNetwork }

// RetryDelay is the time left until the breaker admits a trial call.
func (e *OpenError) RetryDelay() time.Duration {
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	if d := e.Until.Sub(now()); d > 0 {
		return d
	}
	return 0
}

// Breaker tracks consecutive failures for one provider.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openUntil           time.Time
	cooldown            time.Duration
	trialInFlight       bool
}

// New creates a closed breaker.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{
		name:     name,
		cfg:      cfg,
		now:      time.Now,
		state:    StateClosed,
		cooldown: cfg.Cooldown,
	}
}

// WithClock replaces the time source. Used by tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// Name returns the provider the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. Once the cooldown has elapsed it
// returns true exactly once; further calls are rejected until that trial is
// recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Before(b.openUntil) {
			return false
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// Check is Allow returning an *OpenError on rejection.
func (b *Breaker) Check() error {
	if b.Allow() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	until := b.openUntil
	if b.state == StateHalfOpen {
		// A trial is already running; ask the caller to come back shortly.
		until = b.now().Add(time.Second)
	}
	return &OpenError{Provider: b.name, Until: until, now: b.now}
}

// RecordSuccess closes the breaker and resets counters and cooldown.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.trialInFlight = false
	b.cooldown = b.cfg.Cooldown
	b.openUntil = time.Time{}
}

// RecordFailure counts a failure. A failed half-open trial reopens the
// breaker with a longer cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.cooldown = b.grow(b.cooldown)
		b.open()
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.open()
		}
	}
}

// Abandon releases a half-open trial whose outcome is unknown, for example
// because the caller gave up. The next Allow admits a new trial.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openUntil = b.now().Add(b.cooldown)
}

func (b *Breaker) grow(d time.Duration) time.Duration {
	if b.cfg.CooldownFactor <= 1 {
		return d
	}
	next := time.Duration(float64(d) * b.cfg.CooldownFactor)
	if b.cfg.MaxCooldown > 0 && next > b.cfg.MaxCooldown {
		next = b.cfg.MaxCooldown
	}
	return next
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Provider            string     `json:"provider"`
	State               State      `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenUntil           *time.Time `json:"open_until,omitempty"`
	HalfOpen            bool       `json:"half_open"`
}

// Snapshot returns the current state. An open breaker whose cooldown has
// elapsed is reported as half-open.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Provider:            b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
	}
	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		s.State = StateHalfOpen
	}
	if b.state == StateOpen {
		until := b.openUntil
		s.OpenUntil = &until
	}
	s.HalfOpen = s.State == StateHalfOpen
	return s
}
