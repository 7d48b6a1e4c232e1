// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package breaker implements the per-provider circuit breaker.
//
// A breaker opens after FailureThreshold consecutive failures that all fall
// inside FailureWindow. While open it rejects every attempt until the cooldown
// elapses, then admits exactly one probe (half-open). A probe success closes
// the breaker and resets the backoff; a probe failure reopens it with the
// cooldown doubled, capped at MaxCooldown.
//
// Cooldowns are checked on Allow, never slept on.
package breaker

import (
	"sync"
	"time"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// State is the breaker position.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config controls when a breaker trips and how long it stays open.
type Config struct {
	FailureThreshold int
	FailureWindow    time.Duration
	BaseCooldown     time.Duration
	MaxCooldown      time.Duration
}

// DefaultConfig returns the breaker defaults used when configuration is absent.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		BaseCooldown:     30 * time.Second,
		MaxCooldown:      10 * time.Minute,
	}
}

// Validate rejects configurations that could never trip or never reopen.
func (c Config) Validate() error {
	switch {
	case c.FailureThreshold < 1:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue,
			"breaker failure threshold must be at least 1, got %d", c.FailureThreshold)
	case c.FailureWindow <= 0:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue,
			"breaker failure window must be positive, got %s", c.FailureWindow)
	case c.BaseCooldown <= 0:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue,
			"breaker base cooldown must be positive, got %s", c.BaseCooldown)
	case c.MaxCooldown < c.BaseCooldown:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue,
			"breaker max cooldown %s is below base cooldown %s", c.MaxCooldown, c.BaseCooldown)
	}
	return nil
}

// CooldownFor returns the open duration after the given number of
// consecutive reopenings: base, 2*base, 4*base ... capped at max.
func (c Config) CooldownFor(reopens int) time.Duration {
	d := c.BaseCooldown
	for i := 0; i < reopens; i++ {
		if d >= c.MaxCooldown/2 {
			return c.MaxCooldown
		}
		d *= 2
	}
	return min(d, c.MaxCooldown)
}

// TransitionFunc observes breaker state changes. It is called with the
// breaker lock held and must not call back into the breaker.
type TransitionFunc func(from, to State)

// Breaker guards a single provider.
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	failures      []time.Time // consecutive failures, oldest first
	openedAt      time.Time
	cooldown      time.Duration
	reopens       int
	probeInFlight bool
	nowFunc       func() time.Time // for testing
	onTransition  TransitionFunc
}

// New creates a closed breaker. Returns an error if cfg is invalid.
func New(cfg Config) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newBreaker(cfg, nil), nil
}

func newBreaker(cfg Config, fn TransitionFunc) *Breaker {
	return &Breaker{
		cfg:          cfg,
		state:        Closed,
		nowFunc:      time.Now,
		onTransition: fn,
	}
}

// SetNowFunc overrides the time source (for testing).
func (b *Breaker) SetNowFunc(fn func() time.Time) {
	b.mu.Lock()
	b.nowFunc = fn
	b.mu.Unlock()
}

// State returns the current position, promoting open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

// currentStateLocked must be called with b.mu held.
func (b *Breaker) currentStateLocked() State {
	if b.state == Open && !b.nowFunc().Before(b.openedAt.Add(b.cooldown)) {
		b.setStateLocked(HalfOpen)
		b.probeInFlight = false
	}
	return b.state
}

func (b *Breaker) setStateLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}

// Allow reports whether an attempt may be sent now. In the half-open state
// the first caller claims the single probe slot; everyone else is refused
// until that probe reports back through RecordSuccess, RecordFailure or
// Release.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentStateLocked() {
	case Closed:
		return true
	case HalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes a half-open breaker and clears the failure run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = b.failures[:0]
	if b.currentStateLocked() == HalfOpen {
		b.probeInFlight = false
		b.reopens = 0
		b.cooldown = 0
		b.setStateLocked(Closed)
	}
}

// RecordFailure counts a retryable failure. A failed probe reopens the
// breaker with a doubled cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	switch b.currentStateLocked() {
	case HalfOpen:
		b.probeInFlight = false
		b.reopens++
		b.openLocked(now)
	case Closed:
		cutoff := now.Add(-b.cfg.FailureWindow)
		kept := b.failures[:0]
		for _, at := range b.failures {
			if at.After(cutoff) {
				kept = append(kept, at)
			}
		}
		b.failures = append(kept, now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.reopens = 0
			b.openLocked(now)
		}
	}
}

func (b *Breaker) openLocked(now time.Time) {
	b.failures = b.failures[:0]
	b.openedAt = now
	b.cooldown = b.cfg.CooldownFor(b.reopens)
	b.setStateLocked(Open)
}

// Release gives back a claimed probe slot without judging the provider,
// for attempts that were cancelled or failed for reasons unrelated to
// provider availability.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.probeInFlight = false
	}
}

// Snapshot is a point-in-time copy of the breaker state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	Reopens             int
	OpenedAt            time.Time
	Cooldown            time.Duration
	CooldownUntil       *time.Time
}

// Snapshot returns the current state without holding references into it.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		State:               b.currentStateLocked(),
		ConsecutiveFailures: len(b.failures),
		Reopens:             b.reopens,
		OpenedAt:            b.openedAt,
		Cooldown:            b.cooldown,
	}
	if s.State == Open {
		until := b.openedAt.Add(b.cooldown)
		s.CooldownUntil = &until
	}
	return s
}
