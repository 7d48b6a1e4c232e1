// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package breaker_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waypoint-dev/waypoint/internal/breaker"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBreaker(t *testing.T) (*breaker.Breaker, *fakeClock) {
	t.Helper()
	b, err := breaker.New(breaker.DefaultConfig())
	require.NoError(t, err)
	clock := newFakeClock()
	b.SetNowFunc(clock.Now)
	return b, clock
}

func trip(b *breaker.Breaker) {
	for i := 0; i < breaker.DefaultConfig().FailureThreshold; i++ {
		b.RecordFailure()
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*breaker.Config)
	}{
		{"zero threshold", func(c *breaker.Config) { c.FailureThreshold = 0 }},
		{"zero window", func(c *breaker.Config) { c.FailureWindow = 0 }},
		{"negative cooldown", func(c *breaker.Config) { c.BaseCooldown = -time.Second }},
		{"max below base", func(c *breaker.Config) { c.MaxCooldown = time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := breaker.DefaultConfig()
			tt.mutate(&cfg)
			_, err := breaker.New(cfg)
			require.Error(t, err)
			assert.True(t, wperr.HasCode(err, wperr.CodeConfigValidateInvalidValue))
		})
	}
}

func TestConfig_CooldownFor_DoublesUntilCap(t *testing.T) {
	cfg := breaker.DefaultConfig()

	want := []time.Duration{
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		480 * time.Second,
		10 * time.Minute,
		10 * time.Minute,
	}
	for reopens, d := range want {
		assert.Equal(t, d, cfg.CooldownFor(reopens), "reopens=%d", reopens)
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newBreaker(t)
	assert.Equal(t, breaker.Closed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.Equal(t, breaker.Closed, b.State(), "failure %d", i+1)
	}

	b.RecordFailure()
	assert.Equal(t, breaker.Open, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b, _ := newBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}

	assert.Equal(t, breaker.Closed, b.State())
	assert.Equal(t, 4, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_FailuresOutsideWindowDoNotCount(t *testing.T) {
	b, clock := newBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	clock.Advance(61 * time.Second)
	b.RecordFailure()

	assert.Equal(t, breaker.Closed, b.State())
	assert.Equal(t, 1, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_HalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	b, clock := newBreaker(t)
	trip(b)

	clock.Advance(29 * time.Second)
	assert.False(t, b.Allow(), "still cooling down")

	clock.Advance(time.Second)
	assert.Equal(t, breaker.HalfOpen, b.State())
	assert.True(t, b.Allow(), "first probe admitted")
	assert.False(t, b.Allow(), "second probe refused while first in flight")
}

func TestBreaker_HalfOpenProbeConcurrency(t *testing.T) {
	b, clock := newBreaker(t)
	trip(b)
	clock.Advance(30 * time.Second)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b, clock := newBreaker(t)
	trip(b)
	clock.Advance(30 * time.Second)
	require.True(t, b.Allow())

	b.RecordSuccess()

	snap := b.Snapshot()
	assert.Equal(t, breaker.Closed, snap.State)
	assert.Zero(t, snap.Reopens)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.True(t, b.Allow())
}

func TestBreaker_ProbeFailureReopensWithDoubledCooldown(t *testing.T) {
	b, clock := newBreaker(t)
	trip(b)

	for _, cooldown := range []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second} {
		snap := b.Snapshot()
		require.Equal(t, breaker.Open, snap.State)
		assert.Equal(t, cooldown, snap.Cooldown)
		require.NotNil(t, snap.CooldownUntil)
		assert.Equal(t, clock.Now().Add(cooldown), *snap.CooldownUntil)

		clock.Advance(cooldown)
		require.True(t, b.Allow())
		b.RecordFailure()
	}

	assert.Equal(t, 240*time.Second, b.Snapshot().Cooldown)
}

func TestBreaker_CloseResetsBackoff(t *testing.T) {
	b, clock := newBreaker(t)
	trip(b)
	clock.Advance(30 * time.Second)
	require.True(t, b.Allow())
	b.RecordFailure()
	clock.Advance(60 * time.Second)
	require.True(t, b.Allow())
	b.RecordSuccess()

	trip(b)
	assert.Equal(t, 30*time.Second, b.Snapshot().Cooldown)
}

func TestBreaker_ReleaseFreesProbeSlot(t *testing.T) {
	b, clock := newBreaker(t)
	trip(b)
	clock.Advance(30 * time.Second)

	require.True(t, b.Allow())
	b.Release()

	assert.Equal(t, breaker.HalfOpen, b.State())
	assert.True(t, b.Allow(), "slot available again after release")
}

func TestSet_GetReturnsSameBreaker(t *testing.T) {
	s, err := breaker.NewSet(breaker.DefaultConfig())
	require.NoError(t, err)

	assert.Same(t, s.Get("anthropic"), s.Get("anthropic"))
	assert.NotSame(t, s.Get("anthropic"), s.Get("openai"))
	assert.Equal(t, []string{"anthropic", "openai"}, s.Providers())
}

func TestSet_ObservesTransitions(t *testing.T) {
	s, err := breaker.NewSet(breaker.DefaultConfig())
	require.NoError(t, err)
	clock := newFakeClock()
	s.SetNowFunc(clock.Now)

	type change struct {
		provider string
		from, to breaker.State
	}
	var got []change
	s.OnTransition(func(provider string, from, to breaker.State) {
		got = append(got, change{provider, from, to})
	})

	b := s.Get("openai")
	trip(b)
	clock.Advance(30 * time.Second)
	require.True(t, b.Allow())
	b.RecordSuccess()

	assert.Equal(t, []change{
		{"openai", breaker.Closed, breaker.Open},
		{"openai", breaker.Open, breaker.HalfOpen},
		{"openai", breaker.HalfOpen, breaker.Closed},
	}, got)

	snaps := s.Snapshots()
	require.Contains(t, snaps, "openai")
	assert.Equal(t, breaker.Closed, snaps["openai"].State)
}
