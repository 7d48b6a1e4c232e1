// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package breaker

import (
	"sort"
	"sync"
	"time"
)

// Set owns one breaker per provider id, created on first use.
type Set struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
	observer func(provider string, from, to State)
	nowFunc  func() time.Time
}

// NewSet validates cfg once for every breaker the set will hand out.
func NewSet(cfg Config) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Set{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}, nil
}

// OnTransition registers fn to observe state changes of every breaker in
// the set, including ones created later. fn runs under the breaker lock.
func (s *Set) OnTransition(fn func(provider string, from, to State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// SetNowFunc overrides the clock of every current and future breaker (for testing).
func (s *Set) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	s.nowFunc = fn
	breakers := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.Unlock()

	for _, b := range breakers {
		b.SetNowFunc(fn)
	}
}

// Get returns the breaker for provider, creating a closed one if needed.
func (s *Set) Get(provider string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[provider]; ok {
		return b
	}

	var fn TransitionFunc
	if s.observer != nil {
		observer := s.observer
		fn = func(from, to State) { observer(provider, from, to) }
	}
	b := newBreaker(s.cfg, fn)
	if s.nowFunc != nil {
		b.nowFunc = s.nowFunc
	}
	s.breakers[provider] = b
	return b
}

// Providers lists the ids that have a breaker, sorted.
func (s *Set) Providers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.breakers))
	for id := range s.breakers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshots returns the state of every breaker keyed by provider id.
func (s *Set) Snapshots() map[string]Snapshot {
	out := make(map[string]Snapshot)
	for _, id := range s.Providers() {
		out[id] = s.Get(id).Snapshot()
	}
	return out
}
