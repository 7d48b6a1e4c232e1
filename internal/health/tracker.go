// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package health tracks the health state of providers, nodes and components.
//
// The Tracker is the single writer of every entity's state. Callers report
// events (success, error, heartbeat, block, restart) and the tracker decides
// the transition; readers only ever see the resulting state. Every transition
// is timestamped, logged and appended to a bounded in-process log.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

// Kind is the category of a tracked entity.
type Kind string

const (
	KindProvider  Kind = "provider"
	KindNode      Kind = "node"
	KindComponent Kind = "component"
)

// Severity grades a reported error.
type Severity int

const (
	// SeverityRetryable covers timeouts, 5xx and rate limiting.
	SeverityRetryable Severity = iota
	// SeverityFatal covers auth failures, bad configuration and refused connections.
	SeverityFatal
)

// Trigger names the event that caused a transition.
type Trigger string

const (
	TriggerSuccess     Trigger = "success"
	TriggerHighLatency Trigger = "high_latency"
	TriggerError       Trigger = "error"
	TriggerFatal       Trigger = "fatal_error"
	TriggerHeartbeat   Trigger = "heartbeat"
	TriggerNoHeartbeat Trigger = "heartbeat_missed"
	TriggerDegradedAge Trigger = "degraded_timeout"
	TriggerBlocked     Trigger = "blocked"
	TriggerUnblocked   Trigger = "dependency_resolved"
	TriggerRestart     Trigger = "restart"
	TriggerProbe       Trigger = "probe_success"
	TriggerProbeFailed Trigger = "probe_failure"
)

// Config holds the thresholds that drive time-based transitions.
type Config struct {
	// StaleAfter is the heartbeat gap after which an OK entity becomes STALE.
	StaleAfter time.Duration
	// DownAfter is the heartbeat gap after which a STALE entity becomes DOWN.
	DownAfter time.Duration
	// DegradedTimeout is how long an entity may stay DEGRADED before it is
	// considered STALE.
	DegradedTimeout time.Duration
	// RecoveryProbes is the number of consecutive successes a RECOVERING
	// entity needs before it is OK again.
	RecoveryProbes int
	// HighLatency marks a successful call as degraded. Zero disables the check.
	HighLatency time.Duration
	// SweepInterval is the period of Run.
	SweepInterval time.Duration
	// LogSize bounds the transition log. Default: 512.
	LogSize int
}

// DefaultConfig returns the tracker defaults.
func DefaultConfig() Config {
	return Config{
		StaleAfter:      30 * time.Second,
		DownAfter:       2 * time.Minute,
		DegradedTimeout: 5 * time.Minute,
		RecoveryProbes:  3,
		HighLatency:     10 * time.Second,
		SweepInterval:   5 * time.Second,
		LogSize:         512,
	}
}

func (c *Config) validate() error {
	if c.LogSize == 0 {
		c.LogSize = 512
	}
	switch {
	case c.StaleAfter <= 0:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "health stale_after must be positive, got %s", c.StaleAfter)
	case c.DownAfter <= c.StaleAfter:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue,
			"health down_after %s must exceed stale_after %s", c.DownAfter, c.StaleAfter)
	case c.DegradedTimeout <= 0:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "health degraded_timeout must be positive, got %s", c.DegradedTimeout)
	case c.RecoveryProbes < 1:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "health recovery_probes must be at least 1, got %d", c.RecoveryProbes)
	case c.HighLatency < 0:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "health high_latency must not be negative, got %s", c.HighLatency)
	case c.SweepInterval <= 0:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "health sweep_interval must be positive, got %s", c.SweepInterval)
	case c.LogSize < 0:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "health log size must not be negative, got %d", c.LogSize)
	}
	return nil
}

// Transition is one entry of the transition log.
type Transition struct {
	Entity  string            `json:"entity"`
	Kind    Kind              `json:"kind"`
	From    types.HealthState `json:"from"`
	To      types.HealthState `json:"to"`
	Trigger Trigger           `json:"trigger"`
	Reason  string            `json:"reason,omitempty"`
	At      time.Time         `json:"at"`
}

// Entry is a consistent snapshot of one entity.
type Entry struct {
	Entity            string            `json:"entity"`
	Kind              Kind              `json:"kind"`
	State             types.HealthState `json:"state"`
	LastTransitionAt  time.Time         `json:"last_transition_at"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	LastHeartbeatAt   *time.Time        `json:"last_heartbeat_at,omitempty"`
}

type entity struct {
	mu sync.Mutex

	id                string
	kind              Kind
	state             types.HealthState
	lastTransition    time.Time
	consecutiveErrors int
	lastHeartbeat     time.Time
	heartbeats        bool // state is subject to heartbeat sweeps
	probes            int
}

// Tracker owns the HealthState of every entity.
type Tracker struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	entities  map[string]*entity
	observers []func(Transition)
	nowFunc   func() time.Time

	logMu sync.Mutex
	log   []Transition
	next  int
	full  bool
}

// New creates a Tracker. Returns an error if cfg is invalid.
func New(cfg Config) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:      cfg,
		logger:   slog.Default(),
		entities: make(map[string]*entity),
		nowFunc:  time.Now,
		log:      make([]Transition, cfg.LogSize),
	}, nil
}

// SetNowFunc overrides the time source (for testing).
func (t *Tracker) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	t.nowFunc = fn
	t.mu.Unlock()
}

// SetLogger replaces the logger used for transition records.
func (t *Tracker) SetLogger(l *slog.Logger) {
	t.mu.Lock()
	t.logger = l
	t.mu.Unlock()
}

// OnTransition registers fn to be called after every transition.
func (t *Tracker) OnTransition(fn func(Transition)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

func (t *Tracker) now() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nowFunc()
}

// Track registers an entity in the OK state. Tracking an existing entity
// is a no-op. Node and component entities are swept for missing heartbeats;
// providers are judged by call outcomes only.
func (t *Tracker) Track(id string, kind Kind) {
	t.entity(id, kind)
}

func (t *Tracker) entity(id string, kind Kind) *entity {
	t.mu.RLock()
	e, ok := t.entities[id]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entities[id]; ok {
		return e
	}
	now := t.nowFunc()
	e = &entity{
		id:             id,
		kind:           kind,
		state:          types.HealthOK,
		lastTransition: now,
		lastHeartbeat:  now,
		heartbeats:     kind != KindProvider,
	}
	t.entities[id] = e
	return e
}

func (t *Tracker) lookup(id string) (*entity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entities[id]
	return e, ok
}

// State returns the current state of id. Unknown entities are OK.
func (t *Tracker) State(id string) types.HealthState {
	e, ok := t.lookup(id)
	if !ok {
		return types.HealthOK
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Usable reports whether traffic may be sent to id.
func (t *Tracker) Usable(id string) bool {
	return t.State(id).Usable()
}

// Get returns a snapshot of id.
func (t *Tracker) Get(id string) (Entry, bool) {
	e, ok := t.lookup(id)
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// Entries returns snapshots of every tracked entity sorted by id.
func (t *Tracker) Entries() []Entry {
	t.mu.RLock()
	all := make([]*entity, 0, len(t.entities))
	for _, e := range t.entities {
		all = append(all, e)
	}
	t.mu.RUnlock()

	out := make([]Entry, 0, len(all))
	for _, e := range all {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

func (e *entity) snapshot() Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry := Entry{
		Entity:            e.id,
		Kind:              e.kind,
		State:             e.state,
		LastTransitionAt:  e.lastTransition,
		ConsecutiveErrors: e.consecutiveErrors,
	}
	if e.heartbeats {
		hb := e.lastHeartbeat
		entry.LastHeartbeatAt = &hb
	}
	return entry
}

// RecordSuccess reports a successful call or probe. A success slower than
// the configured high-latency threshold degrades an OK entity instead.
func (t *Tracker) RecordSuccess(id string, kind Kind, latency time.Duration) {
	e := t.entity(id, kind)
	now := t.now()

	var fired []Transition
	e.mu.Lock()
	e.consecutiveErrors = 0
	e.lastHeartbeat = now
	switch e.state {
	case types.HealthOK:
		if t.cfg.HighLatency > 0 && latency >= t.cfg.HighLatency {
			fired = append(fired, t.moveLocked(e, types.HealthDegraded, TriggerHighLatency, latency.String(), now))
		}
	case types.HealthDegraded:
		if t.cfg.HighLatency == 0 || latency < t.cfg.HighLatency {
			fired = append(fired, t.moveLocked(e, types.HealthOK, TriggerSuccess, "", now))
		}
	case types.HealthStale:
		fired = append(fired, t.moveLocked(e, types.HealthOK, TriggerHeartbeat, "", now))
	case types.HealthRecovering:
		e.probes++
		if e.probes >= t.cfg.RecoveryProbes {
			fired = append(fired, t.moveLocked(e, types.HealthOK, TriggerProbe, "", now))
		}
	}
	e.mu.Unlock()

	t.notify(fired)
}

// RecordError reports a failed call. Retryable errors degrade an OK entity;
// fatal errors take it DOWN. Any failure while RECOVERING returns it to DOWN.
func (t *Tracker) RecordError(id string, kind Kind, sev Severity, reason string) {
	e := t.entity(id, kind)
	now := t.now()

	var fired []Transition
	e.mu.Lock()
	e.consecutiveErrors++
	switch e.state {
	case types.HealthOK:
		if sev == SeverityFatal {
			fired = append(fired, t.moveLocked(e, types.HealthDown, TriggerFatal, reason, now))
		} else {
			fired = append(fired, t.moveLocked(e, types.HealthDegraded, TriggerError, reason, now))
		}
	case types.HealthDegraded, types.HealthStale:
		if sev == SeverityFatal {
			fired = append(fired, t.moveLocked(e, types.HealthDown, TriggerFatal, reason, now))
		}
	case types.HealthRecovering:
		fired = append(fired, t.moveLocked(e, types.HealthDown, TriggerProbeFailed, reason, now))
	}
	e.mu.Unlock()

	t.notify(fired)
}

// Heartbeat records that id is alive and opts it into heartbeat sweeps.
// A STALE entity becomes OK.
func (t *Tracker) Heartbeat(id string, kind Kind) {
	e := t.entity(id, kind)
	now := t.now()

	var fired []Transition
	e.mu.Lock()
	e.heartbeats = true
	e.lastHeartbeat = now
	if e.state == types.HealthStale {
		fired = append(fired, t.moveLocked(e, types.HealthOK, TriggerHeartbeat, "", now))
	}
	e.mu.Unlock()

	t.notify(fired)
}

// Block marks id as waiting on an external dependency such as a missing
// credential. An OK entity passes through DEGRADED first, and both
// transitions are logged.
func (t *Tracker) Block(id string, kind Kind, reason string) error {
	e := t.entity(id, kind)
	now := t.now()

	var fired []Transition
	e.mu.Lock()
	switch e.state {
	case types.HealthOK:
		fired = append(fired,
			t.moveLocked(e, types.HealthDegraded, TriggerError, reason, now),
			t.moveLocked(e, types.HealthBlocked, TriggerBlocked, reason, now))
	case types.HealthDegraded:
		fired = append(fired, t.moveLocked(e, types.HealthBlocked, TriggerBlocked, reason, now))
	case types.HealthBlocked:
	default:
		state := e.state
		e.mu.Unlock()
		return wperr.New(wperr.CodeHealthTransitionInvalid, "cannot block entity in state "+string(state),
			wperr.FieldEntity(id))
	}
	e.mu.Unlock()

	t.notify(fired)
	return nil
}

// Unblock signals that the dependency id was waiting on is resolved.
// BLOCKED entities return to DEGRADED; other states are unchanged.
func (t *Tracker) Unblock(id string) {
	t.signal(id, types.HealthBlocked, types.HealthDegraded, TriggerUnblocked)
}

// Restart signals a process or connection restart. DOWN entities move to
// RECOVERING and must pass RecoveryProbes successes to be OK again.
func (t *Tracker) Restart(id string) {
	t.signal(id, types.HealthDown, types.HealthRecovering, TriggerRestart)
}

func (t *Tracker) signal(id string, from, to types.HealthState, trig Trigger) {
	e, ok := t.lookup(id)
	if !ok {
		return
	}
	now := t.now()

	var fired []Transition
	e.mu.Lock()
	if e.state == from {
		e.probes = 0
		fired = append(fired, t.moveLocked(e, to, trig, "", now))
	}
	e.mu.Unlock()

	t.notify(fired)
}

// ResetEntities sends the restart and dependency-resolved signals to every
// entity of kind. It is used after a configuration refresh.
func (t *Tracker) ResetEntities(kind Kind) {
	for _, entry := range t.Entries() {
		if entry.Kind != kind {
			continue
		}
		switch entry.State {
		case types.HealthDown:
			t.Restart(entry.Entity)
		case types.HealthBlocked:
			t.Unblock(entry.Entity)
		}
	}
}

// Sweep applies the time-based transitions. Heartbeat-tracked entities go
// OK to STALE after StaleAfter and STALE to DOWN after DownAfter without a
// heartbeat, and DEGRADED to STALE after DegradedTimeout. Providers are
// left to call outcomes and are never aged here.
func (t *Tracker) Sweep() {
	now := t.now()

	t.mu.RLock()
	all := make([]*entity, 0, len(t.entities))
	for _, e := range t.entities {
		all = append(all, e)
	}
	t.mu.RUnlock()

	var fired []Transition
	for _, e := range all {
		e.mu.Lock()
		if e.heartbeats {
			silent := now.Sub(e.lastHeartbeat)
			switch e.state {
			case types.HealthOK:
				if silent > t.cfg.StaleAfter {
					fired = append(fired, t.moveLocked(e, types.HealthStale, TriggerNoHeartbeat, silent.String(), now))
				}
			case types.HealthStale:
				if silent > t.cfg.DownAfter {
					fired = append(fired, t.moveLocked(e, types.HealthDown, TriggerNoHeartbeat, silent.String(), now))
				}
			case types.HealthDegraded:
				if now.Sub(e.lastTransition) > t.cfg.DegradedTimeout {
					fired = append(fired, t.moveLocked(e, types.HealthStale, TriggerDegradedAge, "", now))
				}
			}
		}
		e.mu.Unlock()
	}

	t.notify(fired)
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-ctx.Done():
			return nil
		}
	}
}

// moveLocked performs one transition. The caller MUST hold e.mu.
func (t *Tracker) moveLocked(e *entity, to types.HealthState, trig Trigger, reason string, now time.Time) Transition {
	tr := Transition{
		Entity:  e.id,
		Kind:    e.kind,
		From:    e.state,
		To:      to,
		Trigger: trig,
		Reason:  reason,
		At:      now,
	}
	e.state = to
	e.lastTransition = now
	if to == types.HealthOK {
		e.consecutiveErrors = 0
	}
	t.append(tr)
	return tr
}

func (t *Tracker) append(tr Transition) {
	t.logMu.Lock()
	defer t.logMu.Unlock()
	if len(t.log) == 0 {
		return
	}
	t.log[t.next] = tr
	t.next = (t.next + 1) % len(t.log)
	if t.next == 0 {
		t.full = true
	}
}

// Transitions returns the retained transition log, oldest first.
func (t *Tracker) Transitions() []Transition {
	t.logMu.Lock()
	defer t.logMu.Unlock()

	if !t.full {
		return append([]Transition(nil), t.log[:t.next]...)
	}
	out := make([]Transition, 0, len(t.log))
	out = append(out, t.log[t.next:]...)
	return append(out, t.log[:t.next]...)
}

func (t *Tracker) notify(fired []Transition) {
	if len(fired) == 0 {
		return
	}

	t.mu.RLock()
	logger := t.logger
	observers := t.observers
	t.mu.RUnlock()

	for _, tr := range fired {
		attrs := []any{
			"entity", tr.Entity,
			"kind", tr.Kind,
			"from", tr.From,
			"to", tr.To,
			"trigger", tr.Trigger,
		}
		if tr.Reason != "" {
			attrs = append(attrs, "reason", tr.Reason)
		}
		if tr.To == types.HealthOK {
			logger.Info("health transition", attrs...)
		} else {
			logger.Warn("health transition", attrs...)
		}
		for _, fn := range observers {
			fn(tr)
		}
	}
}
