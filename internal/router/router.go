// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package router selects and calls providers for one request. It walks the
// intent's provider chain in order, skipping providers that are disabled,
// unhealthy, breaker-open or missing a credential, and falls back to the
// local responder when nothing answers. Route never fails the caller for a
// provider problem; every call yields exactly one decision trace.
package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/waypoint-dev/waypoint/internal/authority"
	"github.com/waypoint-dev/waypoint/internal/breaker"
	"github.com/waypoint-dev/waypoint/internal/health"
	"github.com/waypoint-dev/waypoint/internal/provider"
	"github.com/waypoint-dev/waypoint/internal/provider/local"
	"github.com/waypoint-dev/waypoint/internal/secrets"
	"github.com/waypoint-dev/waypoint/internal/store"
	"github.com/waypoint-dev/waypoint/internal/telemetry"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	pkghealth "github.com/waypoint-dev/waypoint/pkg/health"
)

// Fallback reasons reported on degraded responses.
const (
	ReasonAllUnavailable = "all_providers_unavailable"
	ReasonCancelled      = "cancelled"
	ReasonInvalidRequest = "invalid_request"
)

// Request is one admitted unit of work. Hops is the already incremented
// forwarding depth that outbound provider calls carry.
type Request struct {
	ID            string
	CallerID      string
	CorrelationID string
	Intent        string
	Hops          int
	Chat          provider.ChatRequest
	ReceivedAt    time.Time
}

// Response is what the caller gets back, degraded or not.
type Response struct {
	ID             string
	Provider       string
	Model          string
	Content        string
	FinishReason   string
	Usage          provider.Usage
	Latency        time.Duration
	Degraded       bool
	Fallback       bool
	FallbackReason string
}

// Descriptor is the locally configured adapter behind a provider id.
type Descriptor struct {
	Type     string
	Secret   string
	Endpoint string
	Model    string
}

// ChainSource supplies provider chains.
type ChainSource interface {
	Chain(ctx context.Context, intent string) authority.ChainResult
}

// SecretResolver supplies provider credentials.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) secrets.Resolution
}

// ClientFactory builds or reuses a provider client.
type ClientFactory interface {
	Client(typ string, cfg provider.Config) (provider.Provider, error)
}

// Recorder accepts finished decision traces without blocking.
type Recorder interface {
	Record(trace *store.DecisionTrace)
}

// Config tunes attempts.
type Config struct {
	AttemptTimeout time.Duration
	DefaultIntent  string
}

// Deps are the router's collaborators. Metrics may be nil.
type Deps struct {
	Chains   ChainSource
	Secrets  SecretResolver
	Clients  ClientFactory
	Breakers *breaker.Set
	Health   *health.Tracker
	Traces   Recorder
	Metrics  *telemetry.Metrics
}

// Router is safe for concurrent use.
type Router struct {
	cfg      Config
	deps     Deps
	fallback *local.Responder
	nowFunc  func() time.Time

	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// New validates cfg and deps and returns a Router with no descriptors.
func New(cfg Config, deps Deps) (*Router, error) {
	if cfg.AttemptTimeout <= 0 {
		return nil, wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "router: attempt timeout must be positive, got %s", cfg.AttemptTimeout)
	}
	if cfg.DefaultIntent == "" {
		cfg.DefaultIntent = "chat"
	}
	switch {
	case deps.Chains == nil:
		return nil, wperr.New(wperr.CodeConfigValidateInvalidValue, "router: chain source is required")
	case deps.Secrets == nil:
		return nil, wperr.New(wperr.CodeConfigValidateInvalidValue, "router: secret resolver is required")
	case deps.Clients == nil:
		return nil, wperr.New(wperr.CodeConfigValidateInvalidValue, "router: client factory is required")
	case deps.Breakers == nil:
		return nil, wperr.New(wperr.CodeConfigValidateInvalidValue, "router: breaker set is required")
	case deps.Health == nil:
		return nil, wperr.New(wperr.CodeConfigValidateInvalidValue, "router: health tracker is required")
	case deps.Traces == nil:
		return nil, wperr.New(wperr.CodeConfigValidateInvalidValue, "router: trace recorder is required")
	}

	return &Router{
		cfg:         cfg,
		deps:        deps,
		fallback:    local.New(provider.Config{}),
		nowFunc:     time.Now,
		descriptors: make(map[string]Descriptor),
	}, nil
}

// SetProviders replaces the provider descriptors, typically after a
// configuration reload. Each id is tracked by the health tracker.
func (r *Router) SetProviders(descriptors map[string]Descriptor) {
	next := make(map[string]Descriptor, len(descriptors))
	for id, d := range descriptors {
		next[id] = d
		r.deps.Health.Track(id, health.KindProvider)
	}

	r.mu.Lock()
	r.descriptors = next
	r.mu.Unlock()
}

func (r *Router) descriptor(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[id]
	return d, ok
}

// DefaultIntent is the intent used when a request names none.
func (r *Router) DefaultIntent() string { return r.cfg.DefaultIntent }

// ProviderHealth combines tracker and breaker state for every configured
// provider.
func (r *Router) ProviderHealth() map[string]pkghealth.Metrics {
	r.mu.RLock()
	ids := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	out := make(map[string]pkghealth.Metrics, len(ids))
	for _, id := range ids {
		snap := r.deps.Breakers.Get(id).Snapshot()
		m := pkghealth.Metrics{
			State:         r.deps.Health.State(id),
			Breaker:       string(snap.State),
			CooldownUntil: snap.CooldownUntil,
		}
		if entry, ok := r.deps.Health.Get(id); ok {
			m.ConsecutiveErrors = entry.ConsecutiveErrors
			m.LastTransitionAt = entry.LastTransitionAt
			m.LastHeartbeatAt = entry.LastHeartbeatAt
		}
		m.Available = m.State.Usable() && snap.State != breaker.Open
		out[id] = m
	}
	return out
}
