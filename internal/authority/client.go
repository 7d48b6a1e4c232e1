// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package authority is the cached client in front of the authoritative
// store. Reads are bounded by a short timeout and deduplicated; when the
// store is slow or unreachable the client serves the cached value, then the
// last-known-good snapshot, then the configured seed chain. It never returns
// a store error to the request path.
package authority

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/waypoint-dev/waypoint/internal/health"
	"github.com/waypoint-dev/waypoint/internal/store"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

// ComponentName identifies the store in the health tracker.
const ComponentName = "authority"

// Source says where a returned value came from.
type Source string

const (
	SourceStore Source = "store"
	SourceCache Source = "cache"
	SourceLKG   Source = "last_known_good"
	SourceSeed  Source = "seed"
	SourceNone  Source = "none"
)

// Config tunes the client. Retention maps decision types to the age after
// which their traces are purged; a zero or missing entry keeps them.
type Config struct {
	CacheTTL      time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	RetryAfter    time.Duration
	PurgeInterval time.Duration
	Retention     map[types.DecisionType]time.Duration
}

// DefaultConfig returns the defaults used when configuration omits a value.
func DefaultConfig() Config {
	return Config{
		CacheTTL:      60 * time.Second,
		ReadTimeout:   250 * time.Millisecond,
		WriteTimeout:  time.Second,
		RetryAfter:    5 * time.Second,
		PurgeInterval: time.Hour,
		Retention: map[types.DecisionType]time.Duration{
			types.DecisionRouting:  720 * time.Hour,
			types.DecisionOpsQuery: 168 * time.Hour,
			types.DecisionPolicy:   2160 * time.Hour,
		},
	}
}

func (c Config) validate() error {
	switch {
	case c.CacheTTL <= 0:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "authority: cache ttl must be positive, got %s", c.CacheTTL)
	case c.ReadTimeout <= 0:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "authority: read timeout must be positive, got %s", c.ReadTimeout)
	case c.WriteTimeout <= 0:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "authority: write timeout must be positive, got %s", c.WriteTimeout)
	case c.RetryAfter < 0:
		return wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "authority: retry interval must not be negative, got %s", c.RetryAfter)
	}
	return nil
}

// ChainResult is a provider chain and its provenance. Stale is set whenever
// the chain did not come from a fresh store read; Age is then the time since
// it was last read from the store.
type ChainResult struct {
	Chain  *store.ProviderChain
	Source Source
	Stale  bool
	Age    time.Duration
}

// SeedFunc returns the configured chain for intent, or nil.
type SeedFunc func(intent string) *store.ProviderChain

// Option configures optional collaborators.
type Option func(*Client)

// WithSnapshots persists every fresh read as last-known-good.
func WithSnapshots(s *Snapshots) Option {
	return func(c *Client) { c.lkg = s }
}

// WithSeed sets the chain used when nothing else is available.
func WithSeed(fn SeedFunc) Option {
	return func(c *Client) { c.seed = fn }
}

// WithTracker reports store reachability and remote health reports to t.
func WithTracker(t *health.Tracker) Option {
	return func(c *Client) { c.tracker = t }
}

type cachedChain struct {
	chain     *store.ProviderChain
	fetchedAt time.Time
}

// Client is safe for concurrent use.
type Client struct {
	store   store.Authority
	cfg     Config
	lkg     *Snapshots
	seed    SeedFunc
	tracker *health.Tracker
	nowFunc func() time.Time
	group   singleflight.Group

	mu             sync.RWMutex
	chains         map[string]cachedChain
	flags          store.FeatureFlags
	flagsFetchedAt time.Time
	retryAt        time.Time
	lastErr        error
	lastOK         time.Time
	onRefresh      []func()
}

// New creates a client for st.
func New(st store.Authority, cfg Config, opts ...Option) (*Client, error) {
	if st == nil {
		return nil, wperr.New(wperr.CodeConfigValidateInvalidValue, "authority: store is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Client{
		store:   st,
		cfg:     cfg,
		nowFunc: time.Now,
		chains:  make(map[string]cachedChain),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracker != nil {
		c.tracker.Track(ComponentName, health.KindComponent)
	}
	return c, nil
}

// OnRefresh registers fn to run after every successful chain read, whether
// the store returned the chain or the seed stood in for a missing one. Must
// be called before the client is used concurrently.
func (c *Client) OnRefresh(fn func()) {
	c.onRefresh = append(c.onRefresh, fn)
}

func (c *Client) now() time.Time { return c.nowFunc() }

// Chain returns the provider chain for intent with feature flags applied.
// Concurrent misses for one intent share a single store read.
func (c *Client) Chain(ctx context.Context, intent string) ChainResult {
	now := c.now()

	c.mu.RLock()
	cached, ok := c.chains[intent]
	backingOff := now.Before(c.retryAt)
	c.mu.RUnlock()

	if ok && now.Sub(cached.fetchedAt) < c.cfg.CacheTTL {
		return ChainResult{Chain: cached.chain, Source: SourceCache}
	}
	if !backingOff {
		v, _, _ := c.group.Do("chain/"+intent, func() (any, error) {
			return c.fetchChain(ctx, intent), nil
		})
		if res, ok := v.(ChainResult); ok && res.Chain != nil {
			return res
		}
	}
	return c.degradedChain(intent)
}

// fetchChain reads intent from the store. A nil Chain in the result means
// the read failed. When the store has no chain for intent the seed chain
// is cached in its place.
func (c *Client) fetchChain(ctx context.Context, intent string) ChainResult {
	rctx, cancel := c.readContext(ctx)
	chain, err := c.store.GetProviderChain(rctx, intent)
	cancel()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !wperr.IsNotFound(err) {
			c.storeFailed(err, "get_provider_chain")
			return ChainResult{}
		}
		c.storeOK()
		res := c.cacheSeed(ctx, intent)
		c.refreshed()
		return res
	}
	c.storeOK()

	flags, _ := c.Flags(ctx)
	applied := applyFlags(chain, flags)

	now := c.now()
	c.mu.Lock()
	c.chains[intent] = cachedChain{chain: applied, fetchedAt: now}
	c.mu.Unlock()

	if c.lkg != nil {
		if err := c.lkg.SaveChain(chain, now); err != nil {
			slog.Warn("saving last-known-good chain", "intent", intent, "error", err)
		}
	}
	c.refreshed()
	return ChainResult{Chain: applied, Source: SourceStore}
}

func (c *Client) refreshed() {
	for _, fn := range c.onRefresh {
		fn()
	}
}

func (c *Client) cacheSeed(ctx context.Context, intent string) ChainResult {
	var chain *store.ProviderChain
	if c.seed != nil {
		chain = c.seed(intent)
	}
	if chain == nil {
		chain = &store.ProviderChain{Intent: intent}
	}
	flags, _ := c.Flags(ctx)
	applied := applyFlags(chain, flags)

	c.mu.Lock()
	c.chains[intent] = cachedChain{chain: applied, fetchedAt: c.now()}
	c.mu.Unlock()
	return ChainResult{Chain: applied, Source: SourceSeed}
}

func (c *Client) degradedChain(intent string) ChainResult {
	now := c.now()

	c.mu.RLock()
	cached, ok := c.chains[intent]
	c.mu.RUnlock()
	if ok {
		return ChainResult{Chain: cached.chain, Source: SourceCache, Stale: true, Age: now.Sub(cached.fetchedAt)}
	}

	if c.lkg != nil {
		chain, savedAt, found, err := c.lkg.LoadChain(intent)
		if err != nil {
			slog.Warn("loading last-known-good chain", "intent", intent, "error", err)
		}
		if found {
			flags, _ := c.Flags(context.Background())
			return ChainResult{Chain: applyFlags(chain, flags), Source: SourceLKG, Stale: true, Age: now.Sub(savedAt)}
		}
	}

	if c.seed != nil {
		if chain := c.seed(intent); chain != nil {
			flags, _ := c.Flags(context.Background())
			return ChainResult{Chain: applyFlags(chain, flags), Source: SourceSeed, Stale: true}
		}
	}
	return ChainResult{Chain: &store.ProviderChain{Intent: intent}, Source: SourceNone, Stale: true}
}

// Flags returns the feature flags, falling back like Chain. The bool
// reports whether the flags are stale.
func (c *Client) Flags(ctx context.Context) (store.FeatureFlags, bool) {
	now := c.now()

	c.mu.RLock()
	flags, fetchedAt, backingOff := c.flags, c.flagsFetchedAt, now.Before(c.retryAt)
	c.mu.RUnlock()

	if flags != nil && now.Sub(fetchedAt) < c.cfg.CacheTTL {
		return flags, false
	}
	if !backingOff {
		v, err, _ := c.group.Do("flags", func() (any, error) {
			return c.fetchFlags(ctx)
		})
		if err == nil {
			return v.(store.FeatureFlags), false
		}
	}

	if flags != nil {
		return flags, true
	}
	if c.lkg != nil {
		if saved, _, found, err := c.lkg.LoadFlags(); err == nil && found {
			return saved, true
		}
	}
	return store.FeatureFlags{}, true
}

func (c *Client) fetchFlags(ctx context.Context) (store.FeatureFlags, error) {
	ctx, cancel := c.readContext(ctx)
	defer cancel()

	flags, err := c.store.GetFeatureFlags(ctx)
	if err != nil {
		c.storeFailed(err, "get_feature_flags")
		return nil, err
	}
	c.storeOK()
	if flags == nil {
		flags = store.FeatureFlags{}
	}

	now := c.now()
	c.mu.Lock()
	c.flags = flags
	c.flagsFetchedAt = now
	c.mu.Unlock()

	if c.lkg != nil {
		if err := c.lkg.SaveFlags(flags, now); err != nil {
			slog.Warn("saving last-known-good flags", "error", err)
		}
	}
	return flags, nil
}

// SyncHealth reads the store's health reports and feeds them to the
// tracker: live reports count as heartbeats, DOWN reports as fatal errors.
func (c *Client) SyncHealth(ctx context.Context) error {
	ctx, cancel := c.readContext(ctx)
	defer cancel()

	reports, err := c.store.GetHealth(ctx)
	if err != nil {
		c.storeFailed(err, "get_health")
		return wperr.Wrap(err, wperr.CodeStoreAuthorityUnavailable, "reading health reports")
	}
	c.storeOK()
	if c.tracker == nil {
		return nil
	}

	for _, r := range reports {
		kind := health.KindNode
		if r.Kind == string(health.KindComponent) {
			kind = health.KindComponent
		}
		switch r.Status {
		case types.HealthDown:
			c.tracker.RecordError(r.Entity, kind, health.SeverityFatal, r.Detail)
		case types.HealthDegraded:
			c.tracker.Heartbeat(r.Entity, kind)
			c.tracker.RecordError(r.Entity, kind, health.SeverityRetryable, r.Detail)
		case types.HealthStale:
		default:
			c.tracker.Heartbeat(r.Entity, kind)
			c.tracker.RecordSuccess(r.Entity, kind, 0)
		}
	}
	return nil
}

// Refresh re-reads every cached intent, the flags and the health reports,
// bypassing the TTL. Errors are absorbed like any other read.
func (c *Client) Refresh(ctx context.Context) {
	c.mu.Lock()
	intents := make([]string, 0, len(c.chains))
	for intent := range c.chains {
		intents = append(intents, intent)
	}
	c.retryAt = time.Time{}
	c.mu.Unlock()
	sort.Strings(intents)

	_, _, _ = c.group.Do("flags", func() (any, error) {
		return c.fetchFlags(ctx)
	})
	for _, intent := range intents {
		_, _, _ = c.group.Do("chain/"+intent, func() (any, error) {
			return c.fetchChain(ctx, intent), nil
		})
	}
	if err := c.SyncHealth(ctx); err != nil {
		slog.Debug("health sync skipped", "error", err)
	}
}

// AppendDecisionTrace writes one trace with the write timeout. It is the
// Appender used by the trace writer.
func (c *Client) AppendDecisionTrace(ctx context.Context, trace *store.DecisionTrace) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()

	if err := c.store.AppendDecisionTrace(ctx, trace); err != nil {
		if !wperr.IsInvalidInput(err) {
			c.storeFailed(err, "append_decision_trace")
		}
		return err
	}
	c.storeOK()
	return nil
}

type purger interface {
	PurgeDecisionTraces(ctx context.Context, decisionType types.DecisionType, olderThan time.Time) (int64, error)
}

// Purge deletes traces older than their type's retention. Stores without
// purge support are skipped.
func (c *Client) Purge(ctx context.Context) (int64, error) {
	p, ok := c.store.(purger)
	if !ok {
		return 0, nil
	}

	now := c.now()
	var total int64
	var errs []error
	for _, dt := range types.DecisionTypes() {
		keep := c.cfg.Retention[dt]
		if keep <= 0 {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
		n, err := p.PurgeDecisionTraces(wctx, dt, now.Add(-keep))
		cancel()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}
	if total > 0 {
		slog.Info("purged decision traces", "count", total)
	}
	return total, wperr.Join(errs...)
}

// Status summarises store reachability for /health.
type Status struct {
	Reachable   bool      `json:"reachable"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// Status reports the outcome of the most recent store call.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Status{Reachable: c.lastErr == nil, LastSuccess: c.lastOK}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Ping checks the store within the read timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.readContext(ctx)
	defer cancel()
	if err := c.store.Ping(ctx); err != nil {
		c.storeFailed(err, "ping")
		return wperr.Wrap(err, wperr.CodeStoreAuthorityUnavailable, "authoritative store unreachable")
	}
	c.storeOK()
	return nil
}

// Run refreshes every cache TTL and purges on the purge interval until ctx
// is cancelled.
func (c *Client) Run(ctx context.Context) error {
	refresh := time.NewTicker(c.cfg.CacheTTL)
	defer refresh.Stop()

	var purge <-chan time.Time
	if c.cfg.PurgeInterval > 0 {
		t := time.NewTicker(c.cfg.PurgeInterval)
		defer t.Stop()
		purge = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			c.Refresh(ctx)
		case <-purge:
			if _, err := c.Purge(ctx); err != nil {
				slog.Warn("decision trace purge failed", "error", err)
			}
		}
	}
}

// readContext bounds a store read. It detaches from the caller's
// cancellation because a singleflight read is shared by every waiter.
func (c *Client) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ReadTimeout)
}

func (c *Client) storeOK() {
	now := c.now()
	c.mu.Lock()
	wasDown := c.lastErr != nil
	c.lastErr = nil
	c.lastOK = now
	c.retryAt = time.Time{}
	c.mu.Unlock()

	if wasDown {
		slog.Info("authoritative store reachable again")
	}
	if c.tracker != nil {
		c.tracker.RecordSuccess(ComponentName, health.KindComponent, 0)
	}
}

func (c *Client) storeFailed(err error, op string) {
	now := c.now()
	c.mu.Lock()
	c.lastErr = err
	c.retryAt = now.Add(c.cfg.RetryAfter)
	c.mu.Unlock()

	slog.Warn("authoritative store read failed, serving cached data",
		"op", op,
		"error", err,
	)
	if c.tracker != nil {
		c.tracker.RecordError(ComponentName, health.KindComponent, health.SeverityRetryable, op)
	}
}

// applyFlags returns a copy of chain with flag-disabled providers marked
// not configured.
func applyFlags(chain *store.ProviderChain, flags store.FeatureFlags) *store.ProviderChain {
	out := &store.ProviderChain{
		Intent:    chain.Intent,
		UpdatedAt: chain.UpdatedAt,
		Providers: make([]store.ProviderDescriptor, len(chain.Providers)),
	}
	copy(out.Providers, chain.Providers)
	for i, p := range out.Providers {
		if !flags.Enabled(store.ProviderFlag(p.ID), true) {
			out.Providers[i].Configured = false
		}
	}
	sort.SliceStable(out.Providers, func(i, j int) bool {
		return out.Providers[i].Order < out.Providers[j].Order
	})
	return out
}
