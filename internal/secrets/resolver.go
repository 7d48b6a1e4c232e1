// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package secrets

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultLookupTimeout = 2 * time.Second
	defaultCacheTTL      = 30 * time.Second
)

// Resolution is the outcome of resolving one secret name. Value is empty
// unless Found is true.
type Resolution struct {
	Value  string
	Source SourceName
	Found  bool
}

// LogValue keeps the secret value out of structured logs.
func (r Resolution) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("source", string(r.Source)),
		slog.Bool("found", r.Found),
	)
}

// ResolverConfig tunes a Resolver. Zero values select defaults.
type ResolverConfig struct {
	LookupTimeout time.Duration
	CacheTTL      time.Duration
}

// Resolver consults its sources in order and returns the first hit.
// Sources that fail or time out are skipped; absence is not an error.
type Resolver struct {
	sources []Source
	timeout time.Duration
	ttl     time.Duration
	nowFunc func() time.Time

	mu    sync.Mutex
	cache map[string]cachedResolution
}

type cachedResolution struct {
	res     Resolution
	expires time.Time
}

func NewResolver(cfg ResolverConfig, sources ...Source) *Resolver {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Resolver{
		sources: sources,
		timeout: cfg.LookupTimeout,
		ttl:     cfg.CacheTTL,
		nowFunc: time.Now,
		cache:   make(map[string]cachedResolution),
	}
}

// Resolve returns the value of name from the highest-priority source that
// has it.
func (r *Resolver) Resolve(ctx context.Context, name string) Resolution {
	if name == "" {
		return Resolution{Source: SourceNone}
	}

	now := r.nowFunc()
	r.mu.Lock()
	if c, ok := r.cache[name]; ok && now.Before(c.expires) {
		r.mu.Unlock()
		return c.res
	}
	r.mu.Unlock()

	res := Resolution{Source: SourceNone}
	unavailable := false
	for _, src := range r.sources {
		val, ok, err := r.lookup(ctx, src, name)
		if err != nil {
			slog.Debug("secret source unavailable, falling through",
				"name", name,
				"source", src.Name(),
				"error", err,
			)
			unavailable = true
			continue
		}
		if ok {
			res = Resolution{Value: val, Source: src.Name(), Found: true}
			break
		}
	}

	slog.Debug("secret resolved", "name", name, "result", res)

	// A miss is only cached when every source answered; a cancelled caller
	// or an unreachable source must not pin a false absence.
	if res.Found || (!unavailable && ctx.Err() == nil) {
		r.mu.Lock()
		r.cache[name] = cachedResolution{res: res, expires: now.Add(r.ttl)}
		r.mu.Unlock()
	}
	return res
}

// Forget drops any cached resolution for name.
func (r *Resolver) Forget(name string) {
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}

type lookupResult struct {
	val string
	ok  bool
	err error
}

// lookup bounds a single source call; keyring backends can block on D-Bus.
func (r *Resolver) lookup(ctx context.Context, src Source, name string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		val, ok, err := src.Lookup(ctx, name)
		done <- lookupResult{val: val, ok: ok, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.ok, res.err
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}
