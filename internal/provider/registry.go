// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package provider

import (
	"crypto/sha256"
	"sort"
	"sync"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// Config is what a Builder needs to construct a client for one provider id.
type Config struct {
	ID      string
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string
}

// Builder constructs a Provider of one vendor type.
type Builder func(cfg Config) (Provider, error)

type cachedClient struct {
	provider Provider
	keySum   [sha256.Size]byte
	baseURL  string
}

// Registry maps vendor types to builders and caches one client per
// provider id. A client is rebuilt when its credential or endpoint changes.
type Registry struct {
	mu       sync.Mutex
	builders map[string]Builder
	clients  map[string]*cachedClient
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]Builder),
		clients:  make(map[string]*cachedClient),
	}
}

// RegisterType adds a builder for a vendor type.
func (r *Registry) RegisterType(typ string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[typ] = b
}

// Types lists the registered vendor types, sorted.
func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.builders))
	for typ := range r.builders {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Client returns the cached client for cfg.ID, building it with the
// builder for typ on first use or when the key or endpoint changed.
func (r *Registry) Client(typ string, cfg Config) (Provider, error) {
	sum := sha256.Sum256([]byte(cfg.APIKey))

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[cfg.ID]; ok && c.keySum == sum && c.baseURL == cfg.BaseURL {
		return c.provider, nil
	}

	build, ok := r.builders[typ]
	if !ok {
		return nil, wperr.New(wperr.CodeProviderNotFound, "no builder for provider type: "+typ,
			wperr.FieldProvider(cfg.ID), wperr.Field("type", typ))
	}
	p, err := build(cfg)
	if err != nil {
		return nil, err
	}

	if old, ok := r.clients[cfg.ID]; ok {
		_ = old.provider.Close()
	}
	r.clients[cfg.ID] = &cachedClient{provider: p, keySum: sum, baseURL: cfg.BaseURL}
	return p, nil
}

// Forget closes and drops the cached client for id.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		_ = c.provider.Close()
		delete(r.clients, id)
	}
}

// Close closes every cached client.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, c := range r.clients {
		if err := c.provider.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.clients, id)
	}
	return wperr.Join(errs...)
}
