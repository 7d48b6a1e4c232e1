// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package store

import (
	"sync"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// StorageConfig controls which backend the store factory uses.
type StorageConfig struct {
	Backend string // "sqlite" is the only built-in backend.
	Path    string // Backend-specific location, relative paths resolve under the data dir.
}

// AuthorityFactory opens an authoritative store under dataPath.
type AuthorityFactory func(cfg *StorageConfig, dataPath string) (Admin, error)

var (
	factories   = map[string]AuthorityFactory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers the factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, factory AuthorityFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// NewAuthority opens the configured authoritative store.
func NewAuthority(cfg *StorageConfig, dataPath string) (Admin, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, wperr.Errorf(wperr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	return factory(cfg, dataPath)
}
