// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package sqlite

import (
	"os"
	"path/filepath"

	"github.com/waypoint-dev/waypoint/internal/store"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", newAuthority)
}

func newAuthority(cfg *store.StorageConfig, dataPath string) (store.Admin, error) {
	path := cfg.Path
	if path == "" {
		path = "waypoint.db"
	}
	if !filepath.IsAbs(path) && dataPath != "" {
		path = filepath.Join(dataPath, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, wperr.Errorf(wperr.CodeStoreDatabaseFailure, "creating data directory: %w", err)
	}
	return NewAuthorityStore(path)
}
