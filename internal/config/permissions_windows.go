// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

//go:build windows

package config

import (
	"io/fs"
	"log/slog"
)

// InsecurePermissions always reports false on Windows, which uses ACLs
// rather than mode bits.
func InsecurePermissions(path string) (bool, fs.FileMode) {
	if path != "" {
		slog.Debug("permission check not implemented on Windows", "path", path)
	}
	return false, 0
}

// WarnInsecurePermissions is a no-op on Windows.
func WarnInsecurePermissions(path string) {
	InsecurePermissions(path)
}
