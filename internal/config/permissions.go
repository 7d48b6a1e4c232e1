// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// groupOrOtherRead covers the 040 and 004 permission bits.
const groupOrOtherRead fs.FileMode = 0o044

// InsecurePermissions reports whether path is readable by group or others.
// A missing or unreadable file is not reported as insecure.
func InsecurePermissions(path string) (bool, fs.FileMode) {
	if path == "" {
		return false, 0
	}
	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("could not stat file for permission check", "path", path, "error", err)
		return false, 0
	}
	return info.Mode().Perm()&groupOrOtherRead != 0, info.Mode()
}

// WarnInsecurePermissions logs a warning when the config file at path is
// group- or world-readable. It never fails startup.
func WarnInsecurePermissions(path string) {
	if insecure, mode := InsecurePermissions(path); insecure {
		slog.Warn("config file has insecure permissions, provider settings may be exposed to other users",
			"path", path,
			"mode", mode,
			"recommended", "0600",
		)
	}
}
