// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

//go:embed waypoint.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/waypoint/waypoint.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", wperr.Errorf(wperr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "waypoint", "waypoint.yaml"), nil
}

// WriteDefault writes the commented default config to path unless a file
// already exists there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, wperr.Errorf(wperr.CodeConfigLoadReadFailure, "creating config directory: %w", err)
	}
	if err := os.WriteFile(path, DefaultConfigYAML, 0o600); err != nil {
		return false, wperr.Errorf(wperr.CodeConfigLoadReadFailure, "writing default config: %w", err)
	}
	return true, nil
}

// BootstrapConfig writes the default config to DefaultConfigPath if no file
// exists yet. Returns the path written, or "" when nothing was written;
// failures are logged and skipped.
func BootstrapConfig() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}

	written, err := WriteDefault(cfgPath)
	if err != nil {
		slog.Debug("skipping config bootstrap", "path", cfgPath, "error", err)
		return ""
	}
	if !written {
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}
