// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package secrets

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileVault reads secrets from a YAML document of the form
//
//	secrets:
//	  anthropic_api_key: sk-ant-...
//
// The file is re-read when its modification time changes.
type FileVault struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	values  map[string]string
}

type vaultFile struct {
	Secrets map[string]string `yaml:"secrets"`
}

func NewFileVault(path string) *FileVault {
	return &FileVault{path: path}
}

func (v *FileVault) Name() SourceName { return SourceVault }

func (v *FileVault) Lookup(_ context.Context, name string) (string, bool, error) {
	if IsKeyringURI(name) {
		return "", false, nil
	}
	values, err := v.load()
	if err != nil {
		return "", false, err
	}
	val, ok := values[name]
	if !ok || val == "" {
		return "", false, nil
	}
	return val, true, nil
}

func (v *FileVault) load() (map[string]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	info, err := os.Stat(v.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			v.values = nil
			return nil, nil
		}
		return nil, wperr.Wrapf(err, wperr.CodeSecretStoreFailure, "stat vault %s", v.path)
	}
	if v.values != nil && info.ModTime().Equal(v.modTime) {
		return v.values, nil
	}

	if info.Mode().Perm()&0o077 != 0 {
		slog.Warn("secret vault has insecure permissions, secrets may be exposed to other users",
			"path", v.path,
			"mode", info.Mode(),
			"recommended", "0600",
		)
	}

	raw, err := os.ReadFile(v.path)
	if err != nil {
		return nil, wperr.Wrapf(err, wperr.CodeSecretStoreFailure, "reading vault %s", v.path)
	}
	var doc vaultFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, wperr.Wrapf(err, wperr.CodeSecretVaultInvalid, "parsing vault %s", v.path)
	}
	if doc.Secrets == nil {
		doc.Secrets = map[string]string{}
	}

	v.values = doc.Secrets
	v.modTime = info.ModTime()
	return v.values, nil
}
