// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvSource reads secrets from environment variables named
// prefix + upper-cased name, with '-', '.' and '/' mapped to '_'.
type EnvSource struct {
	prefix string
	lookup func(string) (string, bool)
}

func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{prefix: prefix, lookup: os.LookupEnv}
}

func (e *EnvSource) Name() SourceName { return SourceEnv }

func (e *EnvSource) Lookup(_ context.Context, name string) (string, bool, error) {
	if IsKeyringURI(name) {
		return "", false, nil
	}
	val, ok := e.lookup(e.VarName(name))
	if !ok || val == "" {
		return "", false, nil
	}
	return val, true, nil
}

// VarName returns the environment variable consulted for name.
func (e *EnvSource) VarName(name string) string {
	return e.prefix + envReplacer.Replace(strings.ToUpper(name))
}

var envReplacer = strings.NewReplacer("-", "_", ".", "_", "/", "_")
