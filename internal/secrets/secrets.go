// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package secrets resolves named credentials from a layered set of sources:
// the OS keyring first, then a YAML file vault, then the process environment.
// Values never leave this package except as the return value of Resolve.
package secrets

import "context"

// Store provides writable secret storage for operator tooling.
type Store interface {
	// Store saves a secret value under the given service and key.
	Store(service, key, value string) error

	// Retrieve fetches the secret value for the given service and key.
	// Returns CodeSecretNotFound (via wperr.HasCode) if the key does not exist.
	Retrieve(service, key string) (string, error)

	// Delete removes the secret for the given service and key.
	Delete(service, key string) error

	// List returns all key names stored under the given service.
	List(service string) ([]string, error)
}

// SourceName identifies where a resolved secret came from.
type SourceName string

const (
	SourceKeyring SourceName = "keyring"
	SourceVault   SourceName = "vault"
	SourceEnv     SourceName = "env"
	SourceNone    SourceName = "none"
)

// Source is a single read-only secret backend.
//
// Lookup returns ok=false with a nil error when the secret is absent. A
// non-nil error means the source could not be consulted at all.
type Source interface {
	Name() SourceName
	Lookup(ctx context.Context, name string) (value string, ok bool, err error)
}
