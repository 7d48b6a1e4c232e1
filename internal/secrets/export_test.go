// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package secrets

import "time"

// SetNowFunc overrides the resolver clock for cache expiry tests.
func (r *Resolver) SetNowFunc(fn func() time.Time) {
	r.nowFunc = fn
}

// NewEnvSourceWithLookup builds an EnvSource over a fake environment.
func NewEnvSourceWithLookup(prefix string, lookup func(string) (string, bool)) *EnvSource {
	return &EnvSource{prefix: prefix, lookup: lookup}
}
