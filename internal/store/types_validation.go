// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package store

import (
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// Validate checks that the chain is well formed: an intent, unique provider
// ids and known enum values.
func (c ProviderChain) Validate() error {
	if c.Intent == "" {
		return wperr.New(wperr.CodeStoreInvalidInput, "provider chain: intent is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return wperr.Errorf(wperr.CodeStoreInvalidInput, "provider chain %s: entry %d has no id", c.Intent, i)
		}
		if seen[p.ID] {
			return wperr.Errorf(wperr.CodeStoreInvalidInput, "provider chain %s: duplicate provider %q", c.Intent, p.ID)
		}
		seen[p.ID] = true
		if !p.Kind.Valid() {
			return wperr.Errorf(wperr.CodeStoreInvalidInput, "provider chain %s: %s has invalid kind %q", c.Intent, p.ID, p.Kind)
		}
		if !p.Status.Valid() {
			return wperr.Errorf(wperr.CodeStoreInvalidInput, "provider chain %s: %s has invalid status %q", c.Intent, p.ID, p.Status)
		}
	}
	return nil
}

// Validate checks the fields every trace must carry.
func (t DecisionTrace) Validate() error {
	if t.ID == "" {
		return wperr.New(wperr.CodeStoreInvalidInput, "decision trace: ID is required")
	}
	if t.Timestamp.IsZero() {
		return wperr.New(wperr.CodeStoreInvalidInput, "decision trace: Timestamp is required", wperr.FieldTraceID(t.ID))
	}
	if !t.Type.Valid() {
		return wperr.Errorf(wperr.CodeStoreInvalidInput, "decision trace %s: invalid type %q", t.ID, t.Type)
	}
	if !t.Outcome.Valid() {
		return wperr.Errorf(wperr.CodeStoreInvalidInput, "decision trace %s: invalid outcome %q", t.ID, t.Outcome)
	}
	return nil
}

// Validate checks that a health report names a known entity state.
func (r HealthReport) Validate() error {
	if r.Entity == "" {
		return wperr.New(wperr.CodeStoreInvalidInput, "health report: entity is required")
	}
	if !r.Status.Valid() {
		return wperr.Errorf(wperr.CodeStoreInvalidInput, "health report %s: invalid status %q", r.Entity, r.Status)
	}
	return nil
}
