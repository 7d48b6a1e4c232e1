// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package types

import (
	"strings"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// HealthState is the current condition of a tracked entity (provider, node or component).
type HealthState string

const (
	HealthOK         HealthState = "OK"
	HealthDegraded   HealthState = "DEGRADED"
	HealthStale      HealthState = "STALE"
	HealthDown       HealthState = "DOWN"
	HealthBlocked    HealthState = "BLOCKED"
	HealthRecovering HealthState = "RECOVERING"
)

// Valid reports whether s is a known health state.
func (s HealthState) Valid() bool {
	switch s {
	case HealthOK, HealthDegraded, HealthStale, HealthDown, HealthBlocked, HealthRecovering:
		return true
	default:
		return false
	}
}

// Usable reports whether traffic may be sent to an entity in this state.
func (s HealthState) Usable() bool {
	return s.Valid() && s != HealthDown && s != HealthBlocked
}

// ParseHealthState parses a case-insensitive string into a HealthState.
func ParseHealthState(s string) (HealthState, error) {
	st := HealthState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "invalid health state: %q", s)
	}
	return st, nil
}
