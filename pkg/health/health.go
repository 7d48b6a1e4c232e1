// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package health

import (
	"time"

	"github.com/waypoint-dev/waypoint/pkg/types"
)

// Metrics exposes the current health of a provider for monitoring and
// operator visibility. All fields are point-in-time snapshots safe to
// serialize to JSON.
type Metrics struct {
	State             types.HealthState `json:"state"`
	Breaker           string            `json:"breaker"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	LastTransitionAt  time.Time         `json:"last_transition_at"`
	LastHeartbeatAt   *time.Time        `json:"last_heartbeat_at,omitempty"`
	CooldownUntil     *time.Time        `json:"cooldown_until,omitempty"`
	Available         bool              `json:"available"`
}
