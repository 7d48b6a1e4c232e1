// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package router

import "time"

// SetNowFunc overrides the router clock (for testing).
func (r *Router) SetNowFunc(fn func() time.Time) {
	r.nowFunc = fn
}
