// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package authority

import "time"

// SetNowFunc replaces the client's clock.
func (c *Client) SetNowFunc(fn func() time.Time) {
	c.nowFunc = fn
}
