// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package anthropic

import (
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/waypoint-dev/waypoint/internal/provider"
)

// BuildParams exposes buildParams for white-box testing.
func (p *Provider) BuildParams(req provider.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	return p.buildParams(req)
}
