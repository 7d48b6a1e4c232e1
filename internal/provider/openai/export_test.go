// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package openai

import (
	openaisdk "github.com/openai/openai-go"
	"github.com/waypoint-dev/waypoint/internal/provider"
)

// BuildParams exposes buildParams for white-box testing.
func (p *Provider) BuildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	return p.buildParams(req)
}
