// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package google

import (
	"google.golang.org/genai"

	"github.com/waypoint-dev/waypoint/internal/provider"
)

// BuildRequest exposes buildRequest for white-box testing.
func BuildRequest(req provider.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	return buildRequest(req)
}
