// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package openrouter adapts OpenRouter's OpenAI-compatible API.
package openrouter

import (
	"github.com/openai/openai-go/option"

	"github.com/waypoint-dev/waypoint/internal/provider"
	"github.com/waypoint-dev/waypoint/internal/provider/openai"
)

const (
	baseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is used when neither the request nor the configuration names one.
	DefaultModel = "anthropic/claude-sonnet-4-5"

	appTitle = "waypoint"
)

// New creates an OpenRouter provider. Returns an error if the API key is missing.
func New(cfg provider.Config) (*openai.Provider, error) {
	return openai.NewCompatible(provider.TypeOpenRouter, cfg, baseURL, DefaultModel,
		option.WithHeader("X-Title", appTitle))
}

// Build adapts New to provider.Builder.
func Build(cfg provider.Config) (provider.Provider, error) {
	return New(cfg)
}
