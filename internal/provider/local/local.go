// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package local implements the in-process degraded responder. It never
// touches the network and always answers, so the router can fall back to
// it when every remote provider is unavailable.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/waypoint-dev/waypoint/internal/provider"
)

// FallbackName identifies the terminal fallback in responses and traces.
const FallbackName = "local_fallback"

// Model is reported as the model of every local completion.
const Model = "local-degraded"

// FinishReason marks completions produced without a real model.
const FinishReason = "degraded"

// DefaultMessage is the fixed reply returned in degraded mode.
const DefaultMessage = "All upstream language model providers are currently unavailable. " +
	"This is an automated degraded response; please retry shortly."

// Responder returns a fixed reply for every request.
type Responder struct {
	name    string
	message string
}

// New creates a responder. cfg.ID names it; an empty ID means FallbackName.
func New(cfg provider.Config) *Responder {
	name := cfg.ID
	if name == "" {
		name = FallbackName
	}
	return &Responder{name: name, message: DefaultMessage}
}

// Build adapts New to provider.Builder. A local provider needs no credential.
func Build(cfg provider.Config) (provider.Provider, error) {
	return New(cfg), nil
}

func (r *Responder) Name() string { return r.name }

func (r *Responder) Close() error { return nil }

// Complete returns the fixed reply. The completion id is derived from the
// last user message so identical requests produce identical responses.
func (r *Responder) Complete(ctx context.Context, req provider.ChatRequest) (*provider.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Reply(req), nil
}

// Reply is Complete without the context check; it cannot fail.
func (r *Responder) Reply(req provider.ChatRequest) *provider.Completion {
	sum := sha256.Sum256([]byte(provider.LastUserMessage(req.Messages)))
	return &provider.Completion{
		ID:           "local-" + hex.EncodeToString(sum[:8]),
		Model:        Model,
		Content:      r.message,
		FinishReason: FinishReason,
	}
}
