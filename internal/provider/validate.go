// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// Vendor types accepted in provider configuration.
const (
	TypeAnthropic  = "anthropic"
	TypeOpenAI     = "openai"
	TypeOpenRouter = "openrouter"
	TypeGoogle     = "google"
	TypeLocal      = "local"
)

type keyCheck struct {
	url     string
	headers map[string]string
}

func keyCheckFor(typ, key string) (keyCheck, bool) {
	switch typ {
	case TypeAnthropic:
		return keyCheck{
			url: "https://api.anthropic.com/v1/models",
			headers: map[string]string{
				"x-api-key":         key,
				"anthropic-version": "2023-06-01",
			},
		}, true
	case TypeOpenAI:
		return keyCheck{
			url:     "https://api.openai.com/v1/models",
			headers: map[string]string{"Authorization": "Bearer " + key},
		}, true
	case TypeGoogle:
		// The Generative Language API authenticates via query parameter.
		return keyCheck{url: "https://generativelanguage.googleapis.com/v1/models?key=" + key}, true
	case TypeOpenRouter:
		return keyCheck{
			url:     "https://openrouter.ai/api/v1/models",
			headers: map[string]string{"Authorization": "Bearer " + key},
		}, true
	default:
		return keyCheck{}, false
	}
}

// ValidateKey makes a lightweight call to the vendor's models endpoint to
// confirm that key is accepted. baseURL, when set, replaces the default
// endpoint (for testing or self-hosted gateways).
func ValidateKey(ctx context.Context, client *http.Client, typ, key, baseURL string) error {
	check, ok := keyCheckFor(typ, key)
	if !ok {
		return wperr.Errorf(wperr.CodeProviderConfigInvalid, "unknown provider type: %s", typ)
	}
	if baseURL != "" {
		check.url = baseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.url, nil)
	if err != nil {
		return wperr.Errorf(wperr.CodeProviderRequestInvalid, "building validation request: %w", err)
	}
	for k, v := range check.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return TransportError(typ, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return StatusError(typ, resp.StatusCode, fmt.Errorf("%s key validation failed (HTTP %d)", typ, resp.StatusCode))
	}
	return nil
}
