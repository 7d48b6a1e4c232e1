// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/waypoint-dev/waypoint/internal/telemetry"
	pkghealth "github.com/waypoint-dev/waypoint/pkg/health"
)

// TelemetryBody is the JSON rendering of /telemetry.
type TelemetryBody struct {
	telemetry.Snapshot
	Providers map[string]pkghealth.Metrics `json:"providers,omitempty"`
	Error     string                       `json:"error,omitempty"`
}

func (s *Server) registerTelemetryRoute() {
	s.router.Get("/telemetry", s.handleTelemetry)

	// The Prometheus branch needs the raw ResponseWriter, so the route is
	// plain chi and only documented through huma.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "telemetry",
		Method:      http.MethodGet,
		Path:        "/telemetry",
		Summary:     "Gateway counters",
		Description: "JSON by default; Prometheus text exposition when Accept: text/plain.",
		Tags:        []string{"system"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Request counters, per-provider errors and latency, fallback rate and dropped traces",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Type: "object"}},
					"text/plain":       {Schema: &huma.Schema{Type: "string"}},
				},
			},
		},
	})
}

func wantsPrometheus(accept string) bool {
	return strings.Contains(accept, "text/plain") || strings.Contains(accept, "application/openmetrics-text")
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if wantsPrometheus(r.Header.Get("Accept")) {
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}

	var body TelemetryBody
	snap, err := s.metrics.Snapshot()
	if err != nil {
		slog.Warn("telemetry snapshot incomplete", "error", err)
		body.Error = err.Error()
	}
	body.Snapshot = snap
	if s.chat != nil {
		body.Providers = s.chat.ProviderHealth()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("writing telemetry response failed", "error", err)
	}
}
