// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/waypoint-dev/waypoint/internal/authority"
	"github.com/waypoint-dev/waypoint/internal/store"
	pkghealth "github.com/waypoint-dev/waypoint/pkg/health"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

// Overall health statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// ServiceHealth is the state of one dependency.
type ServiceHealth struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
}

// ChainHealth describes the provider chain /chat would use right now.
type ChainHealth struct {
	Intent    string `json:"intent"`
	Source    string `json:"source" doc:"store, cache, last_known_good, seed or none"`
	Stale     bool   `json:"stale"`
	AgeMS     int64  `json:"age_ms" doc:"Age of the cached chain when it is stale"`
	Providers int    `json:"providers"`
}

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status    string                       `json:"status" enum:"healthy,degraded"`
	Degraded  bool                         `json:"degraded"`
	Message   string                       `json:"message,omitempty"`
	Services  map[string]ServiceHealth     `json:"services"`
	Chain     ChainHealth                  `json:"chain"`
	Providers map[string]pkghealth.Metrics `json:"providers,omitempty"`
	TraceID   string                       `json:"trace_id"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

func (s *Server) registerHealthRoute() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Gateway health",
		Description: "Always answers 200. degraded=true when the store is unreachable or no provider is usable.",
		Tags:        []string{"system"},
	}, s.handleHealth)
}

func (s *Server) handleHealth(ctx context.Context, _ *struct{}) (*HealthResponse, error) {
	start := s.nowFunc()
	c := callerFromContext(ctx)

	body := HealthBody{Services: make(map[string]ServiceHealth)}
	var problems []string

	pingStart := s.nowFunc()
	pingErr := s.authority.Ping(ctx)
	storeHealth := ServiceHealth{Status: "ok", LatencyMS: s.nowFunc().Sub(pingStart).Milliseconds()}
	if pingErr != nil {
		storeHealth.Status = "unreachable"
		storeHealth.Detail = pingErr.Error()
		problems = append(problems, "authoritative store unreachable")
	}
	body.Services[authority.ComponentName] = storeHealth

	intent := "chat"
	if s.chat != nil {
		intent = s.chat.DefaultIntent()
	}
	chain := s.authority.Chain(ctx, intent)
	body.Chain = ChainHealth{
		Intent: intent,
		Source: string(chain.Source),
		Stale:  chain.Stale,
	}
	if chain.Chain != nil {
		body.Chain.Providers = len(chain.Chain.Providers)
	}
	if chain.Stale {
		body.Chain.AgeMS = chain.Age.Milliseconds()
	}
	s.metrics.SetAuthorityStale(chain.Stale)
	switch {
	case chain.Stale:
		problems = append(problems, fmt.Sprintf("serving stale provider chain from %s (age %s)",
			chain.Source, chain.Age.Round(time.Second)))
	case chain.Source == authority.SourceSeed && pingErr != nil:
		problems = append(problems, "serving configured seed chain")
	case chain.Source == authority.SourceNone:
		problems = append(problems, "no provider chain available")
	}

	available := 0
	if s.chat == nil {
		body.Services["router"] = ServiceHealth{Status: "unavailable"}
		problems = append(problems, "router unavailable")
	} else {
		body.Services["router"] = ServiceHealth{Status: "ok"}
		body.Providers = s.chat.ProviderHealth()
		ids := make([]string, 0, len(body.Providers))
		for id := range body.Providers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			m := body.Providers[id]
			status := strings.ToLower(string(m.State))
			if m.Breaker != "" && m.Breaker != "closed" {
				status += "/breaker_" + m.Breaker
			}
			body.Services["provider:"+id] = ServiceHealth{Status: status}
			if m.Available {
				available++
			}
		}
		if available == 0 {
			problems = append(problems, "no provider available; answering from local fallback")
		}
	}

	body.Degraded = len(problems) > 0
	body.Status = StatusHealthy
	if body.Degraded {
		body.Status = StatusDegraded
		body.Message = strings.Join(problems, "; ")
	}

	dt := &store.DecisionTrace{
		ID:            uuid.NewString(),
		Timestamp:     start,
		Type:          types.DecisionOpsQuery,
		CorrelationID: c.correlationID,
		Policy:        "health",
		Inputs: map[string]any{
			"chain_intent":        intent,
			"chain_source":        body.Chain.Source,
			"chain_stale":         chain.Stale,
			"chain_age_ms":        body.Chain.AgeMS,
			"store_reachable":     pingErr == nil,
			"providers_available": available,
		},
		Selected:      body.Status,
		FallbackChain: []store.Attempt{},
		Outcome:       types.OutcomeSuccess,
		LatencyMS:     s.nowFunc().Sub(start).Milliseconds(),
	}
	if body.Degraded {
		dt.Outcome = types.OutcomeFallback
		dt.FallbackReason = body.Message
		if pingErr != nil {
			dt.ErrorClass = types.ErrorStoreUnavailable
		}
	}
	s.traces.Record(dt)
	body.TraceID = dt.ID

	if body.Degraded {
		slog.DebugContext(ctx, "health degraded", "message", body.Message, "trace_id", dt.ID)
	}
	return &HealthResponse{Body: body}, nil
}
