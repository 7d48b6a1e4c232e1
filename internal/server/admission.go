// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/waypoint-dev/waypoint/internal/hopguard"
	"github.com/waypoint-dev/waypoint/internal/ratelimit"
	"github.com/waypoint-dev/waypoint/internal/store"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

// Policy names recorded on admission traces.
const (
	PolicyHopGuard  = "hop_guard"
	PolicyRateLimit = "rate_limit"
)

const maxCorrelationID = 128

// caller identifies who sent a request, captured before huma decodes it.
type caller struct {
	key           string
	id            string
	correlationID string
	hopHeader     string
}

type callerKey struct{}

func callerMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := caller{
				key:       ratelimit.CallerKey(r, header),
				hopHeader: r.Header.Get(hopguard.Header),
			}
			if header != "" {
				c.id = strings.TrimSpace(r.Header.Get(header))
			}
			c.correlationID = truncateCorrelationID(strings.TrimSpace(r.Header.Get(HeaderCorrelationID)))
			if c.correlationID == "" {
				c.correlationID = middleware.GetReqID(r.Context())
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
		})
	}
}

// truncateCorrelationID caps id at maxCorrelationID bytes without splitting
// a multi-byte rune.
func truncateCorrelationID(id string) string {
	if len(id) <= maxCorrelationID {
		return id
	}
	cut := maxCorrelationID
	for cut > 0 && !utf8.RuneStart(id[cut]) {
		cut--
	}
	return id[:cut]
}

func callerFromContext(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

// admit applies the hop guard and then the rate limiter. A looping request
// is rejected before it can spend a token. It returns the hop count to
// carry on outbound calls.
func (s *Server) admit(ctx context.Context, c caller) (int, error) {
	hops, err := s.guard.Admit(c.hopHeader)
	if err != nil {
		class := types.ErrorNone
		if wperr.HasCode(err, wperr.CodeServerLoopDetected) {
			class = types.ErrorLoopDetected
		}
		s.recordPolicy(c, PolicyHopGuard, class, map[string]any{
			"hop_header": c.hopHeader,
			"max_hops":   s.guard.Max(),
			"reason":     string(wperr.CodeOf(err)),
		})
		slog.WarnContext(ctx, "request rejected by hop guard",
			"hop_header", c.hopHeader, "max_hops", s.guard.Max(), "correlation_id", c.correlationID)
		return 0, huma.Error400BadRequest(err.Error(), err)
	}

	if d := s.limiter.Allow(c.key); !d.Allowed {
		s.recordPolicy(c, PolicyRateLimit, types.ErrorRateLimited, map[string]any{
			"caller_hash": ratelimit.HashKey(c.key),
			"retry_after": d.RetryAfterSeconds(),
		})
		slog.WarnContext(ctx, "rate limit exceeded", "key_hash", ratelimit.HashKey(c.key), "retry_after", d.RetryAfterSeconds())
		return 0, tooManyRequests(d)
	}
	return hops, nil
}

func (s *Server) recordPolicy(c caller, policy string, class types.ErrorClass, inputs map[string]any) {
	s.metrics.ObserveRejection(policy)
	s.traces.Record(&store.DecisionTrace{
		ID:            uuid.NewString(),
		Timestamp:     s.nowFunc(),
		Type:          types.DecisionPolicy,
		CorrelationID: c.correlationID,
		Policy:        policy,
		Inputs:        inputs,
		Selected:      "reject",
		FallbackChain: []store.Attempt{},
		Outcome:       types.OutcomeFailure,
		ErrorClass:    class,
	})
}

func tooManyRequests(d ratelimit.Decision) error {
	err429 := huma.NewError(http.StatusTooManyRequests, "rate limit exceeded")
	return huma.ErrorWithHeaders(err429, http.Header{"Retry-After": []string{d.RetryAfterSeconds()}})
}
