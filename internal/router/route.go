// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/waypoint-dev/waypoint/internal/authority"
	"github.com/waypoint-dev/waypoint/internal/health"
	"github.com/waypoint-dev/waypoint/internal/hopguard"
	"github.com/waypoint-dev/waypoint/internal/provider"
	"github.com/waypoint-dev/waypoint/internal/provider/local"
	"github.com/waypoint-dev/waypoint/internal/store"
	"github.com/waypoint-dev/waypoint/internal/telemetry"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

// Skip reasons recorded on attempts that were never sent.
const (
	skipNotConfigured = "not_configured"
	skipUnknown       = "unknown_provider"
	skipUnhealthy     = "unhealthy"
	skipBreakerOpen   = "breaker_open"
	skipNoCredential  = "credential_absent"
	skipBuildFailed   = "client_unavailable"
)

// routeState accumulates one request's attempts.
type routeState struct {
	attempts  []store.Attempt
	lastClass types.ErrorClass
	cancelled bool
	selected  string
	// rerouted is set once an eligible provider was passed over.
	rerouted bool
}

func (s *routeState) add(a store.Attempt) {
	s.attempts = append(s.attempts, a)
}

// Route serves req from the first provider in its chain that answers and
// returns the response with the decision trace that was recorded for it.
func (r *Router) Route(ctx context.Context, req Request) (Response, *store.DecisionTrace) {
	start := r.nowFunc()
	if req.Intent == "" {
		req.Intent = r.cfg.DefaultIntent
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx, span := telemetry.Tracer().Start(ctx, "router.route", trace.WithAttributes(
		attribute.String("waypoint.request_id", req.ID),
		attribute.String("waypoint.intent", req.Intent),
		attribute.Int("waypoint.hops", req.Hops),
	))
	defer span.End()

	chain := r.deps.Chains.Chain(ctx, req.Intent)
	state := &routeState{}

	var resp Response
	var served bool
	if err := req.Chat.Validate(); err != nil {
		state.lastClass = types.ErrorFatal
		resp = r.degraded(req, ReasonInvalidRequest)
	} else {
		for _, d := range chain.Chain.Providers {
			if ctx.Err() != nil {
				state.cancelled = true
				break
			}
			if resp, served = r.try(ctx, req, d, state); served || state.cancelled {
				break
			}
		}
		if !served {
			reason := ReasonAllUnavailable
			if state.cancelled {
				reason = ReasonCancelled
			}
			resp = r.degraded(req, reason)
		}
	}

	outcome := types.OutcomeSuccess
	switch {
	case state.cancelled || (!served && resp.FallbackReason == ReasonInvalidRequest):
		outcome = types.OutcomeFailure
	case !served:
		outcome = types.OutcomeFallback
		r.deps.Metrics.ObserveFallback(resp.FallbackReason)
	case state.rerouted:
		outcome = types.OutcomeFallback
		resp.Fallback = true
	}

	selected := state.selected
	if selected == "" {
		selected = local.FallbackName
	}
	errClass := types.ErrorNone
	if outcome != types.OutcomeSuccess {
		errClass = state.lastClass
	}
	if state.cancelled {
		errClass = types.ErrorCancelled
	}

	elapsed := r.nowFunc().Sub(start)
	resp.Latency = elapsed

	dt := &store.DecisionTrace{
		ID:             uuid.NewString(),
		Timestamp:      start,
		Type:           types.DecisionRouting,
		CorrelationID:  req.CorrelationID,
		Policy:         "chain:" + req.Intent,
		Inputs:         r.inputs(req, chain.Source, chain.Stale, chain.Age),
		Selected:       selected,
		FallbackChain:  state.attempts,
		Outcome:        outcome,
		FallbackReason: resp.FallbackReason,
		ErrorClass:     errClass,
		LatencyMS:      elapsed.Milliseconds(),
	}
	if dt.FallbackChain == nil {
		dt.FallbackChain = []store.Attempt{}
	}
	r.deps.Traces.Record(dt)
	r.deps.Metrics.ObserveRequest(string(outcome))

	span.SetAttributes(
		attribute.String("waypoint.selected", selected),
		attribute.String("waypoint.outcome", string(outcome)),
		attribute.Int("waypoint.attempts", len(state.attempts)),
	)
	if resp.Degraded {
		span.SetStatus(codes.Error, resp.FallbackReason)
	}

	slog.Debug("request routed",
		"request_id", req.ID,
		"trace_id", dt.ID,
		"intent", req.Intent,
		"selected", selected,
		"outcome", outcome,
		"latency_ms", dt.LatencyMS,
	)
	return resp, dt
}

// try makes at most one attempt against d. It returns served=true with the
// response when the provider answered.
func (r *Router) try(ctx context.Context, req Request, d store.ProviderDescriptor, state *routeState) (Response, bool) {
	if !d.Eligible() {
		reason := skipNotConfigured
		if d.Configured {
			reason = string(d.Status)
		}
		state.add(store.Attempt{Provider: d.ID, Result: store.AttemptSkipped, Reason: reason})
		return Response{}, false
	}

	desc, ok := r.descriptor(d.ID)
	if !ok {
		if d.Kind != types.ProviderLocal {
			r.skip(state, d.ID, skipUnknown, types.ErrorFatal)
			return Response{}, false
		}
		desc = Descriptor{Type: provider.TypeLocal}
	}

	if !r.deps.Health.Usable(d.ID) {
		r.skip(state, d.ID, skipUnhealthy+":"+string(r.deps.Health.State(d.ID)), types.ErrorNone)
		return Response{}, false
	}
	b := r.deps.Breakers.Get(d.ID)
	if !b.Allow() {
		r.skip(state, d.ID, skipBreakerOpen, types.ErrorNone)
		return Response{}, false
	}

	var apiKey string
	if desc.Type != provider.TypeLocal {
		res := r.deps.Secrets.Resolve(ctx, desc.Secret)
		if !res.Found {
			b.Release()
			if ctx.Err() != nil {
				state.cancelled = true
				return Response{}, false
			}
			if err := r.deps.Health.Block(d.ID, health.KindProvider, skipNoCredential); err != nil {
				slog.Debug("provider not blocked", "provider", d.ID, "error", err)
			}
			r.skip(state, d.ID, skipNoCredential, types.ErrorFatal)
			r.deps.Metrics.ObserveProviderError(d.ID, string(types.ErrorFatal))
			return Response{}, false
		}
		apiKey = res.Value
	}

	client, err := r.deps.Clients.Client(desc.Type, provider.Config{
		ID:      d.ID,
		APIKey:  apiKey,
		BaseURL: desc.Endpoint,
		Model:   desc.Model,
	})
	if err != nil {
		b.Release()
		r.deps.Health.RecordError(d.ID, health.KindProvider, health.SeverityFatal, err.Error())
		r.skip(state, d.ID, skipBuildFailed, types.ErrorFatal)
		r.deps.Metrics.ObserveProviderError(d.ID, string(types.ErrorFatal))
		return Response{}, false
	}

	chat := req.Chat
	callerModel := chat.Model != ""
	if !callerModel {
		chat.Model = d.ModelHint
	}

	comp, latency, err := r.attempt(ctx, req, d.ID, client, chat)
	if err == nil {
		b.RecordSuccess()
		r.deps.Health.RecordSuccess(d.ID, health.KindProvider, latency)
		state.add(store.Attempt{Provider: d.ID, Result: store.AttemptSuccess, LatencyMS: latency.Milliseconds()})
		state.selected = d.ID
		r.deps.Metrics.ObserveAttempt(d.ID, string(store.AttemptSuccess), latency)
		return Response{
			ID:           comp.ID,
			Provider:     d.ID,
			Model:        comp.Model,
			Content:      comp.Content,
			FinishReason: comp.FinishReason,
			Usage:        comp.Usage,
		}, true
	}

	class := provider.Classify(err)
	if class == types.ErrorCancelled && ctx.Err() == nil {
		// The attempt's own context ended, not the caller's.
		class = types.ErrorRetryable
	}
	attempt := store.Attempt{Provider: d.ID, ErrorClass: class, Reason: reasonOf(err), LatencyMS: latency.Milliseconds()}

	switch class {
	case types.ErrorCancelled:
		b.Release()
		attempt.Result = store.AttemptCancelled
		state.cancelled = true
		state.selected = d.ID
	case types.ErrorFatal:
		b.Release()
		attempt.Result = store.AttemptFatalError
		if !requestScoped(err, callerModel) {
			r.deps.Health.RecordError(d.ID, health.KindProvider, health.SeverityFatal, attempt.Reason)
		}
	default:
		b.RecordFailure()
		attempt.Result = store.AttemptRetryableError
		sev := health.SeverityRetryable
		if provider.IsConnectionRefused(err) {
			sev = health.SeverityFatal
		}
		r.deps.Health.RecordError(d.ID, health.KindProvider, sev, attempt.Reason)
	}

	state.add(attempt)
	if class != types.ErrorCancelled {
		state.lastClass = class
		state.rerouted = true
	}
	r.deps.Metrics.ObserveAttempt(d.ID, string(attempt.Result), latency)
	r.deps.Metrics.ObserveProviderError(d.ID, string(class))

	slog.Warn("provider attempt failed",
		"provider", d.ID,
		"request_id", req.ID,
		"class", class,
		"latency_ms", attempt.LatencyMS,
		"error", err,
	)
	return Response{}, false
}

// attempt calls client under the per-attempt timeout and the request's
// hop count.
func (r *Router) attempt(ctx context.Context, req Request, id string, client provider.Provider, chat provider.ChatRequest) (*provider.Completion, time.Duration, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "provider.complete", trace.WithAttributes(
		attribute.String("waypoint.provider", id),
		attribute.String("waypoint.model", chat.Model),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	ctx = hopguard.WithHops(ctx, req.Hops)

	started := r.nowFunc()
	comp, err := client.Complete(ctx, chat)
	if err == nil {
		err = provider.CheckCompletion(id, comp)
	}
	latency := r.nowFunc().Sub(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(wperr.CodeOf(err)))
		return nil, latency, err
	}
	span.SetAttributes(
		attribute.Int("waypoint.input_tokens", comp.Usage.InputTokens),
		attribute.Int("waypoint.output_tokens", comp.Usage.OutputTokens),
	)
	return comp, latency, nil
}

// skip records an attempt that was never sent. Only skips caused by the
// provider's own state count as a reroute.
func (r *Router) skip(state *routeState, id, reason string, class types.ErrorClass) {
	state.add(store.Attempt{Provider: id, Result: store.AttemptSkipped, Reason: reason, ErrorClass: class})
	state.rerouted = true
	if class != types.ErrorNone {
		state.lastClass = class
	}
	r.deps.Metrics.ObserveAttempt(id, string(store.AttemptSkipped), 0)
}

func (r *Router) degraded(req Request, reason string) Response {
	comp := r.fallback.Reply(req.Chat)
	return Response{
		ID:             comp.ID,
		Provider:       local.FallbackName,
		Model:          comp.Model,
		Content:        comp.Content,
		FinishReason:   comp.FinishReason,
		Degraded:       true,
		FallbackReason: reason,
	}
}

func (r *Router) inputs(req Request, source authority.Source, stale bool, age time.Duration) map[string]any {
	in := map[string]any{
		"request_id":   req.ID,
		"intent":       req.Intent,
		"hops":         req.Hops,
		"messages":     len(req.Chat.Messages),
		"chain_source": string(source),
		"chain_stale":  stale,
	}
	if req.CallerID != "" {
		in["caller"] = req.CallerID
	}
	if req.Chat.Model != "" {
		in["model"] = req.Chat.Model
	}
	if req.Chat.MaxTokens > 0 {
		in["max_tokens"] = req.Chat.MaxTokens
	}
	if stale {
		in["chain_age_ms"] = age.Milliseconds()
	}
	return in
}

// requestScoped reports whether a fatal error belongs to this request
// rather than to the provider: the upstream rejected the request itself, or
// a caller-chosen model does not exist there.
func requestScoped(err error, callerModel bool) bool {
	switch wperr.CodeOf(err) {
	case wperr.CodeProviderRequestInvalid:
		return true
	case wperr.CodeProviderConfigInvalid:
		return callerModel
	}
	return false
}

func reasonOf(err error) string {
	if code := wperr.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return string(wperr.CodeProviderUpstreamTimeout)
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "error"
}
