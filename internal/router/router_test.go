// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package router_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypoint-dev/waypoint/internal/authority"
	"github.com/waypoint-dev/waypoint/internal/breaker"
	"github.com/waypoint-dev/waypoint/internal/hopguard"
	"github.com/waypoint-dev/waypoint/internal/provider"
	"github.com/waypoint-dev/waypoint/internal/provider/local"
	"github.com/waypoint-dev/waypoint/internal/router"
	"github.com/waypoint-dev/waypoint/internal/store"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

func timeout() error {
	return wperr.New(wperr.CodeProviderUpstreamTimeout, "upstream timed out")
}

func attemptsOf(dt *store.DecisionTrace) []store.AttemptResult {
	out := make([]store.AttemptResult, 0, len(dt.FallbackChain))
	for _, a := range dt.FallbackChain {
		out = append(out, a.Result)
	}
	return out
}

func TestNew_RejectsMissingDeps(t *testing.T) {
	_, err := router.New(router.Config{AttemptTimeout: time.Second}, router.Deps{})
	require.Error(t, err)
	assert.Equal(t, wperr.CodeConfigValidateInvalidValue, wperr.CodeOf(err))

	_, err = router.New(router.Config{}, router.Deps{})
	require.Error(t, err)
}

func TestRoute_FirstProviderServes(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")

	resp, dt := f.router.Route(context.Background(), chatRequest())

	assert.False(t, resp.Degraded)
	assert.False(t, resp.Fallback)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "ok from openai", resp.Content)
	assert.Equal(t, 5, resp.Usage.OutputTokens)

	require.NotNil(t, dt)
	require.NoError(t, dt.Validate())
	assert.Equal(t, types.DecisionRouting, dt.Type)
	assert.Equal(t, types.OutcomeSuccess, dt.Outcome)
	assert.Equal(t, "openai", dt.Selected)
	assert.Equal(t, "chain:chat", dt.Policy)
	assert.Equal(t, []store.AttemptResult{store.AttemptSuccess}, attemptsOf(dt))
	assert.Equal(t, types.ErrorNone, dt.ErrorClass)
	assert.Equal(t, "req-1", dt.Inputs["request_id"])
	assert.Zero(t, f.clients.byID["anthropic"].Calls())
	assert.Len(t, f.traces.All(), 1)
}

func TestRoute_RetryableFailureFallsThrough(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	f.script("openai", fail(timeout()))

	resp, dt := f.router.Route(context.Background(), chatRequest())

	assert.False(t, resp.Degraded)
	assert.True(t, resp.Fallback)
	assert.Equal(t, "anthropic", resp.Provider)

	assert.Equal(t, types.OutcomeFallback, dt.Outcome)
	assert.Equal(t, "anthropic", dt.Selected)
	require.Len(t, dt.FallbackChain, 2)
	assert.Equal(t, "openai", dt.FallbackChain[0].Provider)
	assert.Equal(t, store.AttemptRetryableError, dt.FallbackChain[0].Result)
	assert.Equal(t, types.ErrorRetryable, dt.FallbackChain[0].ErrorClass)
	assert.Equal(t, "anthropic", dt.FallbackChain[1].Provider)
	assert.Equal(t, store.AttemptSuccess, dt.FallbackChain[1].Result)
	assert.Equal(t, types.ErrorRetryable, dt.ErrorClass)

	assert.Equal(t, types.HealthDegraded, f.tracker.State("openai"))
	assert.Equal(t, 1, f.breakers.Get("openai").Snapshot().ConsecutiveFailures)
}

func TestRoute_AllProvidersUnavailable(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	f.script("openai", fail(timeout()))
	f.script("anthropic", fail(wperr.New(wperr.CodeProviderUpstreamFailure, "bad gateway")))

	resp, dt := f.router.Route(context.Background(), chatRequest())

	assert.True(t, resp.Degraded)
	assert.Equal(t, router.ReasonAllUnavailable, resp.FallbackReason)
	assert.Equal(t, local.FallbackName, resp.Provider)
	assert.Equal(t, local.FinishReason, resp.FinishReason)
	assert.NotEmpty(t, resp.Content)

	assert.Equal(t, types.OutcomeFallback, dt.Outcome)
	assert.Equal(t, local.FallbackName, dt.Selected)
	assert.Equal(t, router.ReasonAllUnavailable, dt.FallbackReason)
	assert.Equal(t, []store.AttemptResult{store.AttemptRetryableError, store.AttemptRetryableError}, attemptsOf(dt))
}

func TestRoute_UnavailableChainAnswersLocally(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	for i := range f.chains.result.Chain.Providers {
		f.chains.result.Chain.Providers[i].Status = types.ProviderUnavailable
	}

	resp, dt := f.router.Route(context.Background(), chatRequest())

	assert.True(t, resp.Degraded)
	assert.Less(t, resp.Latency, 50*time.Millisecond)
	assert.Equal(t, types.OutcomeFallback, dt.Outcome)
	assert.Equal(t, []store.AttemptResult{store.AttemptSkipped, store.AttemptSkipped}, attemptsOf(dt))
	assert.Equal(t, string(types.ProviderUnavailable), dt.FallbackChain[0].Reason)
	assert.Zero(t, f.clients.byID["openai"].Calls())
}

func TestRoute_EmptyOrUnconfiguredChain(t *testing.T) {
	tests := []struct {
		name  string
		chain *store.ProviderChain
		want  int
	}{
		{name: "nil chain", chain: nil},
		{name: "empty chain", chain: &store.ProviderChain{Intent: "chat"}},
		{
			name: "nothing configured",
			chain: &store.ProviderChain{Intent: "chat", Providers: []store.ProviderDescriptor{
				{ID: "openai", Kind: types.ProviderCloud, Configured: false},
				{ID: "anthropic", Kind: types.ProviderCloud, Configured: false},
			}},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "openai", "anthropic")
			f.chains.result = authority.ChainResult{Chain: tt.chain, Source: authority.SourceStore}

			resp, dt := f.router.Route(context.Background(), chatRequest())

			assert.True(t, resp.Degraded)
			assert.Equal(t, router.ReasonAllUnavailable, resp.FallbackReason)
			assert.Equal(t, types.OutcomeFallback, dt.Outcome)
			assert.Equal(t, local.FallbackName, dt.Selected)
			assert.Len(t, dt.FallbackChain, tt.want)
			assert.NotNil(t, dt.FallbackChain)
			assert.Zero(t, f.clients.byID["openai"].Calls())
		})
	}
}

func TestRoute_UnconfiguredSkipIsNotAFallback(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	f.chains.result.Chain.Providers[0].Configured = false

	resp, dt := f.router.Route(context.Background(), chatRequest())

	assert.Equal(t, "anthropic", resp.Provider)
	assert.False(t, resp.Fallback)
	assert.Equal(t, types.OutcomeSuccess, dt.Outcome)
	assert.Equal(t, "not_configured", dt.FallbackChain[0].Reason)
}

func TestRoute_MalformedResponseIsRetryable(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	f.script("openai", answer("   "))

	resp, dt := f.router.Route(context.Background(), chatRequest())

	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, store.AttemptRetryableError, dt.FallbackChain[0].Result)
	assert.Equal(t, string(wperr.CodeProviderResponseInvalid), dt.FallbackChain[0].Reason)
	assert.Equal(t, 1, f.breakers.Get("openai").Snapshot().ConsecutiveFailures)
}

func TestRoute_MissingCredentialBlocksProvider(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	delete(f.secrets, "openai_key")

	resp, dt := f.router.Route(context.Background(), chatRequest())

	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, types.OutcomeFallback, dt.Outcome)
	assert.Equal(t, store.AttemptSkipped, dt.FallbackChain[0].Result)
	assert.Equal(t, "credential_absent", dt.FallbackChain[0].Reason)
	assert.Equal(t, types.ErrorFatal, dt.FallbackChain[0].ErrorClass)
	assert.Equal(t, types.HealthBlocked, f.tracker.State("openai"))
	assert.Zero(t, f.clients.byID["openai"].Calls())
	assert.Equal(t, breaker.Closed, f.breakers.Get("openai").State())

	metrics := f.router.ProviderHealth()
	assert.False(t, metrics["openai"].Available)
	assert.True(t, metrics["anthropic"].Available)
}

func TestRoute_FatalErrorTakesProviderDown(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	openai := f.script("openai", fail(wperr.New(wperr.CodeProviderAuthUnauthorized, "bad key")))

	_, dt := f.router.Route(context.Background(), chatRequest())
	assert.Equal(t, store.AttemptFatalError, dt.FallbackChain[0].Result)
	assert.Equal(t, types.HealthDown, f.tracker.State("openai"))
	assert.Zero(t, f.breakers.Get("openai").Snapshot().ConsecutiveFailures)

	resp, dt := f.router.Route(context.Background(), chatRequest())
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, store.AttemptSkipped, dt.FallbackChain[0].Result)
	assert.Equal(t, "unhealthy:DOWN", dt.FallbackChain[0].Reason)
	assert.Equal(t, 1, openai.Calls())
}

func TestRoute_RequestScopedErrorsLeaveHealthAlone(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	f.script("openai", fail(wperr.New(wperr.CodeProviderRequestInvalid, "context too long")))

	resp, dt := f.router.Route(context.Background(), chatRequest())

	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, types.ErrorFatal, dt.FallbackChain[0].ErrorClass)
	assert.Equal(t, types.HealthOK, f.tracker.State("openai"))
}

func TestRoute_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	openai := f.script("openai", fail(timeout()))

	for range 5 {
		resp, _ := f.router.Route(context.Background(), chatRequest())
		require.Equal(t, "anthropic", resp.Provider)
	}
	assert.Equal(t, breaker.Open, f.breakers.Get("openai").State())
	assert.Equal(t, 5, openai.Calls())

	resp, dt := f.router.Route(context.Background(), chatRequest())
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, "breaker_open", dt.FallbackChain[0].Reason)
	assert.Equal(t, 5, openai.Calls())
	assert.False(t, f.router.ProviderHealth()["openai"].Available)
}

func TestRoute_BreakerAdmitsOneAttemptAfterCooldown(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var elapsed atomic.Int64
	f.breakers.SetNowFunc(func() time.Time { return base.Add(time.Duration(elapsed.Load())) })

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	held := func(ctx context.Context) (*provider.Completion, error) {
		entered <- struct{}{}
		select {
		case <-release:
			return answer("ok from openai")(ctx)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	replies := make([]func(context.Context) (*provider.Completion, error), 0, 6)
	for range 5 {
		replies = append(replies, fail(timeout()))
	}
	openai := f.script("openai", append(replies, held)...)

	for range 5 {
		f.router.Route(context.Background(), chatRequest())
	}
	require.Equal(t, breaker.Open, f.breakers.Get("openai").State())

	elapsed.Store(int64(29 * time.Second))
	_, dt := f.router.Route(context.Background(), chatRequest())
	assert.Equal(t, "breaker_open", dt.FallbackChain[0].Reason)
	assert.Equal(t, 5, openai.Calls())

	elapsed.Store(int64(31 * time.Second))
	require.Equal(t, breaker.HalfOpen, f.breakers.Get("openai").State())

	first := make(chan router.Response, 1)
	go func() {
		resp, _ := f.router.Route(context.Background(), chatRequest())
		first <- resp
	}()
	<-entered

	var wg sync.WaitGroup
	others := make([]router.Response, 8)
	for i := range others {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			others[i], _ = f.router.Route(context.Background(), chatRequest())
		}(i)
	}
	wg.Wait()
	for _, resp := range others {
		assert.Equal(t, "anthropic", resp.Provider)
	}
	assert.Equal(t, 6, openai.Calls())

	close(release)
	resp := <-first
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, breaker.Closed, f.breakers.Get("openai").State())

	resp, _ = f.router.Route(context.Background(), chatRequest())
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 7, openai.Calls())
}

func TestRoute_AttemptTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	f.script("openai", blockUntilDone)

	resp, dt := f.router.Route(context.Background(), chatRequest())

	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, store.AttemptRetryableError, dt.FallbackChain[0].Result)
	assert.Equal(t, string(wperr.CodeProviderUpstreamTimeout), dt.FallbackChain[0].Reason)
}

func TestRoute_CallerCancellationRecordsFailure(t *testing.T) {
	f := newFixture(t, "openai", "anthropic")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.script("openai", func(attemptCtx context.Context) (*provider.Completion, error) {
		cancel()
		return blockUntilDone(attemptCtx)
	})

	resp, dt := f.router.Route(ctx, chatRequest())

	assert.True(t, resp.Degraded)
	assert.Equal(t, router.ReasonCancelled, resp.FallbackReason)
	assert.Equal(t, types.OutcomeFailure, dt.Outcome)
	assert.Equal(t, types.ErrorCancelled, dt.ErrorClass)
	assert.Equal(t, "openai", dt.Selected)
	assert.Equal(t, []store.AttemptResult{store.AttemptCancelled}, attemptsOf(dt))
	assert.Zero(t, f.clients.byID["anthropic"].Calls())
	assert.Equal(t, types.HealthOK, f.tracker.State("openai"))
	assert.Len(t, f.traces.All(), 1)
}

func TestRoute_CancelledBeforeAnyAttempt(t *testing.T) {
	f := newFixture(t, "openai")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, dt := f.router.Route(ctx, chatRequest())

	assert.Equal(t, types.OutcomeFailure, dt.Outcome)
	assert.Equal(t, local.FallbackName, dt.Selected)
	assert.Empty(t, dt.FallbackChain)
}

func TestRoute_InvalidRequest(t *testing.T) {
	f := newFixture(t, "openai")
	req := chatRequest()
	req.Chat.Messages = nil

	resp, dt := f.router.Route(context.Background(), req)

	assert.True(t, resp.Degraded)
	assert.Equal(t, router.ReasonInvalidRequest, resp.FallbackReason)
	assert.Equal(t, types.OutcomeFailure, dt.Outcome)
	assert.Zero(t, f.clients.byID["openai"].Calls())
}

func TestRoute_ModelHintAndHops(t *testing.T) {
	f := newFixture(t, "openai")
	f.chains.result.Chain.Providers[0].ModelHint = "gpt-4o-mini"

	var hops int
	openai := f.script("openai", func(ctx context.Context) (*provider.Completion, error) {
		hops, _ = hopguard.FromContext(ctx)
		return answer("hi")(ctx)
	})

	req := chatRequest()
	req.Hops = 2
	f.router.Route(context.Background(), req)
	req.Chat.Model = "gpt-4.1"
	f.router.Route(context.Background(), req)

	assert.Equal(t, 2, hops)
	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4.1"}, openai.models)
}

func TestRoute_TraceReportsStaleChain(t *testing.T) {
	f := newFixture(t, "openai")
	f.chains.result.Source = authority.SourceCache
	f.chains.result.Stale = true
	f.chains.result.Age = 90 * time.Second

	req := chatRequest()
	req.CorrelationID = "corr-9"
	_, dt := f.router.Route(context.Background(), req)

	assert.Equal(t, "corr-9", dt.CorrelationID)
	assert.Equal(t, "cache", dt.Inputs["chain_source"])
	assert.Equal(t, true, dt.Inputs["chain_stale"])
	assert.Equal(t, int64(90000), dt.Inputs["chain_age_ms"])
}

func TestRoute_Latency(t *testing.T) {
	f := newFixture(t, "openai")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.router.SetNowFunc(func() time.Time {
		now = now.Add(10 * time.Millisecond)
		return now
	})

	resp, dt := f.router.Route(context.Background(), chatRequest())

	assert.Equal(t, int64(30), dt.LatencyMS)
	assert.Equal(t, 30*time.Millisecond, resp.Latency)
	assert.Equal(t, int64(10), dt.FallbackChain[0].LatencyMS)
}
