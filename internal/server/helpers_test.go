// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waypoint-dev/waypoint/internal/authority"
	"github.com/waypoint-dev/waypoint/internal/hopguard"
	"github.com/waypoint-dev/waypoint/internal/ratelimit"
	"github.com/waypoint-dev/waypoint/internal/router"
	"github.com/waypoint-dev/waypoint/internal/server"
	"github.com/waypoint-dev/waypoint/internal/store"
	"github.com/waypoint-dev/waypoint/internal/telemetry"
	pkghealth "github.com/waypoint-dev/waypoint/pkg/health"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

type fakeRouter struct {
	mu       sync.Mutex
	requests []router.Request
	resp     router.Response
	health   map[string]pkghealth.Metrics
}

func (f *fakeRouter) Route(_ context.Context, req router.Request) (router.Response, *store.DecisionTrace) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	resp := f.resp
	f.mu.Unlock()
	return resp, &store.DecisionTrace{ID: "trace-" + resp.Provider, Type: types.DecisionRouting, CorrelationID: req.CorrelationID}
}

func (f *fakeRouter) ProviderHealth() map[string]pkghealth.Metrics { return f.health }
func (f *fakeRouter) DefaultIntent() string { return "chat" }

func (f *fakeRouter) Requests() []router.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]router.Request(nil), f.requests...)
}

type fakeAuthority struct {
	pingErr error
	chain   authority.ChainResult
}

func (f *fakeAuthority) Chain(context.Context, string) authority.ChainResult { return f.chain }
func (f *fakeAuthority) Ping(context.Context) error { return f.pingErr }

type traceLog struct {
	mu     sync.Mutex
	traces []*store.DecisionTrace
}

func (l *traceLog) Record(t *store.DecisionTrace) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.traces = append(l.traces, t)
}

func (l *traceLog) OfType(typ types.DecisionType) []*store.DecisionTrace {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*store.DecisionTrace
	for _, t := range l.traces {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

type harness struct {
	srv       *server.Server
	router    *fakeRouter
	authority *fakeAuthority
	traces    *traceLog
	metrics   *telemetry.Metrics
	limiter   *ratelimit.Limiter
}

type harnessOption func(*server.Deps)

func withoutRouter() harnessOption {
	return func(d *server.Deps) { d.Router = nil }
}

func withLimiter(t *testing.T, rpm int) harnessOption {
	return func(d *server.Deps) {
		l, err := ratelimit.New(ratelimit.Config{RequestsPerMinute: rpm, Burst: rpm})
		require.NoError(t, err)
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		l.SetNowFunc(func() time.Time { return now })
		d.Limiter = l
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		router: &fakeRouter{
			resp: router.Response{
				ID: "cmpl-1", Provider: "openai", Model: "gpt-4o-mini", Content: "hello back",
				FinishReason: "stop", Latency: 12 * time.Millisecond,
			},
			health: map[string]pkghealth.Metrics{
				"openai": {State: types.HealthOK, Breaker: "closed", Available: true},
			},
		},
		authority: &fakeAuthority{chain: authority.ChainResult{
			Chain:  &store.ProviderChain{Intent: "chat", Providers: []store.ProviderDescriptor{{ID: "openai"}}},
			Source: authority.SourceStore,
		}},
		traces:  &traceLog{},
		metrics: telemetry.NewMetrics(),
	}

	guard, err := hopguard.New(hopguard.DefaultMaxHops)
	require.NoError(t, err)

	deps := server.Deps{
		Router:    h.router,
		Authority: h.authority,
		Guard:     guard,
		Traces:    h.traces,
		Metrics:   h.metrics,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.limiter = deps.Limiter

	h.srv, err = server.New(server.Config{
		ListenAddr:   "127.0.0.1:0",
		CallerHeader: "X-Caller-ID",
	}, deps)
	require.NoError(t, err)
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func chatBody(t *testing.T, body map[string]any) *bytes.Reader {
	t.Helper()
	if body == nil {
		body = map[string]any{"messages": []map[string]string{{"role": "user", "content": "hi"}}}
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func newChatRequest(t *testing.T, body map[string]any) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/chat", chatBody(t, body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
