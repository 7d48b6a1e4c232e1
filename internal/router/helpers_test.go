// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package router_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waypoint-dev/waypoint/internal/authority"
	"github.com/waypoint-dev/waypoint/internal/breaker"
	"github.com/waypoint-dev/waypoint/internal/health"
	"github.com/waypoint-dev/waypoint/internal/provider"
	"github.com/waypoint-dev/waypoint/internal/router"
	"github.com/waypoint-dev/waypoint/internal/secrets"
	"github.com/waypoint-dev/waypoint/internal/store"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

type staticChains struct {
	result authority.ChainResult
}

func (s *staticChains) Chain(context.Context, string) authority.ChainResult {
	return s.result
}

type mapSecrets map[string]string

func (m mapSecrets) Resolve(_ context.Context, name string) secrets.Resolution {
	v, ok := m[name]
	if !ok {
		return secrets.Resolution{}
	}
	return secrets.Resolution{Value: v, Source: secrets.SourceEnv, Found: true}
}

// scripted answers with the next queued reply; an exhausted script repeats
// the last entry.
type scripted struct {
	id string

	mu      sync.Mutex
	replies []func(ctx context.Context) (*provider.Completion, error)
	calls   int
	models  []string
}

func (s *scripted) Name() string { return s.id }
func (s *scripted) Close() error { return nil }

func (s *scripted) Complete(ctx context.Context, req provider.ChatRequest) (*provider.Completion, error) {
	s.mu.Lock()
	idx := min(s.calls, len(s.replies)-1)
	s.calls++
	s.models = append(s.models, req.Model)
	reply := s.replies[idx]
	s.mu.Unlock()
	return reply(ctx)
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func answer(content string) func(context.Context) (*provider.Completion, error) {
	return func(context.Context) (*provider.Completion, error) {
		return &provider.Completion{ID: "cmpl-1", Model: "m", Content: content, FinishReason: "stop",
			Usage: provider.Usage{InputTokens: 3, OutputTokens: 5}}, nil
	}
}

func fail(err error) func(context.Context) (*provider.Completion, error) {
	return func(context.Context) (*provider.Completion, error) { return nil, err }
}

func blockUntilDone(ctx context.Context) (*provider.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeClients struct {
	byID map[string]*scripted
}

func (f *fakeClients) Client(_ string, cfg provider.Config) (provider.Provider, error) {
	return f.byID[cfg.ID], nil
}

type traceLog struct {
	mu     sync.Mutex
	traces []*store.DecisionTrace
}

func (l *traceLog) Record(t *store.DecisionTrace) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.traces = append(l.traces, t)
}

func (l *traceLog) All() []*store.DecisionTrace {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*store.DecisionTrace(nil), l.traces...)
}

type fixture struct {
	router   *router.Router
	chains   *staticChains
	clients  *fakeClients
	secrets  mapSecrets
	breakers *breaker.Set
	tracker  *health.Tracker
	traces   *traceLog
}

func cloud(id string, order int) store.ProviderDescriptor {
	return store.ProviderDescriptor{ID: id, Kind: types.ProviderCloud, Order: order, Configured: true, Status: types.ProviderAvailable}
}

// newFixture wires a router over the given provider ids. Every id gets a
// credential and a scripted client that answers "ok from <id>".
func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()

	f := &fixture{
		chains:  &staticChains{},
		clients: &fakeClients{byID: make(map[string]*scripted)},
		secrets: mapSecrets{},
		traces:  &traceLog{},
	}
	chain := &store.ProviderChain{Intent: "chat"}
	descs := make(map[string]router.Descriptor, len(ids))
	for i, id := range ids {
		chain.Providers = append(chain.Providers, cloud(id, i))
		f.secrets[id+"_key"] = "sk-" + id
		f.clients.byID[id] = &scripted{id: id, replies: []func(context.Context) (*provider.Completion, error){answer("ok from " + id)}}
		descs[id] = router.Descriptor{Type: provider.TypeOpenAI, Secret: id + "_key"}
	}
	f.chains.result = authority.ChainResult{Chain: chain, Source: authority.SourceStore}

	var err error
	f.breakers, err = breaker.NewSet(breaker.DefaultConfig())
	require.NoError(t, err)
	f.tracker, err = health.New(health.DefaultConfig())
	require.NoError(t, err)

	f.router, err = router.New(router.Config{AttemptTimeout: 200 * time.Millisecond}, router.Deps{
		Chains:   f.chains,
		Secrets:  f.secrets,
		Clients:  f.clients,
		Breakers: f.breakers,
		Health:   f.tracker,
		Traces:   f.traces,
	})
	require.NoError(t, err)
	f.router.SetProviders(descs)
	return f
}

func (f *fixture) script(id string, replies ...func(context.Context) (*provider.Completion, error)) *scripted {
	s := f.clients.byID[id]
	s.replies = replies
	return s
}

func chatRequest() router.Request {
	return router.Request{
		ID:   "req-1",
		Hops: 1,
		Chat: provider.ChatRequest{Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: "hello"}}},
	}
}
