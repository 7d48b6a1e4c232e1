// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/waypoint-dev/waypoint/internal/authority"
	"github.com/waypoint-dev/waypoint/internal/breaker"
	"github.com/waypoint-dev/waypoint/internal/config"
	"github.com/waypoint-dev/waypoint/internal/health"
	"github.com/waypoint-dev/waypoint/internal/hopguard"
	"github.com/waypoint-dev/waypoint/internal/provider"
	anthropicprov "github.com/waypoint-dev/waypoint/internal/provider/anthropic"
	googleprov "github.com/waypoint-dev/waypoint/internal/provider/google"
	localprov "github.com/waypoint-dev/waypoint/internal/provider/local"
	openaiprov "github.com/waypoint-dev/waypoint/internal/provider/openai"
	openrouterprov "github.com/waypoint-dev/waypoint/internal/provider/openrouter"
	"github.com/waypoint-dev/waypoint/internal/ratelimit"
	"github.com/waypoint-dev/waypoint/internal/router"
	"github.com/waypoint-dev/waypoint/internal/secrets"
	"github.com/waypoint-dev/waypoint/internal/server"
	"github.com/waypoint-dev/waypoint/internal/store"
	_ "github.com/waypoint-dev/waypoint/internal/store/sqlite" // register sqlite backend
	"github.com/waypoint-dev/waypoint/internal/telemetry"
	"github.com/waypoint-dev/waypoint/internal/tracewriter"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

// Gateway holds all wired subsystems and manages their lifecycle.
type Gateway struct {
	Server    *server.Server
	Store     store.Admin
	Snapshots *authority.Snapshots
	Authority *authority.Client
	Breakers  *breaker.Set
	Health    *health.Tracker
	Secrets   *secrets.Resolver
	Providers *provider.Registry
	Router    *router.Router
	Traces    *tracewriter.Writer
	Limiter   *ratelimit.Limiter
	Metrics   *telemetry.Metrics

	cfg             atomic.Pointer[config.Config]
	shutdownTracing func(context.Context) error
}

// builtinProviders maps provider types to their constructors.
// Declared as a variable so tests can inject failing builders.
var builtinProviders = map[string]provider.Builder{
	provider.TypeAnthropic:  anthropicprov.Build,
	provider.TypeOpenAI:     openaiprov.Build,
	provider.TypeOpenRouter: openrouterprov.Build,
	provider.TypeGoogle:     googleprov.Build,
	provider.TypeLocal:      localprov.Build,
}

// WireGateway creates all subsystems and wires them together.
// The dataDir is the root directory for all persistent state; span output
// goes to traceOut when tracing is enabled.
func WireGateway(ctx context.Context, cfg *config.Config, dataDir string, traceOut io.Writer) (*Gateway, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, wperr.Errorf(wperr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	gw := &Gateway{Metrics: telemetry.NewMetrics()}
	gw.cfg.Store(cfg)
	ok := false
	defer func() {
		if !ok {
			_ = gw.Close()
		}
	}()

	shutdown, err := telemetry.InitTracing(cfg.Telemetry.Tracing, version, traceOut)
	if err != nil {
		return nil, err
	}
	gw.shutdownTracing = shutdown

	// 1. Authoritative store and the cached client in front of it.
	gw.Store, err = store.NewAuthority(&store.StorageConfig{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
	}, dataDir)
	if err != nil {
		return nil, wperr.Wrapf(err, wperr.CodeCLISetupFailure, "opening authoritative store")
	}

	lkgPath := cfg.Authority.LKGPath
	if lkgPath != "" && !filepath.IsAbs(lkgPath) {
		lkgPath = filepath.Join(dataDir, lkgPath)
	}
	gw.Snapshots, err = authority.OpenSnapshots(lkgPath)
	if err != nil {
		return nil, wperr.Wrapf(err, wperr.CodeCLISetupFailure, "opening last-known-good snapshots")
	}

	// 2. Health tracker and per-provider breakers.
	gw.Health, err = health.New(healthConfig(cfg))
	if err != nil {
		return nil, err
	}
	gw.Health.SetLogger(slog.Default())
	gw.Health.OnTransition(func(tr health.Transition) {
		gw.Metrics.ObserveHealthTransition(string(tr.Kind), string(tr.To))
	})

	gw.Breakers, err = breaker.NewSet(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.FailureWindow,
		BaseCooldown:     cfg.Breaker.BaseCooldown,
		MaxCooldown:      cfg.Breaker.MaxCooldown,
	})
	if err != nil {
		return nil, err
	}
	gw.Breakers.OnTransition(func(id string, from, to breaker.State) {
		slog.Info("circuit breaker transition", "provider", id, "from", from, "to", to)
		gw.Metrics.SetBreakerState(id, string(to), []string{string(breaker.Closed), string(breaker.Open), string(breaker.HalfOpen)})
	})

	gw.Authority, err = authority.New(gw.Store, authorityConfig(cfg),
		authority.WithSnapshots(gw.Snapshots),
		authority.WithSeed(seedChains(gw.cfg.Load)),
		authority.WithTracker(gw.Health),
	)
	if err != nil {
		return nil, err
	}
	// Down and blocked providers are reconsidered after every fresh chain read.
	gw.Authority.OnRefresh(func() { gw.Health.ResetEntities(health.KindProvider) })

	// 3. Decision trace writer.
	gw.Traces, err = tracewriter.New(gw.Authority, tracewriter.Config{
		BufferSize:    cfg.TraceWriter.BufferSize,
		BatchSize:     cfg.TraceWriter.BatchSize,
		FlushInterval: cfg.TraceWriter.FlushInterval,
		WriteTimeout:  cfg.Authority.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	gw.Traces.OnDrop(gw.Metrics.TracesDropped)

	// 4. Secrets and provider clients.
	gw.Secrets = newResolver(cfg)
	gw.Providers = provider.NewRegistry()
	for typ, build := range builtinProviders {
		gw.Providers.RegisterType(typ, build)
	}

	// 5. Router.
	gw.Router, err = router.New(router.Config{
		AttemptTimeout: cfg.Router.AttemptTimeout,
		DefaultIntent:  cfg.Router.DefaultIntent,
	}, router.Deps{
		Chains:   gw.Authority,
		Secrets:  gw.Secrets,
		Clients:  gw.Providers,
		Breakers: gw.Breakers,
		Health:   gw.Health,
		Traces:   gw.Traces,
		Metrics:  gw.Metrics,
	})
	if err != nil {
		return nil, err
	}
	gw.Router.SetProviders(descriptors(cfg))

	// 6. Admission and HTTP server.
	guard, err := hopguard.New(cfg.HopGuard.MaxHops)
	if err != nil {
		return nil, err
	}
	gw.Limiter, err = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		MaxCallers:        cfg.RateLimit.MaxCallers,
	})
	if err != nil {
		return nil, err
	}

	gw.Server, err = server.New(server.Config{
		ListenAddr:     cfg.Networking.Listen,
		CORSOrigins:    cfg.Networking.CORSOrigins,
		TrustedProxies: cfg.Networking.TrustedProxies,
		CallerHeader:   cfg.RateLimit.CallerHeader,
		Version:        version,
	}, server.Deps{
		Router:    gw.Router,
		Authority: gw.Authority,
		Guard:     guard,
		Limiter:   gw.Limiter,
		Traces:    gw.Traces,
		Metrics:   gw.Metrics,
	})
	if err != nil {
		return nil, wperr.Wrapf(err, wperr.CodeCLISetupFailure, "creating server")
	}

	ok = true
	return gw, nil
}

// Reload applies a changed configuration to the parts that support it
// without a restart: provider descriptors and the cached chain.
func (gw *Gateway) Reload(ctx context.Context, cfg *config.Config) {
	prev := gw.cfg.Swap(cfg)
	gw.Router.SetProviders(descriptors(cfg))
	for id := range prev.Providers {
		gw.Providers.Forget(id)
	}
	gw.Health.ResetEntities(health.KindProvider)
	gw.Authority.Refresh(ctx)
	slog.Info("configuration reloaded", "providers", len(cfg.Providers))
}

// Close releases all resources held by the gateway.
func (gw *Gateway) Close() error {
	var errs []error
	if gw.Providers != nil {
		errs = append(errs, gw.Providers.Close())
	}
	if gw.Snapshots != nil {
		errs = append(errs, gw.Snapshots.Close())
	}
	if gw.Store != nil {
		errs = append(errs, gw.Store.Close())
	}
	if gw.shutdownTracing != nil {
		errs = append(errs, gw.shutdownTracing(context.Background()))
	}
	return wperr.Join(errs...)
}

func authorityConfig(cfg *config.Config) authority.Config {
	ac := authority.DefaultConfig()
	ac.CacheTTL = cfg.Authority.CacheTTL
	ac.ReadTimeout = cfg.Authority.ReadTimeout
	ac.WriteTimeout = cfg.Authority.WriteTimeout
	ac.Retention = map[types.DecisionType]time.Duration{
		types.DecisionRouting:  cfg.Authority.Retention.Routing,
		types.DecisionOpsQuery: cfg.Authority.Retention.OpsQuery,
		types.DecisionPolicy:   cfg.Authority.Retention.Policy,
	}
	return ac
}

func healthConfig(cfg *config.Config) health.Config {
	hc := health.DefaultConfig()
	hc.StaleAfter = cfg.Health.StaleAfter
	hc.DownAfter = cfg.Health.DownAfter
	hc.DegradedTimeout = cfg.Health.DegradedTimeout
	hc.RecoveryProbes = cfg.Health.RecoveryProbes
	hc.HighLatency = cfg.Health.HighLatency
	hc.SweepInterval = cfg.Health.SweepInterval
	return hc
}

// newResolver layers the keyring, the optional file vault and the
// environment, in that order.
func newResolver(cfg *config.Config) *secrets.Resolver {
	sources := []secrets.Source{
		secrets.NewKeyringSource(secretStoreFactory(), cfg.Secrets.KeyringService),
	}
	if cfg.Secrets.VaultFile != "" {
		sources = append(sources, secrets.NewFileVault(cfg.Secrets.VaultFile))
	}
	sources = append(sources, secrets.NewEnvSource(cfg.Secrets.EnvPrefix))

	return secrets.NewResolver(secrets.ResolverConfig{CacheTTL: cfg.Secrets.CacheTTL}, sources...)
}

func descriptors(cfg *config.Config) map[string]router.Descriptor {
	out := make(map[string]router.Descriptor, len(cfg.Providers))
	for id, pc := range cfg.Providers {
		out[id] = router.Descriptor{
			Type:     pc.Type,
			Secret:   pc.Secret,
			Endpoint: pc.Endpoint,
			Model:    pc.Model,
		}
	}
	return out
}

// seedChains builds the fallback chain for an intent from the chains
// section of the current configuration. Providers named there but not
// declared under providers are kept as unconfigured so the decision trace
// shows why they were skipped.
func seedChains(current func() *config.Config) authority.SeedFunc {
	return func(intent string) *store.ProviderChain {
		cfg := current()
		ids := cfg.SeedChain(intent)
		if len(ids) == 0 {
			return nil
		}
		return chainFor(cfg, intent, ids)
	}
}

func chainFor(cfg *config.Config, intent string, ids []string) *store.ProviderChain {
	chain := &store.ProviderChain{Intent: intent}
	for i, id := range ids {
		pc, configured := cfg.Providers[id]
		d := store.ProviderDescriptor{
			ID:         id,
			Kind:       types.ProviderCloud,
			Order:      i,
			ModelHint:  pc.Model,
			Configured: configured,
			Status:     types.ProviderConfigured,
		}
		if pc.Type == provider.TypeLocal {
			d.Kind = types.ProviderLocal
		}
		chain.Providers = append(chain.Providers, d)
	}
	return chain
}

func sortedProviderIDs(providers map[string]config.ProviderConfig) []string {
	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
