// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package telemetry owns the gateway's Prometheus registry and OpenTelemetry
// tracer setup. Every recording method is safe on a nil *Metrics so
// components can run without telemetry in tests.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "waypoint"

// Metrics holds every collector the gateway exports.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	providerErrors  *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	droppedTraces   prometheus.Counter
	rejections      *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	healthChanges   *prometheus.CounterVec
	authorityStale  prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Routed requests by terminal outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider attempts by result.",
		}, []string{"provider", "result"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider failures by error class.",
		}, []string{"provider", "class"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Latency of provider attempts.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"provider"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_total",
			Help:      "Requests answered by the local fallback, by reason.",
		}, []string{"reason"}),
		droppedTraces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_trace_total",
			Help:      "Decision traces discarded because the buffer was full or the store rejected them.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_requests_total",
			Help:      "Requests refused before routing, by policy.",
		}, []string{"policy"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_open",
			Help:      "1 while a provider's circuit breaker is open or half-open.",
		}, []string{"provider", "state"}),
		healthChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_transitions_total",
			Help:      "Health state transitions by entity kind and target state.",
		}, []string{"kind", "to"}),
		authorityStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authority_cache_stale",
			Help:      "1 while the config client is serving cached or last-known-good data.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.attempts,
		m.providerErrors,
		m.providerLatency,
		m.fallbacks,
		m.droppedTraces,
		m.rejections,
		m.breakerState,
		m.healthChanges,
		m.authorityStale,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

// ObserveAttempt records one provider attempt and its latency.
func (m *Metrics) ObserveAttempt(provider, result string, latency time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(provider, result).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (m *Metrics) ObserveProviderError(provider, class string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, class).Inc()
}

func (m *Metrics) ObserveFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

// TracesDropped adds n to the dropped-trace counter.
func (m *Metrics) TracesDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedTraces.Add(float64(n))
}

func (m *Metrics) ObserveRejection(policy string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(policy).Inc()
}

// SetBreakerState marks provider's breaker as being in state. Other states
// for the same provider are reset to zero.
func (m *Metrics) SetBreakerState(provider string, state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.breakerState.WithLabelValues(provider, s).Set(v)
	}
}

func (m *Metrics) ObserveHealthTransition(kind, to string) {
	if m == nil {
		return
	}
	m.healthChanges.WithLabelValues(kind, to).Inc()
}

func (m *Metrics) SetAuthorityStale(stale bool) {
	if m == nil {
		return
	}
	if stale {
		m.authorityStale.Set(1)
		return
	}
	m.authorityStale.Set(0)
}
