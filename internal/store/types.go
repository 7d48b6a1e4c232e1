// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package store

import (
	"time"

	"github.com/waypoint-dev/waypoint/pkg/types"
)

// ProviderDescriptor is one entry of a provider chain.
type ProviderDescriptor struct {
	ID         string               `json:"id"`
	Kind       types.ProviderKind   `json:"kind"`
	Order      int                  `json:"order"`
	ModelHint  string               `json:"model_hint,omitempty"`
	Configured bool                 `json:"configured"`
	Status     types.ProviderStatus `json:"status"`
}

// Eligible reports whether the descriptor may be attempted at all.
func (d ProviderDescriptor) Eligible() bool {
	return d.Configured && d.Status != types.ProviderUnavailable
}

// ProviderChain is the ordered list of providers to attempt for an intent.
type ProviderChain struct {
	Intent    string               `json:"intent"`
	Providers []ProviderDescriptor `json:"providers"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// FeatureFlags maps flag names to their enabled state.
type FeatureFlags map[string]bool

// Enabled returns the flag value, or def when the flag is unset.
func (f FeatureFlags) Enabled(name string, def bool) bool {
	if v, ok := f[name]; ok {
		return v
	}
	return def
}

// ProviderFlag names the feature flag that enables or disables a provider.
func ProviderFlag(id string) string {
	return "provider." + id + ".enabled"
}

// HealthReport is the store's latest observation of a node or component.
type HealthReport struct {
	Entity     string            `json:"entity"`
	Kind       string            `json:"kind"`
	Status     types.HealthState `json:"status"`
	Detail     string            `json:"detail,omitempty"`
	ObservedAt time.Time         `json:"observed_at"`
}

// AttemptResult is what happened to one provider during routing.
type AttemptResult string

const (
	AttemptSuccess        AttemptResult = "success"
	AttemptRetryableError AttemptResult = "retryable_error"
	AttemptFatalError     AttemptResult = "fatal_error"
	AttemptSkipped        AttemptResult = "skipped"
	AttemptCancelled      AttemptResult = "cancelled"
)

// Attempt records one provider considered for a request, in chain order.
type Attempt struct {
	Provider   string           `json:"provider"`
	Result     AttemptResult    `json:"result"`
	ErrorClass types.ErrorClass `json:"error_class,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	LatencyMS  int64            `json:"latency_ms"`
}

// DecisionTrace is the immutable audit record of a single decision.
type DecisionTrace struct {
	ID             string             `json:"id"`
	Timestamp      time.Time          `json:"timestamp"`
	Type           types.DecisionType `json:"type"`
	CorrelationID  string             `json:"correlation_id,omitempty"`
	Policy         string             `json:"policy"`
	Inputs         map[string]any     `json:"inputs,omitempty"`
	Selected       string             `json:"selected"`
	FallbackChain  []Attempt          `json:"fallback_chain"`
	Outcome        types.Outcome      `json:"outcome"`
	FallbackReason string             `json:"fallback_reason,omitempty"`
	ErrorClass     types.ErrorClass   `json:"error_class,omitempty"`
	LatencyMS      int64              `json:"latency_ms"`
}

// TraceFilter specifies criteria for querying decision traces.
type TraceFilter struct {
	Type          types.DecisionType
	CorrelationID string
	Outcome       types.Outcome
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}
