// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package store

import (
	"context"
	"time"

	"github.com/waypoint-dev/waypoint/pkg/types"
)

// Authority is the authoritative store as seen by the gateway core: read
// queries for routing policy plus the append-only decision trace sink.
// Every method must honour ctx deadlines. AppendDecisionTrace is idempotent
// on DecisionTrace.ID.
type Authority interface {
	GetProviderChain(ctx context.Context, intent string) (*ProviderChain, error)
	GetFeatureFlags(ctx context.Context) (FeatureFlags, error)
	GetHealth(ctx context.Context) ([]*HealthReport, error)
	AppendDecisionTrace(ctx context.Context, trace *DecisionTrace) error
	Ping(ctx context.Context) error
	Close() error
}

// Admin extends Authority with the operator-facing writes and queries used
// by the CLI and by retention.
type Admin interface {
	Authority

	PutProviderChain(ctx context.Context, chain *ProviderChain) error
	SetFeatureFlag(ctx context.Context, name string, enabled bool) error
	PutHealthReport(ctx context.Context, report *HealthReport) error
	QueryDecisionTraces(ctx context.Context, filter TraceFilter) ([]*DecisionTrace, error)

	// PurgeDecisionTraces deletes traces of the given type recorded before
	// olderThan and returns how many were removed.
	PurgeDecisionTraces(ctx context.Context, decisionType types.DecisionType, olderThan time.Time) (int64, error)
}
