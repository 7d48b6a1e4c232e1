// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package types

// DecisionType classifies what kind of decision a trace records.
type DecisionType string

const (
	DecisionRouting  DecisionType = "routing"
	DecisionOpsQuery DecisionType = "ops_query"
	DecisionPolicy   DecisionType = "policy"
)

// Valid reports whether d is a known decision type.
func (d DecisionType) Valid() bool {
	switch d {
	case DecisionRouting, DecisionOpsQuery, DecisionPolicy:
		return true
	default:
		return false
	}
}

// DecisionTypes lists every decision type, in a stable order.
func DecisionTypes() []DecisionType {
	return []DecisionType{DecisionRouting, DecisionOpsQuery, DecisionPolicy}
}

// Outcome is the terminal result of a decision.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeFallback Outcome = "fallback"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeFallback:
		return true
	default:
		return false
	}
}
