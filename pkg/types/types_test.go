// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthState_Valid(t *testing.T) {
	for _, s := range []HealthState{HealthOK, HealthDegraded, HealthStale, HealthDown, HealthBlocked, HealthRecovering} {
		assert.True(t, s.Valid(), "state %q must be valid", s)
	}
	assert.False(t, HealthState("MAYBE").Valid())
}

func TestHealthState_Usable(t *testing.T) {
	tests := []struct {
		state HealthState
		want  bool
	}{
		{HealthOK, true},
		{HealthDegraded, true},
		{HealthStale, true},
		{HealthRecovering, true},
		{HealthDown, false},
		{HealthBlocked, false},
		{HealthState(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Usable())
		})
	}
}

func TestParseHealthState(t *testing.T) {
	got, err := ParseHealthState(" degraded ")
	require.NoError(t, err)
	assert.Equal(t, HealthDegraded, got)

	_, err = ParseHealthState("sideways")
	assert.Error(t, err)
}

func TestDecisionTypesAreValid(t *testing.T) {
	types := DecisionTypes()
	assert.Len(t, types, 3)
	for _, d := range types {
		assert.True(t, d.Valid())
	}
	assert.False(t, DecisionType("audit").Valid())
}

func TestOutcome_Valid(t *testing.T) {
	assert.True(t, OutcomeSuccess.Valid())
	assert.True(t, OutcomeFallback.Valid())
	assert.True(t, OutcomeFailure.Valid())
	assert.False(t, Outcome("cancelled").Valid())
}

func TestProviderEnums(t *testing.T) {
	assert.True(t, ProviderCloud.Valid())
	assert.True(t, ProviderLocal.Valid())
	assert.False(t, ProviderKind("edge").Valid())

	assert.True(t, ProviderUnavailable.Valid())
	assert.False(t, ProviderStatus("maybe").Valid())
}
