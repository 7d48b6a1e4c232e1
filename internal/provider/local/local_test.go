// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package local_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waypoint-dev/waypoint/internal/provider"
	"github.com/waypoint-dev/waypoint/internal/provider/local"
)

var _ provider.Provider = (*local.Responder)(nil)

func TestResponder_Name(t *testing.T) {
	assert.Equal(t, local.FallbackName, local.New(provider.Config{}).Name())
	assert.Equal(t, "edge", local.New(provider.Config{ID: "edge"}).Name())
}

func TestResponder_Deterministic(t *testing.T) {
	r := local.New(provider.Config{})
	req := provider.ChatRequest{Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: "hello"}}}

	a, err := r.Complete(context.Background(), req)
	require.NoError(t, err)
	b, err := r.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, local.DefaultMessage, a.Content)
	assert.Equal(t, local.FinishReason, a.FinishReason)
	require.NoError(t, provider.CheckCompletion(r.Name(), a))

	other := r.Reply(provider.ChatRequest{Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: "bye"}}})
	assert.NotEqual(t, a.ID, other.ID)
}

func TestResponder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := local.New(provider.Config{}).Complete(ctx, provider.ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}
