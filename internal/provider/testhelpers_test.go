// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package provider_test

import (
	"context"
	"sync/atomic"

	"github.com/waypoint-dev/waypoint/internal/provider"
)

// fakeProvider implements provider.Provider for registry tests.
type fakeProvider struct {
	name   string
	key    string
	closed atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, _ provider.ChatRequest) (*provider.Completion, error) {
	return &provider.Completion{Content: "ok:" + f.name}, nil
}

func (f *fakeProvider) Close() error {
	f.closed.Add(1)
	return nil
}

// countingBuilder returns a Builder that records every provider it builds.
func countingBuilder(built *[]*fakeProvider) provider.Builder {
	return func(cfg provider.Config) (provider.Provider, error) {
		p := &fakeProvider{name: cfg.ID, key: cfg.APIKey}
		*built = append(*built, p)
		return p, nil
	}
}
