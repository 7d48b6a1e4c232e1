// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package hopguard_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waypoint-dev/waypoint/internal/hopguard"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

func TestGuard_Admit(t *testing.T) {
	g, err := hopguard.New(hopguard.DefaultMaxHops)
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantHops int
		wantCode wperr.Code
	}{
		{name: "absent header starts at zero", header: "", wantHops: 1},
		{name: "below max", header: "2", wantHops: 3},
		{name: "exactly max accepted", header: "3", wantHops: 4},
		{name: "max plus one rejected", header: "4", wantCode: wperr.CodeServerLoopDetected},
		{name: "far above max rejected", header: "99", wantCode: wperr.CodeServerLoopDetected},
		{name: "whitespace tolerated", header: " 1 ", wantHops: 2},
		{name: "non numeric", header: "three", wantCode: wperr.CodeServerRequestInvalid},
		{name: "negative", header: "-1", wantCode: wperr.CodeServerRequestInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hops, err := g.Admit(tt.header)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, wperr.HasCode(err, tt.wantCode))
				assert.Equal(t, 400, wperr.HTTPStatus(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHops, hops)
		})
	}
}

func TestNew_RejectsNegativeMax(t *testing.T) {
	_, err := hopguard.New(-1)
	require.Error(t, err)
}

func TestOutbound_StampsHeader(t *testing.T) {
	var got string
	next := func(r *http.Request) (*http.Response, error) {
		got = r.Header.Get(hopguard.Header)
		return &http.Response{StatusCode: http.StatusOK}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "http://peer/chat", nil)
	_, err := hopguard.Outbound(req, next)
	require.NoError(t, err)
	assert.Empty(t, got, "no counter in context")

	req = req.WithContext(hopguard.WithHops(context.Background(), 2))
	_, err = hopguard.Outbound(req, next)
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestTransport_StampsHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(hopguard.Header)
	}))
	defer srv.Close()

	client := &http.Client{Transport: &hopguard.Transport{}}
	req, err := http.NewRequestWithContext(hopguard.WithHops(context.Background(), 3), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "3", got)
}
