// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// ---------------------------------------------------------------------------
// New / Errorf
// ---------------------------------------------------------------------------

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := wperr.New(
		wperr.CodeConfigValidateInvalidValue,
		"invalid breaker configuration",
		wperr.FieldProvider("openai"),
		wperr.Field("key", "breaker.failure_threshold"),
	)

	require.Error(t, err)
	assert.Equal(t, wperr.CodeConfigValidateInvalidValue, wperr.CodeOf(err))
	assert.True(t, wperr.HasCode(err, wperr.CodeConfigValidateInvalidValue))

	fields := wperr.FieldsOf(err)
	assert.Equal(t, "openai", fields["provider"])
	assert.Equal(t, "breaker.failure_threshold", fields["key"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := wperr.Errorf(wperr.CodeStoreDatabaseFailure, "write failed: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, wperr.CodeStoreDatabaseFailure, wperr.CodeOf(err))
	assert.Contains(t, err.Error(), "write failed")
}

// ---------------------------------------------------------------------------
// Wrap / Wrapf / With
// ---------------------------------------------------------------------------

func TestWrapPreservesWrappedErrorAndCode(t *testing.T) {
	root := stderrors.New("no rows")
	err := wperr.Wrap(root, wperr.CodeStoreChainNotFound, "loading chain", wperr.FieldIntent("chat"))

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.True(t, wperr.IsNotFound(err))
	assert.Equal(t, "chat", wperr.FieldsOf(err)["intent"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, wperr.Wrap(nil, wperr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, wperr.Wrapf(nil, wperr.CodeServerInternalFailure, "ignored %s", "arg"))
	assert.NoError(t, wperr.With(nil, wperr.FieldEntity("x")))
}

func TestWithAddsContextWithoutChangingCode(t *testing.T) {
	base := wperr.New(wperr.CodeProviderUpstreamTimeout, "deadline")
	withCtx := wperr.With(base, wperr.FieldTraceID("t-1"))

	assert.Equal(t, wperr.CodeProviderUpstreamTimeout, wperr.CodeOf(withCtx))
	assert.Equal(t, "t-1", wperr.FieldsOf(withCtx)["trace_id"])
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	enriched := wperr.With(stderrors.New("something broke"), wperr.FieldEntity("node-a"))
	assert.Equal(t, wperr.CodeServerInternalFailure, wperr.CodeOf(enriched))
}

func TestCodeOfReturnsInnermostCodedError(t *testing.T) {
	inner := wperr.New(wperr.CodeProviderAuthUnauthorized, "bad key")
	outer := wperr.Wrap(inner, wperr.CodeServerInternalFailure, "handler")
	assert.Equal(t, wperr.CodeProviderAuthUnauthorized, wperr.CodeOf(outer))
}

func TestErrorIsThroughFmtWrap(t *testing.T) {
	sentinel := stderrors.New("root cause")
	outer := wperr.Wrap(fmt.Errorf("mid: %w", sentinel), wperr.CodeServerInternalFailure, "handler")
	assert.ErrorIs(t, outer, sentinel)
}

func TestFieldsWithEmptyKeyAreIgnored(t *testing.T) {
	err := wperr.New(wperr.CodeStoreDatabaseFailure, "oops",
		wperr.Field("", "dropped"),
		wperr.FieldProvider("kept"),
	)
	fields := wperr.FieldsOf(err)
	assert.Equal(t, "kept", fields["provider"])
	assert.NotContains(t, fields, "")
}

// ---------------------------------------------------------------------------
// Classification helpers
// ---------------------------------------------------------------------------

func TestClassificationAndStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   wperr.Code
		status int
		check  func(error) bool
	}{
		{name: "chain not found", code: wperr.CodeStoreChainNotFound, status: 404, check: wperr.IsNotFound},
		{name: "secret not found", code: wperr.CodeSecretNotFound, status: 404, check: wperr.IsNotFound},
		{name: "invalid value", code: wperr.CodeConfigValidateInvalidValue, status: 400, check: wperr.IsInvalidInput},
		{name: "invalid format", code: wperr.CodeConfigParseInvalidFormat, status: 400, check: wperr.IsInvalidInput},
		{name: "loop detected", code: wperr.CodeServerLoopDetected, status: 400, check: func(err error) bool {
			return wperr.HasCode(err, wperr.CodeServerLoopDetected)
		}},
		{name: "auth", code: wperr.CodeProviderAuthUnauthorized, status: 401, check: wperr.IsUnauthorized},
		{name: "caller rate limit", code: wperr.CodeServerRateLimitExceeded, status: 429, check: wperr.IsRateLimited},
		{name: "provider rate limit", code: wperr.CodeProviderUpstreamRateLimited, status: 429, check: wperr.IsRateLimited},
		{name: "timeout", code: wperr.CodeProviderUpstreamTimeout, status: 504, check: wperr.IsTimeout},
		{name: "store unavailable", code: wperr.CodeStoreAuthorityUnavailable, status: 503, check: wperr.IsUnavailable},
		{name: "upstream failure", code: wperr.CodeProviderUpstreamFailure, status: 502, check: wperr.IsUpstreamFailure},
		{name: "internal", code: wperr.CodeServerInternalFailure, status: 500, check: func(err error) bool { return !wperr.IsNotFound(err) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wperr.New(tt.code, "boom")
			assert.Equal(t, tt.status, wperr.HTTPStatus(err))
			assert.True(t, tt.check(err))
		})
	}
}

func TestClassificationOnNilAndPlainErrors(t *testing.T) {
	for _, err := range []error{nil, stderrors.New("plain")} {
		assert.False(t, wperr.IsNotFound(err))
		assert.False(t, wperr.IsInvalidInput(err))
		assert.False(t, wperr.IsUnauthorized(err))
		assert.False(t, wperr.IsRateLimited(err))
		assert.False(t, wperr.IsTimeout(err))
		assert.False(t, wperr.IsUnavailable(err))
		assert.False(t, wperr.IsUpstreamFailure(err))
		assert.Equal(t, http.StatusInternalServerError, wperr.HTTPStatus(err))
	}
}

func TestRateLimitedIsNotUpstreamFailure(t *testing.T) {
	err := wperr.New(wperr.CodeProviderUpstreamRateLimited, "slow down")
	assert.False(t, wperr.IsUpstreamFailure(err))
}

// ---------------------------------------------------------------------------
// Join
// ---------------------------------------------------------------------------

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("first")
	b := stderrors.New("second")
	joined := wperr.Join(a, b)

	require.Error(t, joined)
	assert.ErrorIs(t, joined, a)
	assert.ErrorIs(t, joined, b)
	assert.Equal(t, wperr.CodeServerInternalFailure, wperr.CodeOf(joined))
}

func TestJoinOfNilsIsNil(t *testing.T) {
	assert.NoError(t, wperr.Join(nil, nil))
}
