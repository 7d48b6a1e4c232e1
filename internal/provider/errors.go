// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

// StatusError converts an upstream HTTP status into a coded error.
func StatusError(name string, status int, err error) error {
	var code wperr.Code
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = wperr.CodeProviderAuthUnauthorized
	case status == http.StatusNotFound:
		code = wperr.CodeProviderConfigInvalid
	case status == http.StatusTooManyRequests:
		code = wperr.CodeProviderUpstreamRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = wperr.CodeProviderUpstreamTimeout
	case status >= 500:
		code = wperr.CodeProviderUpstreamFailure
	case status >= 400:
		code = wperr.CodeProviderRequestInvalid
	default:
		code = wperr.CodeProviderUpstreamFailure
	}
	return wperr.Wrap(err, code, name+": upstream returned an error",
		wperr.FieldProvider(name), wperr.Field("status", status))
}

// TransportError converts an error that carries no HTTP status, such as a
// dial failure or deadline, into a coded error.
func TransportError(name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err):
		return wperr.Wrap(err, wperr.CodeProviderUpstreamTimeout, name+": request timed out", wperr.FieldProvider(name))
	case errors.Is(err, syscall.ECONNREFUSED):
		return wperr.Wrap(err, wperr.CodeProviderConnectionRefused, name+": connection refused", wperr.FieldProvider(name))
	default:
		return wperr.Wrap(err, wperr.CodeProviderUpstreamFailure, name+": request failed", wperr.FieldProvider(name))
	}
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Classify maps a provider error onto the failure taxonomy. Timeouts, 5xx,
// rate limiting, refused connections and malformed responses are
// retryable; authentication and configuration failures are fatal.
func Classify(err error) types.ErrorClass {
	if err == nil {
		return types.ErrorNone
	}
	if errors.Is(err, context.Canceled) {
		return types.ErrorCancelled
	}

	switch wperr.CodeOf(err) {
	case wperr.CodeProviderAuthUnauthorized,
		wperr.CodeProviderConfigInvalid,
		wperr.CodeProviderRequestInvalid,
		wperr.CodeProviderCredentialAbsent:
		return types.ErrorFatal
	case wperr.CodeProviderUpstreamFailure,
		wperr.CodeProviderUpstreamTimeout,
		wperr.CodeProviderUpstreamRateLimited,
		wperr.CodeProviderResponseInvalid,
		wperr.CodeProviderConnectionRefused:
		return types.ErrorRetryable
	}

	// Uncoded errors (dial failures, deadlines, decode errors) are retryable.
	return types.ErrorRetryable
}

// IsConnectionRefused reports whether err means the backend is not
// listening at all. Such failures take a provider straight to DOWN.
func IsConnectionRefused(err error) bool {
	return wperr.HasCode(err, wperr.CodeProviderConnectionRefused) || errors.Is(err, syscall.ECONNREFUSED)
}
