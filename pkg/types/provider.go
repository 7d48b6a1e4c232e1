// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package types

// ProviderKind distinguishes network-backed providers from the in-process responder.
type ProviderKind string

const (
	ProviderCloud ProviderKind = "cloud"
	ProviderLocal ProviderKind = "local"
)

func (k ProviderKind) Valid() bool {
	return k == ProviderCloud || k == ProviderLocal
}

// ProviderStatus is the availability a chain entry was published with.
type ProviderStatus string

const (
	ProviderConfigured  ProviderStatus = "configured"
	ProviderAvailable   ProviderStatus = "available"
	ProviderUnavailable ProviderStatus = "unavailable"
)

func (s ProviderStatus) Valid() bool {
	switch s {
	case ProviderConfigured, ProviderAvailable, ProviderUnavailable:
		return true
	default:
		return false
	}
}

// ErrorClass is the failure taxonomy shared by the router, traces and telemetry.
type ErrorClass string

const (
	ErrorNone             ErrorClass = ""
	ErrorRetryable        ErrorClass = "retryable_provider_error"
	ErrorFatal            ErrorClass = "fatal_provider_error"
	ErrorStoreUnavailable ErrorClass = "store_unavailable"
	ErrorLoopDetected     ErrorClass = "loop_detected"
	ErrorRateLimited      ErrorClass = "rate_limited"
	ErrorCancelled        ErrorClass = "cancelled"
)
