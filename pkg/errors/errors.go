// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreDatabaseFailure      Code = "store.database.failure"
	CodeStoreBackendUnsupported   Code = "store.backend.unsupported"
	CodeStoreInvalidInput         Code = "store.invalid_input"
	CodeStoreChainNotFound        Code = "store.chain.get.not_found"
	CodeStoreAuthorityUnavailable Code = "store.authority.unavailable"
	CodeStoreAuthorityTimeout     Code = "store.authority.timeout"
	CodeStoreSnapshotFailure      Code = "store.snapshot.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretInvalidInput   Code = "secret.input.invalid"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretListFailure    Code = "secret.list.failure"
	CodeSecretDeleteFailure  Code = "secret.delete.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"
	CodeSecretVaultInvalid   Code = "secret.vault.invalid_format"

	CodeProviderRequestInvalid      Code = "provider.request.invalid"
	CodeProviderResponseInvalid     Code = "provider.response.invalid"
	CodeProviderUpstreamFailure     Code = "provider.upstream.failure"
	CodeProviderUpstreamTimeout     Code = "provider.upstream.timeout"
	CodeProviderUpstreamRateLimited Code = "provider.upstream.rate_limited"
	CodeProviderAuthUnauthorized    Code = "provider.auth.unauthorized"
	CodeProviderConfigInvalid       Code = "provider.config.invalid"
	CodeProviderConnectionRefused   Code = "provider.connection.refused"
	CodeProviderNotFound            Code = "provider.registry.not_found"
	CodeProviderCredentialAbsent    Code = "provider.credential.not_found"
	CodeProviderAllUnavailable      Code = "provider.routing.all_unavailable"

	CodeHealthTransitionInvalid Code = "health.transition.invalid"
	CodeHealthEntityNotFound    Code = "health.entity.not_found"

	CodeServerRequestInvalid    Code = "server.request.invalid"
	CodeServerLoopDetected      Code = "server.request.loop_detected"
	CodeServerRateLimitExceeded Code = "server.ratelimit.exceeded"
	CodeServerInternalFailure   Code = "server.internal.failure"
	CodeServerConfigInvalid     Code = "server.config.invalid"
	CodeServerStartFailure      Code = "server.start.failure"
	CodeServerShutdownFailure   Code = "server.shutdown.failure"
	CodeServerRouterUnavailable Code = "server.router.unavailable"

	CodeCLIGatewayNotRunning Code = "cli.gateway.not_running"
	CodeCLIRequestFailure    Code = "cli.request.failure"
	CodeCLIResponseInvalid   Code = "cli.response.invalid"
	CodeCLISetupFailure      Code = "cli.setup.failure"
	CodeCLIInputInvalid      Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldIntent(value string) Attr {
	return Field("intent", value)
}

func FieldEntity(value string) Attr {
	return Field("entity", value)
}

func FieldTraceID(value string) Attr {
	return Field("trace_id", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden"
}

func IsRateLimited(err error) bool {
	r := reason(CodeOf(err))
	return r == "rate_limited" || r == "exceeded"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case HasCode(err, CodeServerLoopDetected):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		if reason(CodeOf(err)) == "forbidden" {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case IsRateLimited(err):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeServerInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
