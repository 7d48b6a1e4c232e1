// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// TracerName is the instrumentation scope used by gateway spans.
const TracerName = "github.com/waypoint-dev/waypoint"

// Trace exporters accepted by InitTracing.
const (
	TracingNone   = "none"
	TracingStdout = "stdout"
)

// Tracer returns the gateway tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// InitTracing installs a global tracer provider for exporter. "none" leaves
// the no-op provider in place. The returned function flushes and stops the
// provider.
func InitTracing(exporter, version string, w io.Writer) (func(context.Context) error, error) {
	switch exporter {
	case "", TracingNone:
		return func(context.Context) error { return nil }, nil
	case TracingStdout:
	default:
		return nil, wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "unknown trace exporter: %q", exporter)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, wperr.Wrap(err, wperr.CodeServerStartFailure, "creating stdout trace exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "waypoint"),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
