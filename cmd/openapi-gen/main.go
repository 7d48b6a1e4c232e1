// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/waypoint-dev/waypoint/internal/authority"
	"github.com/waypoint-dev/waypoint/internal/hopguard"
	"github.com/waypoint-dev/waypoint/internal/server"
	"github.com/waypoint-dev/waypoint/internal/store"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI document huma builds from the request and response types.
func generateSpec() ([]byte, error) {
	guard, err := hopguard.New(hopguard.DefaultMaxHops)
	if err != nil {
		return nil, err
	}

	// Handlers are never invoked during spec generation.
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, server.Deps{
		Authority: stubAuthority{},
		Guard:     guard,
		Traces:    discardTraces{},
	})
	if err != nil {
		return nil, wperr.Errorf(wperr.CodeCLISetupFailure, "creating server: %w", err)
	}

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

type stubAuthority struct{}

func (stubAuthority) Chain(context.Context, string) authority.ChainResult {
	return authority.ChainResult{}
}
func (stubAuthority) Ping(context.Context) error { return nil }

type discardTraces struct{}

func (discardTraces) Record(*store.DecisionTrace) {}
