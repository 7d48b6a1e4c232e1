// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/waypoint-dev/waypoint/internal/server"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		Long:  "Query the running gateway's /health endpoint and display its dependencies and provider chain.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "", "gateway address to check (default: networking.listen)")

	return cmd
}

// gatewayAddress returns the --address flag, falling back to the configured
// listen address.
func gatewayAddress(cmd *cobra.Command) string {
	if addr, _ := cmd.Flags().GetString("address"); addr != "" {
		return addr
	}
	return viper.GetString("networking.listen")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr := gatewayAddress(cmd)
	out := cmd.OutOrStdout()

	var body server.HealthBody
	if err := newGatewayClient(addr).getJSON("/health", &body); err != nil {
		if wperr.HasCode(err, wperr.CodeCLIGatewayNotRunning) {
			_, _ = fmt.Fprintf(out, "Gateway at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Gateway at %s: %s\n", addr, err)
		return nil
	}

	_, _ = fmt.Fprintf(out, "Gateway at %s: %s\n", addr, body.Status)
	if body.Message != "" {
		_, _ = fmt.Fprintf(out, "  %s\n", body.Message)
	}

	chain := body.Chain
	line := fmt.Sprintf("Chain %q: %d provider(s) from %s", chain.Intent, chain.Providers, chain.Source)
	if chain.Stale {
		line += fmt.Sprintf(" (stale, %dms old)", chain.AgeMS)
	}
	_, _ = fmt.Fprintln(out, line)

	names := make([]string, 0, len(body.Services))
	for name := range body.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		svc := body.Services[name]
		_, _ = fmt.Fprintf(out, "  %-24s %s\n", name, svc.Status)
	}
	return nil
}
