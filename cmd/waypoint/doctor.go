// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/waypoint-dev/waypoint/internal/config"
	"github.com/waypoint-dev/waypoint/internal/provider"
	"github.com/waypoint-dev/waypoint/internal/server"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the binary, gateway, configuration, authoritative store, provider credentials and disk space.",
		RunE:  runDoctor,
	}

	cmd.Flags().String("address", "", "gateway address to check (default: networking.listen)")

	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	addr := gatewayAddress(cmd)
	dataDir := resolveDataDir()

	cfg, cfgErr := loadConfig()

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Gateway", func() string { return checkGateway(addr) }},
		{"Config", func() string { return checkConfig(cfgErr) }},
		{"Store", func() string { return checkStore(cmd.Context(), cfg, dataDir) }},
		{"Credentials", func() string { return checkCredentials(cmd.Context(), cfg) }},
		{"Disk Space", func() string { return checkDiskSpace(dataDir) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("waypoint %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkGateway(addr string) string {
	var body server.HealthBody
	if err := newGatewayClient(addr).getJSON("/health", &body); err != nil {
		if wperr.HasCode(err, wperr.CodeCLIGatewayNotRunning) {
			return fmt.Sprintf("not running at %s (run 'waypoint start')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	if body.Message != "" {
		return fmt.Sprintf("%s at %s: %s", body.Status, addr, body.Message)
	}
	return fmt.Sprintf("%s at %s", body.Status, addr)
}

func checkConfig(loadErr error) string {
	if loadErr != nil {
		return fmt.Sprintf("invalid: %s", loadErr)
	}
	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		return fmt.Sprintf("loaded from %s", cfgFile)
	}
	return "using defaults (no config file found)"
}

func checkStore(ctx context.Context, cfg *config.Config, dataDir string) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	st, err := openStore(cfg, dataDir)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	defer func() { _ = st.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		return fmt.Sprintf("unreachable: %s", err)
	}

	intent := cfg.Router.DefaultIntent
	chain, err := st.GetProviderChain(pingCtx, intent)
	switch {
	case wperr.IsNotFound(err):
		return fmt.Sprintf("%s reachable, no %q chain published (seed chain applies)", cfg.Storage.Backend, intent)
	case err != nil:
		return fmt.Sprintf("%s reachable, reading chain: %s", cfg.Storage.Backend, err)
	}
	return fmt.Sprintf("%s reachable, %q chain has %d provider(s)", cfg.Storage.Backend, intent, len(chain.Providers))
}

// checkCredentials reports where each provider's credential resolves from.
// Values are never printed.
func checkCredentials(ctx context.Context, cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	resolver := newResolver(cfg)

	var parts []string
	for _, id := range sortedProviderIDs(cfg.Providers) {
		pc := cfg.Providers[id]
		if pc.Type == provider.TypeLocal {
			parts = append(parts, id+"=n/a")
			continue
		}
		res := resolver.Resolve(ctx, pc.Secret)
		if !res.Found {
			parts = append(parts, id+"=missing")
			continue
		}
		parts = append(parts, id+"="+string(res.Source))
	}
	if len(parts) == 0 {
		return "no providers configured"
	}
	return strings.Join(parts, " ")
}

func checkDiskSpace(dataDir string) string {
	path := dataDir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to home directory if data dir doesn't exist yet.
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
