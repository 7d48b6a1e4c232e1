// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/waypoint-dev/waypoint/internal/config"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the waypoint gateway",
		Long:  "Load configuration, initialize all subsystems, and serve /chat, /health and /telemetry until interrupted.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	cmd.Flags().Bool("watch", true, "reload providers when the config file changes")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlag("networking.listen", cmd.Flags().Lookup("listen")); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := WireGateway(ctx, cfg, resolveDataDir(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			slog.Warn("closing gateway", "error", err)
		}
	}()

	if watch, _ := cmd.Flags().GetBool("watch"); watch && viper.ConfigFileUsed() != "" {
		watchConfig(ctx, gw)
	}

	slog.Info("starting waypoint",
		"listen", cfg.Networking.Listen,
		"providers", len(cfg.Providers),
		"version", version,
	)
	return serve(ctx, gw)
}

// serve runs the gateway's loops until ctx is cancelled or one of them
// fails. The trace writer is stopped last so traces recorded while the
// server drains are still flushed.
func serve(ctx context.Context, gw *Gateway) error {
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		_ = gw.Traces.Run(writerCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Server.Start(gctx) })
	g.Go(func() error { return gw.Health.Run(gctx) })
	g.Go(func() error { return gw.Authority.Run(gctx) })
	g.Go(func() error { return gw.Limiter.Run(gctx) })

	err := g.Wait()
	stopWriter()
	<-writerDone

	if err != nil {
		return err
	}
	slog.Info("waypoint stopped", "traces_written", gw.Traces.Written(), "traces_dropped", gw.Traces.Dropped())
	return nil
}

// watchConfig reloads provider settings when the config file changes. An
// invalid edit is logged and the running configuration is kept.
func watchConfig(ctx context.Context, gw *Gateway) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := config.FromViper(viper.GetViper())
		if err != nil {
			slog.Warn("ignoring invalid config change", "path", e.Name, "error", err)
			return
		}
		gw.Reload(ctx, cfg)
	})
	viper.WatchConfig()
}
