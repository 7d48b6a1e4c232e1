// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/waypoint-dev/waypoint/internal/config"
	"github.com/waypoint-dev/waypoint/internal/store"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// openStore opens the configured authoritative store for operator commands.
func openStore(cfg *config.Config, dataDir string) (store.Admin, error) {
	st, err := store.NewAuthority(&store.StorageConfig{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
	}, dataDir)
	if err != nil {
		return nil, wperr.Wrapf(err, wperr.CodeCLISetupFailure, "opening authoritative store")
	}
	return st, nil
}

func newChainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Inspect and publish provider chains",
		Long:  "Read and write the provider chains held by the authoritative store. Running gateways pick up changes on their next refresh.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show [intent]",
			Short: "Show the provider chain for an intent",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runChainShow,
		},
		&cobra.Command{
			Use:   "set <intent> <provider>...",
			Short: "Publish the ordered provider chain for an intent",
			Args:  cobra.MinimumNArgs(2),
			RunE:  runChainSet,
		},
		&cobra.Command{
			Use:   "disable <provider>",
			Short: "Disable a provider in every chain via its feature flag",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return setProviderFlag(cmd, args[0], false) },
		},
		&cobra.Command{
			Use:   "enable <provider>",
			Short: "Re-enable a provider disabled with 'chain disable'",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return setProviderFlag(cmd, args[0], true) },
		},
	)

	return cmd
}

func runChainShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	intent := cfg.Router.DefaultIntent
	if len(args) == 1 {
		intent = args[0]
	}

	st, err := openStore(cfg, resolveDataDir())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	out := cmd.OutOrStdout()
	source := "store"
	chain, err := st.GetProviderChain(cmd.Context(), intent)
	switch {
	case wperr.IsNotFound(err):
		ids := cfg.SeedChain(intent)
		if len(ids) == 0 {
			_, _ = fmt.Fprintf(out, "No chain for intent %q in the store or the config.\n", intent)
			return nil
		}
		chain = chainFor(cfg, intent, ids)
		source = "config seed"
	case err != nil:
		return err
	}

	flags, err := st.GetFeatureFlags(cmd.Context())
	if err != nil {
		return err
	}

	header := fmt.Sprintf("Chain %q (%s", intent, source)
	if !chain.UpdatedAt.IsZero() {
		header += ", updated " + chain.UpdatedAt.Format(time.RFC3339)
	}
	_, _ = fmt.Fprintln(out, header+")")

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ORDER\tPROVIDER\tKIND\tSTATUS\tCONFIGURED\tENABLED\tMODEL")
	for _, d := range chain.Providers {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%t\t%s\n",
			d.Order, d.ID, d.Kind, d.Status, d.Configured,
			flags.Enabled(store.ProviderFlag(d.ID), true), d.ModelHint)
	}
	return tw.Flush()
}

func runChainSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	intent, ids := args[0], args[1:]

	chain := chainFor(cfg, intent, ids)
	chain.UpdatedAt = time.Now().UTC()
	for _, d := range chain.Providers {
		if !d.Configured {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: provider %q is not declared under providers and will be skipped\n", d.ID)
		}
	}

	st, err := openStore(cfg, resolveDataDir())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.PutProviderChain(cmd.Context(), chain); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Published chain %q with %d provider(s).\n", intent, len(chain.Providers))
	return nil
}

func setProviderFlag(cmd *cobra.Command, id string, enabled bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, resolveDataDir())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.SetFeatureFlag(cmd.Context(), store.ProviderFlag(id), enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Provider %s %s.\n", id, state)
	return nil
}
