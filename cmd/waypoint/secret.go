// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waypoint-dev/waypoint/internal/provider"
	"github.com/waypoint-dev/waypoint/internal/secrets"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute a mock implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

// keyringService is the keyring service under which credentials are kept.
func keyringService() string {
	if s := viper.GetString("secrets.keyring_service"); s != "" {
		return s
	}
	return "waypoint"
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage provider credentials in the OS keyring",
		Long:  "Store, list and delete the credentials that providers reference through their 'secret' setting.",
	}

	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret, reading the value from stdin",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
	set.Flags().Bool("validate", false, "check the key against the provider API before storing it")
	set.Flags().String("type", "", "provider type used by --validate (default: the provider whose secret is <name>)")

	cmd.AddCommand(
		set,
		&cobra.Command{
			Use:   "list",
			Short: "List all stored secret names",
			RunE:  runSecretList,
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a secret by name",
			Args:  cobra.ExactArgs(1),
			RunE:  runSecretDelete,
		},
	)

	return cmd
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	value := strings.TrimSpace(line)
	if value == "" {
		if err != nil {
			return wperr.Errorf(wperr.CodeSecretInvalidInput, "reading secret value from stdin: %w", err)
		}
		return wperr.New(wperr.CodeSecretInvalidInput, "secret value must not be empty")
	}

	if validate, _ := cmd.Flags().GetBool("validate"); validate {
		typ, _ := cmd.Flags().GetString("type")
		if typ == "" {
			typ = providerTypeForSecret(name)
		}
		if typ == "" {
			return wperr.Errorf(wperr.CodeCLIInputInvalid, "no provider uses secret %q; pass --type to validate", name)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if err := provider.ValidateKey(ctx, defaultHTTPClient, typ, value, ""); err != nil {
			return err
		}
	}

	if err := secretStoreFactory().Store(keyringService(), name, value); err != nil {
		return wperr.Errorf(wperr.CodeSecretStoreFailure, "storing secret %q: %w", name, err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s\n", name)
	return nil
}

// providerTypeForSecret returns the type of the first configured provider
// whose credential is name.
func providerTypeForSecret(name string) string {
	cfg, err := loadConfig()
	if err != nil {
		return ""
	}
	for _, id := range sortedProviderIDs(cfg.Providers) {
		if pc := cfg.Providers[id]; pc.Secret == name {
			return pc.Type
		}
	}
	return ""
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := secretStoreFactory().List(keyringService())
	if err != nil {
		return wperr.Errorf(wperr.CodeSecretListFailure, "listing secrets: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := secretStoreFactory().Delete(keyringService(), name); err != nil {
		if wperr.HasCode(err, wperr.CodeSecretNotFound) {
			return wperr.Errorf(wperr.CodeSecretNotFound, "secret %q not found", name)
		}
		return wperr.Errorf(wperr.CodeSecretDeleteFailure, "deleting secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
