// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/waypoint-dev/waypoint/internal/config"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// NewRootCmd creates the root waypoint command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "waypoint",
		Short:         "Waypoint: resilient LLM gateway",
		Long:          "Waypoint routes chat requests across a chain of LLM providers and keeps answering when they fail.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initViper(cmd); err != nil {
				return err
			}
			initLogging(cmd)
			return nil
		},
	}

	// Global flags; these map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newInitCmd(),
		newStartCmd(),
		newStatusCmd(),
		newVersionCmd(),
		newDoctorCmd(),
		newSecretCmd(),
		newChainCmd(),
		newTracesCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return wperr.Errorf(wperr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is omitted on purpose: with it, Viper also tries the
		// bare name, which collides with a ./waypoint binary.
		v.SetConfigName("waypoint")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/waypoint")
		v.AddConfigPath("/etc/waypoint")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return wperr.Errorf(wperr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return wperr.Errorf(wperr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}

	if path := v.ConfigFileUsed(); path != "" {
		config.WarnInsecurePermissions(path)
	}

	if err := v.BindPFlag("data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return wperr.Errorf(wperr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return wperr.Errorf(wperr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}

// initLogging installs a text handler on stderr; --verbose lowers the level
// to debug.
func initLogging(cmd *cobra.Command) {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}

// loadConfig decodes the configuration resolved by initViper.
func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}

// resolveDataDir returns the data directory from viper or ~/.waypoint.
func resolveDataDir() string {
	if dataDir := viper.GetString("data_dir"); dataDir != "" {
		return dataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".waypoint"
	}
	return filepath.Join(home, ".waypoint")
}
